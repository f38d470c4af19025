// Package ingest drives videos through the processing state machine:
// pending -> analyzing -> embedding -> indexed, with failed reachable
// from any non-terminal state. The whole per-video task is the retry
// unit; deterministic vector and clip ids make re-runs idempotent.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/clipmind/clipmind-server/internal/catalog"
	"github.com/clipmind/clipmind-server/internal/embedding"
	"github.com/clipmind/clipmind-server/internal/media"
	"github.com/clipmind/clipmind-server/internal/metrics"
	"github.com/clipmind/clipmind-server/internal/vectorindex"
)

// Analyzer is the analysis stage contract (satisfied by media.Analyzer).
type Analyzer interface {
	Analyze(ctx context.Context, videoID, path string) (*media.Analysis, error)
}

// FrameExtractor extracts one keyframe per scene (satisfied by media.Runner).
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, videoPath, outPath string, offset float64) error
}

// MediaStore resolves storage keys to local files (satisfied by blob.Store).
type MediaStore interface {
	Path(key string) string
	Put(key, srcPath string) error
}

// Result summarizes one completed ingestion.
type Result struct {
	VideoID        string
	Scenes         int
	Segments       int
	VectorsIndexed int
	Attempts       int
}

// Config tunes the orchestrator.
type Config struct {
	ArtifactsDir     string
	EmbedBatchSize   int
	EmbedConcurrency int
	MaxRetries       int           // retries after the initial attempt
	RetryBaseDelay   time.Duration // first retry delay, doubles per attempt
	AnalyzeTimeout   time.Duration
	EmbedTimeout     time.Duration
	IndexTimeout     time.Duration
}

// Orchestrator runs the full pipeline for one video at a time.
type Orchestrator struct {
	cfg         Config
	repo        catalog.Repository
	analyzer    Analyzer
	frames      FrameExtractor
	store       MediaStore
	joint       embedding.JointEmbedder
	text        embedding.TextEmbedder
	visualIndex vectorindex.Index
	textIndex   vectorindex.Index
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewOrchestrator(cfg Config, repo catalog.Repository, analyzer Analyzer, frames FrameExtractor,
	store MediaStore, joint embedding.JointEmbedder, text embedding.TextEmbedder,
	visualIndex, textIndex vectorindex.Index, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {

	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 8
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 4
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:         cfg,
		repo:        repo,
		analyzer:    analyzer,
		frames:      frames,
		store:       store,
		joint:       joint,
		text:        text,
		visualIndex: visualIndex,
		textIndex:   textIndex,
		metrics:     m,
		logger:      logger,
	}
}

// VisualVectorID returns the deterministic id for the visual vector of
// scene i. Re-ingesting the same video overwrites rather than
// accumulates.
func VisualVectorID(videoID string, i int) string {
	return fmt.Sprintf("%s_visual_%d", videoID, i)
}

// TextVectorID returns the deterministic id for transcript segment j.
func TextVectorID(videoID string, j int) string {
	return fmt.Sprintf("%s_text_%d", videoID, j)
}

// Process runs the pipeline for videoID, retrying the whole task on
// failure with exponentially increasing delay. On exhaustion the video
// is marked failed with the last error.
func (o *Orchestrator) Process(ctx context.Context, videoID string) (*Result, error) {
	start := time.Now()
	logger := o.logger.With("video_id", videoID)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.cfg.RetryBaseDelay
	policy.MaxElapsedTime = 0

	attempts := 0
	var result *Result
	operation := func() error {
		attempts++
		r, err := o.runOnce(ctx, videoID)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			logger.Warn("ingestion attempt failed", "attempt", attempts, "error", err)
			return err
		}
		result = r
		return nil
	}
	notify := func(err error, next time.Duration) {
		logger.Info("retrying ingestion", "next_attempt_in", next)
	}

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(o.cfg.MaxRetries)), ctx),
		notify)
	if err != nil {
		o.metrics.IngestsTotal.WithLabelValues("failure").Inc()
		if uerr := o.repo.UpdateVideoStatus(context.WithoutCancel(ctx), videoID, catalog.StatusFailed, err.Error()); uerr != nil {
			logger.Error("cannot mark video failed", "error", uerr)
		}
		return nil, fmt.Errorf("ingestion of %s failed after %d attempts: %w", videoID, attempts, err)
	}

	result.Attempts = attempts
	o.metrics.IngestsTotal.WithLabelValues("success").Inc()
	o.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	logger.Info("video indexed",
		"scenes", result.Scenes,
		"segments", result.Segments,
		"vectors", result.VectorsIndexed,
		"attempts", attempts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (o *Orchestrator) runOnce(ctx context.Context, videoID string) (*Result, error) {
	video, err := o.repo.GetVideo(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("load video: %w", err)
	}
	if video == nil {
		return nil, backoff.Permanent(fmt.Errorf("video %s: %w", videoID, catalog.ErrNotFound))
	}

	videoPath := o.store.Path(video.StorageKey)

	workDir := filepath.Join(o.cfg.ArtifactsDir, videoID)
	defer os.RemoveAll(workDir)

	// Stage 1: analysis.
	if err := o.repo.UpdateVideoStatus(ctx, videoID, catalog.StatusAnalyzing, ""); err != nil {
		return nil, fmt.Errorf("set status analyzing: %w", err)
	}

	analyzeCtx, cancel := context.WithTimeout(ctx, o.cfg.AnalyzeTimeout)
	analysis, err := o.analyzer.Analyze(analyzeCtx, videoID, videoPath)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	video.Duration = analysis.Metadata.Duration
	video.SizeBytes = analysis.Metadata.SizeBytes
	video.Width = analysis.Metadata.Width
	video.Height = analysis.Metadata.Height
	video.FPS = analysis.Metadata.FrameRate
	video.Codec = analysis.Metadata.Codec

	// Stage 2: embedding.
	if err := o.repo.UpdateVideoStatus(ctx, videoID, catalog.StatusEmbedding, ""); err != nil {
		return nil, fmt.Errorf("set status embedding: %w", err)
	}

	framePaths, err := o.extractKeyframes(ctx, videoPath, workDir, analysis.Scenes)
	if err != nil {
		return nil, fmt.Errorf("extract keyframes: %w", err)
	}

	embedCtx, cancel := context.WithTimeout(ctx, o.cfg.EmbedTimeout)
	visualVecs, textVecs, err := o.embed(embedCtx, framePaths, analysis.Segments)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	// Persist clips and thumbnails before indexing so every vector's
	// clip_id resolves once results come back.
	if err := o.persistClips(ctx, video, analysis, framePaths); err != nil {
		return nil, fmt.Errorf("persist clips: %w", err)
	}
	if err := o.repo.UpdateVideoMetadata(ctx, video); err != nil {
		return nil, fmt.Errorf("update metadata: %w", err)
	}

	// Stage 3: indexing.
	indexed, err := o.index(ctx, video, analysis, visualVecs, textVecs)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}

	if err := o.repo.MarkVideoIndexed(ctx, videoID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("mark indexed: %w", err)
	}

	return &Result{
		VideoID:        videoID,
		Scenes:         len(analysis.Scenes),
		Segments:       len(analysis.Segments),
		VectorsIndexed: indexed,
	}, nil
}

func (o *Orchestrator) extractKeyframes(ctx context.Context, videoPath, workDir string, scenes []media.Scene) ([]string, error) {
	framesDir := filepath.Join(workDir, "frames")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return nil, err
	}

	paths := make([]string, len(scenes))
	for i, scene := range scenes {
		out := filepath.Join(framesDir, fmt.Sprintf("frame_%d.jpg", i))
		if err := o.frames.ExtractFrame(ctx, videoPath, out, scene.Midpoint()); err != nil {
			return nil, err
		}
		paths[i] = out
	}
	return paths, nil
}

func (o *Orchestrator) embed(ctx context.Context, framePaths []string, segments []media.TranscriptSegment) (visual, text [][]float32, err error) {
	visual, err = embedding.EmbedChunked(ctx, len(framePaths), o.cfg.EmbedBatchSize, o.cfg.EmbedConcurrency,
		func(ctx context.Context, start, end int) ([][]float32, error) {
			return o.joint.EmbedImages(ctx, framePaths[start:end])
		})
	if err != nil {
		return nil, nil, fmt.Errorf("visual embeddings: %w", err)
	}

	texts := make([]string, len(segments))
	for j, seg := range segments {
		texts[j] = seg.Text
	}
	text, err = embedding.EmbedChunked(ctx, len(texts), o.cfg.EmbedBatchSize, o.cfg.EmbedConcurrency,
		func(ctx context.Context, start, end int) ([][]float32, error) {
			return o.text.EmbedTexts(ctx, texts[start:end])
		})
	if err != nil {
		return nil, nil, fmt.Errorf("text embeddings: %w", err)
	}
	return visual, text, nil
}

func (o *Orchestrator) persistClips(ctx context.Context, video *catalog.Video, analysis *media.Analysis, framePaths []string) error {
	now := time.Now().UTC()
	for i, scene := range analysis.Scenes {
		clip := &catalog.Clip{
			ID:          catalog.ClipID(video.ID, i),
			VideoID:     video.ID,
			StartTime:   scene.StartTime,
			EndTime:     scene.EndTime,
			Transcript:  transcriptForScene(scene, analysis.Segments),
			EmbeddingID: VisualVectorID(video.ID, i),
			CreatedAt:   now,
		}

		thumbKey := fmt.Sprintf("thumbnails/%s.jpg", clip.ID)
		if err := o.store.Put(thumbKey, framePaths[i]); err != nil {
			o.logger.Warn("cannot store clip thumbnail", "clip_id", clip.ID, "error", err)
		} else {
			clip.ThumbnailKey = thumbKey
		}
		if i == 0 {
			video.ThumbnailKey = clip.ThumbnailKey
		}

		if err := o.repo.UpsertClip(ctx, clip); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) index(ctx context.Context, video *catalog.Video, analysis *media.Analysis, visualVecs, textVecs [][]float32) (int, error) {
	visual := make([]vectorindex.Vector, len(analysis.Scenes))
	for i, scene := range analysis.Scenes {
		visual[i] = vectorindex.Vector{
			ID:     VisualVectorID(video.ID, i),
			Values: visualVecs[i],
			Metadata: vectorindex.Metadata{
				ClipID:    catalog.ClipID(video.ID, i),
				VideoID:   video.ID,
				UserID:    video.UserID,
				Type:      vectorindex.TypeVisual,
				StartTime: scene.StartTime,
				EndTime:   scene.EndTime,
			},
		}
	}

	text := make([]vectorindex.Vector, len(analysis.Segments))
	for j, seg := range analysis.Segments {
		text[j] = vectorindex.Vector{
			ID:     TextVectorID(video.ID, j),
			Values: textVecs[j],
			Metadata: vectorindex.Metadata{
				ClipID:    clipIDForTime(video.ID, analysis.Scenes, seg),
				VideoID:   video.ID,
				UserID:    video.UserID,
				Type:      vectorindex.TypeText,
				StartTime: seg.StartTime,
				EndTime:   seg.EndTime,
				Text:      seg.Text,
			},
		}
	}

	indexCtx, cancel := context.WithTimeout(ctx, o.cfg.IndexTimeout)
	defer cancel()

	if err := o.visualIndex.Upsert(indexCtx, visual); err != nil {
		return 0, fmt.Errorf("visual index: %w", err)
	}
	if err := o.textIndex.Upsert(indexCtx, text); err != nil {
		return 0, fmt.Errorf("text index: %w", err)
	}

	total := len(visual) + len(text)
	o.metrics.VectorsUpserted.Add(float64(total))
	return total, nil
}

// transcriptForScene joins the text of segments overlapping the scene
// interval, in segment order.
func transcriptForScene(scene media.Scene, segments []media.TranscriptSegment) string {
	var out string
	for _, seg := range segments {
		if seg.EndTime <= scene.StartTime || seg.StartTime >= scene.EndTime {
			continue
		}
		if out != "" {
			out += " "
		}
		out += seg.Text
	}
	return out
}

// clipIDForTime maps a transcript segment to the clip whose scene
// contains the segment midpoint. Segments past the last scene boundary
// fall into the last clip.
func clipIDForTime(videoID string, scenes []media.Scene, seg media.TranscriptSegment) string {
	mid := seg.StartTime + (seg.EndTime-seg.StartTime)/2
	for i, scene := range scenes {
		if mid >= scene.StartTime && mid < scene.EndTime {
			return catalog.ClipID(videoID, i)
		}
	}
	return catalog.ClipID(videoID, len(scenes)-1)
}
