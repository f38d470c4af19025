package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Analyzer runs the analysis stage of ingestion: probe, scene
// detection, and transcription. Temporary audio artifacts are removed
// before it returns, on success and on failure.
type Analyzer struct {
	ffmpeg       FFmpeg
	detector     *SceneDetector
	transcriber  Transcriber
	artifactsDir string
	logger       *slog.Logger
}

func NewAnalyzer(ffmpeg FFmpeg, detector *SceneDetector, transcriber Transcriber, artifactsDir string, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		ffmpeg:       ffmpeg,
		detector:     detector,
		transcriber:  transcriber,
		artifactsDir: artifactsDir,
		logger:       logger,
	}
}

// Analyze probes the video, detects scenes, and transcribes its audio
// track. Transcription is best-effort: a video with no audio track or a
// failed transcription yields an empty transcript rather than an error,
// since visual search alone is still useful. Probe and scene detection
// failures are hard errors.
func (a *Analyzer) Analyze(ctx context.Context, videoID, path string) (*Analysis, error) {
	meta, err := a.ffmpeg.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("probe video: %w", err)
	}

	scenes, err := a.detector.Detect(ctx, path, meta.Duration)
	if err != nil {
		return nil, fmt.Errorf("detect scenes: %w", err)
	}

	transcript := a.transcribe(ctx, videoID, path)

	return &Analysis{
		Metadata: *meta,
		Scenes:   scenes,
		Segments: transcript.Segments,
		Language: transcript.Language,
	}, nil
}

func (a *Analyzer) transcribe(ctx context.Context, videoID, path string) *Transcript {
	workDir := filepath.Join(a.artifactsDir, videoID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		a.logger.Warn("cannot create artifacts dir, skipping transcription", "video_id", videoID, "error", err)
		return &Transcript{}
	}

	audioPath := filepath.Join(workDir, "audio.wav")
	defer os.Remove(audioPath)

	if err := a.ffmpeg.ExtractAudio(ctx, path, audioPath); err != nil {
		a.logger.Warn("audio extraction failed, continuing without transcript", "video_id", videoID, "error", err)
		return &Transcript{}
	}

	transcript, err := a.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		a.logger.Warn("transcription failed, continuing without transcript", "video_id", videoID, "error", err)
		return &Transcript{}
	}
	return transcript
}
