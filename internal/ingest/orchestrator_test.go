package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clipmind/clipmind-server/internal/catalog"
	"github.com/clipmind/clipmind-server/internal/db"
	"github.com/clipmind/clipmind-server/internal/media"
	"github.com/clipmind/clipmind-server/internal/metrics"
	"github.com/clipmind/clipmind-server/internal/vectorindex"
)

type fakeAnalyzer struct {
	analysis *media.Analysis
	failures int // fail this many calls before succeeding
	calls    int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, videoID, path string) (*media.Analysis, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("analysis crashed")
	}
	return f.analysis, nil
}

type fakeFrames struct{}

func (fakeFrames) ExtractFrame(context.Context, string, string, float64) error { return nil }

type fakeStore struct{ puts []string }

func (f *fakeStore) Path(key string) string { return filepath.Join("/tmp", key) }
func (f *fakeStore) Put(key, src string) error {
	f.puts = append(f.puts, key)
	return nil
}

type fakeJoint struct{ dim int }

func (f *fakeJoint) Dimension() int { return f.dim }
func (f *fakeJoint) EmbedImages(_ context.Context, paths []string) ([][]float32, error) {
	return constantVectors(len(paths), f.dim), nil
}
func (f *fakeJoint) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	return constantVectors(len(texts), f.dim), nil
}

type fakeText struct{ dim int }

func (f *fakeText) Dimension() int { return f.dim }
func (f *fakeText) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	return constantVectors(len(texts), f.dim), nil
}

func constantVectors(n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dim)
		out[i][0] = 1
	}
	return out
}

// fakeIndex records upserts keyed by vector id, like a real index.
type fakeIndex struct {
	mu      sync.Mutex
	vectors map[string]vectorindex.Vector
	upserts int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{vectors: make(map[string]vectorindex.Vector)}
}

func (f *fakeIndex) Upsert(_ context.Context, vectors []vectorindex.Vector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	for _, v := range vectors {
		f.vectors[v.ID] = v
	}
	return nil
}

func (f *fakeIndex) Query(context.Context, []float32, int, vectorindex.Filter) ([]vectorindex.Match, error) {
	return nil, nil
}
func (f *fakeIndex) Delete(context.Context, []string) error           { return nil }
func (f *fakeIndex) DeleteByFilter(context.Context, vectorindex.Filter) error { return nil }
func (f *fakeIndex) Stats(context.Context) (*vectorindex.Stats, error) {
	return &vectorindex.Stats{}, nil
}

func threeSceneAnalysis() *media.Analysis {
	return &media.Analysis{
		Metadata: media.ProbeResult{Duration: 30, Width: 1280, Height: 720, FrameRate: 30, Codec: "h264"},
		Scenes: []media.Scene{
			{Index: 0, StartTime: 0, EndTime: 10},
			{Index: 1, StartTime: 10, EndTime: 20},
			{Index: 2, StartTime: 20, EndTime: 30},
		},
		Segments: []media.TranscriptSegment{
			{Index: 0, StartTime: 1, EndTime: 4, Text: "welcome back"},
			{Index: 1, StartTime: 12, EndTime: 15, Text: "let us begin"},
		},
		Language: "en",
	}
}

type testEnv struct {
	repo        catalog.Repository
	orch        *Orchestrator
	visualIndex *fakeIndex
	textIndex   *fakeIndex
	analyzer    *fakeAnalyzer
	store       *fakeStore
}

func newTestEnv(t *testing.T, analyzer *fakeAnalyzer) *testEnv {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	repo := catalog.NewRepository(database.Conn())

	env := &testEnv{
		repo:        repo,
		visualIndex: newFakeIndex(),
		textIndex:   newFakeIndex(),
		analyzer:    analyzer,
		store:       &fakeStore{},
	}
	env.orch = NewOrchestrator(Config{
		ArtifactsDir:   t.TempDir(),
		EmbedBatchSize: 2,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		AnalyzeTimeout: time.Minute,
		EmbedTimeout:   time.Minute,
		IndexTimeout:   time.Minute,
	}, repo, analyzer, fakeFrames{}, env.store,
		&fakeJoint{dim: 4}, &fakeText{dim: 8},
		env.visualIndex, env.textIndex, metrics.New(), nil)
	return env
}

func createVideo(t *testing.T, repo catalog.Repository, id string) {
	t.Helper()
	err := repo.CreateVideo(context.Background(), &catalog.Video{
		ID:         id,
		UserID:     "u1",
		Filename:   "demo.mp4",
		StorageKey: "media/" + id + ".mp4",
		Status:     catalog.StatusPending,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
}

func TestProcess_EndToEnd(t *testing.T) {
	env := newTestEnv(t, &fakeAnalyzer{analysis: threeSceneAnalysis()})
	createVideo(t, env.repo, "v1")
	ctx := context.Background()

	result, err := env.orch.Process(ctx, "v1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Scenes != 3 || result.Segments != 2 || result.VectorsIndexed != 5 {
		t.Errorf("result = %+v, want 3 scenes, 2 segments, 5 vectors", result)
	}

	video, _ := env.repo.GetVideo(ctx, "v1")
	if video.Status != catalog.StatusIndexed {
		t.Errorf("status = %q, want indexed", video.Status)
	}
	if video.Duration != 30 || video.Codec != "h264" {
		t.Errorf("metadata not persisted: %+v", video)
	}
	if video.ProcessedAt == nil {
		t.Error("ProcessedAt not set")
	}

	for i := 0; i < 3; i++ {
		id := VisualVectorID("v1", i)
		v, ok := env.visualIndex.vectors[id]
		if !ok {
			t.Fatalf("visual vector %s not indexed", id)
		}
		if v.Metadata.ClipID != catalog.ClipID("v1", i) || v.Metadata.UserID != "u1" {
			t.Errorf("vector %s metadata = %+v", id, v.Metadata)
		}
		if v.Metadata.Type != vectorindex.TypeVisual {
			t.Errorf("vector %s type = %q", id, v.Metadata.Type)
		}
	}
	for j := 0; j < 2; j++ {
		id := TextVectorID("v1", j)
		if _, ok := env.textIndex.vectors[id]; !ok {
			t.Fatalf("text vector %s not indexed", id)
		}
	}
	// Segment at [12,15] lands in scene 1.
	if got := env.textIndex.vectors[TextVectorID("v1", 1)].Metadata.ClipID; got != catalog.ClipID("v1", 1) {
		t.Errorf("segment 1 clip_id = %s, want %s", got, catalog.ClipID("v1", 1))
	}

	clips, _ := env.repo.GetClipsByVideo(ctx, "v1")
	if len(clips) != 3 {
		t.Fatalf("got %d clips, want 3", len(clips))
	}
	if !strings.Contains(clips[0].Transcript, "welcome back") {
		t.Errorf("clip 0 transcript = %q, want overlapping segment text", clips[0].Transcript)
	}
	if clips[2].Transcript != "" {
		t.Errorf("clip 2 transcript = %q, want empty", clips[2].Transcript)
	}
}

func TestProcess_Idempotent(t *testing.T) {
	env := newTestEnv(t, &fakeAnalyzer{analysis: threeSceneAnalysis()})
	createVideo(t, env.repo, "v1")
	ctx := context.Background()

	if _, err := env.orch.Process(ctx, "v1"); err != nil {
		t.Fatalf("first Process() error = %v", err)
	}
	if _, err := env.orch.Process(ctx, "v1"); err != nil {
		t.Fatalf("second Process() error = %v", err)
	}

	// Same deterministic ids: overwrites, not duplicates.
	if len(env.visualIndex.vectors) != 3 {
		t.Errorf("visual index has %d vectors, want 3", len(env.visualIndex.vectors))
	}
	if len(env.textIndex.vectors) != 2 {
		t.Errorf("text index has %d vectors, want 2", len(env.textIndex.vectors))
	}
	clips, _ := env.repo.GetClipsByVideo(ctx, "v1")
	if len(clips) != 3 {
		t.Errorf("got %d clips after re-ingest, want 3", len(clips))
	}
}

func TestProcess_EmptyTranscript(t *testing.T) {
	analysis := threeSceneAnalysis()
	analysis.Segments = nil
	env := newTestEnv(t, &fakeAnalyzer{analysis: analysis})
	createVideo(t, env.repo, "v1")

	result, err := env.orch.Process(context.Background(), "v1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.VectorsIndexed != 3 {
		t.Errorf("vectors = %d, want 3 (visual only)", result.VectorsIndexed)
	}
	if len(env.textIndex.vectors) != 0 {
		t.Errorf("text index has %d vectors, want 0", len(env.textIndex.vectors))
	}

	video, _ := env.repo.GetVideo(context.Background(), "v1")
	if video.Status != catalog.StatusIndexed {
		t.Errorf("status = %q, want indexed (silent video is still searchable)", video.Status)
	}
}

func TestProcess_RetriesThenSucceeds(t *testing.T) {
	env := newTestEnv(t, &fakeAnalyzer{analysis: threeSceneAnalysis(), failures: 2})
	createVideo(t, env.repo, "v1")

	result, err := env.orch.Process(context.Background(), "v1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
}

func TestProcess_RetryCeiling(t *testing.T) {
	analyzer := &fakeAnalyzer{failures: 100}
	env := newTestEnv(t, analyzer)
	createVideo(t, env.repo, "v1")

	_, err := env.orch.Process(context.Background(), "v1")
	if err == nil {
		t.Fatal("Process() succeeded, want failure after retries")
	}
	// MaxRetries 3 means 4 attempts total.
	if analyzer.calls != 4 {
		t.Errorf("attempts = %d, want 4", analyzer.calls)
	}

	video, _ := env.repo.GetVideo(context.Background(), "v1")
	if video.Status != catalog.StatusFailed {
		t.Errorf("status = %q, want failed", video.Status)
	}
	if video.Error == "" {
		t.Error("failure reason not recorded")
	}
}

func TestProcess_UnknownVideoIsPermanent(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: threeSceneAnalysis()}
	env := newTestEnv(t, analyzer)

	_, err := env.orch.Process(context.Background(), "ghost")
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("Process() error = %v, want ErrNotFound", err)
	}
	if analyzer.calls != 0 {
		t.Errorf("analyzer called %d times for missing video", analyzer.calls)
	}
}

func TestTranscriptForScene(t *testing.T) {
	scene := media.Scene{StartTime: 10, EndTime: 20}
	segments := []media.TranscriptSegment{
		{StartTime: 0, EndTime: 9, Text: "before"},
		{StartTime: 8, EndTime: 12, Text: "straddles start"},
		{StartTime: 12, EndTime: 18, Text: "inside"},
		{StartTime: 20, EndTime: 25, Text: "after"},
	}
	got := transcriptForScene(scene, segments)
	if got != "straddles start inside" {
		t.Errorf("transcriptForScene() = %q", got)
	}
}

func TestEnqueue(t *testing.T) {
	env := newTestEnv(t, &fakeAnalyzer{analysis: threeSceneAnalysis()})
	createVideo(t, env.repo, "v1")
	ctx := context.Background()

	// Simulate an earlier failed run: Enqueue must reset to pending.
	if err := env.repo.UpdateVideoStatus(ctx, "v1", catalog.StatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}

	job, err := Enqueue(ctx, env.repo, "v1")
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if job.Status != catalog.JobStatusPending {
		t.Errorf("job status = %q, want pending", job.Status)
	}

	video, _ := env.repo.GetVideo(ctx, "v1")
	if video.Status != catalog.StatusPending {
		t.Errorf("video status = %q, want pending", video.Status)
	}

	claimed, err := env.repo.ClaimPendingJob(ctx)
	if err != nil || claimed == nil || claimed.VideoID != "v1" {
		t.Fatalf("claim after enqueue = %+v, %v", claimed, err)
	}
}
