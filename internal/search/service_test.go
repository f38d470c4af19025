package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/clipmind/clipmind-server/internal/catalog"
	"github.com/clipmind/clipmind-server/internal/db"
	"github.com/clipmind/clipmind-server/internal/metrics"
	"github.com/clipmind/clipmind-server/internal/vectorindex"
)

type stubEmbedder struct{ dim int }

func (s *stubEmbedder) Dimension() int { return s.dim }
func (s *stubEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, s.dim)
		out[i][0] = 1
	}
	return out, nil
}
func (s *stubEmbedder) EmbedImages(_ context.Context, paths []string) ([][]float32, error) {
	return s.EmbedTexts(nil, make([]string, len(paths)))
}

// stubIndex returns canned matches and records the filter it was
// queried with.
type stubIndex struct {
	matches    []vectorindex.Match
	lastFilter vectorindex.Filter
	lastTopK   int
}

func (s *stubIndex) Query(_ context.Context, _ []float32, topK int, filter vectorindex.Filter) ([]vectorindex.Match, error) {
	s.lastFilter = filter
	s.lastTopK = topK
	return s.matches, nil
}
func (s *stubIndex) Upsert(context.Context, []vectorindex.Vector) error { return nil }
func (s *stubIndex) Delete(context.Context, []string) error { return nil }
func (s *stubIndex) DeleteByFilter(context.Context, vectorindex.Filter) error { return nil }
func (s *stubIndex) Stats(context.Context) (*vectorindex.Stats, error) { return nil, nil }

type staticSigner struct{}

func (staticSigner) Sign(key string) string { return "https://signed.local/" + key }

type serviceEnv struct {
	svc         *Service
	repo        catalog.Repository
	analytics   Repository
	visualIndex *stubIndex
	textIndex   *stubIndex
	metrics     *metrics.Metrics
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	env := &serviceEnv{
		repo:        catalog.NewRepository(database.Conn()),
		analytics:   NewRepository(database.Conn()),
		visualIndex: &stubIndex{},
		textIndex:   &stubIndex{},
		metrics:     metrics.New(),
	}
	env.svc = NewService(Config{VisualWeight: 0.6, TextWeight: 0.4},
		env.repo, env.analytics, &stubEmbedder{dim: 4}, &stubEmbedder{dim: 8},
		env.visualIndex, env.textIndex, staticSigner{}, env.metrics, nil)
	return env
}

func (env *serviceEnv) addVideo(t *testing.T, videoID, userID string, clips int) {
	t.Helper()
	ctx := context.Background()
	err := env.repo.CreateVideo(ctx, &catalog.Video{
		ID:         videoID,
		UserID:     userID,
		Title:      "Video " + videoID,
		Filename:   videoID + ".mp4",
		StorageKey: "media/" + videoID + ".mp4",
		Status:     catalog.StatusIndexed,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
	for i := 0; i < clips; i++ {
		err := env.repo.UpsertClip(ctx, &catalog.Clip{
			ID:           catalog.ClipID(videoID, i),
			VideoID:      videoID,
			StartTime:    float64(i * 10),
			EndTime:      float64((i + 1) * 10),
			Transcript:   "clip transcript",
			ThumbnailKey: "thumbnails/" + catalog.ClipID(videoID, i) + ".jpg",
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("create clip: %v", err)
		}
	}
}

func TestSearch_EndToEnd(t *testing.T) {
	env := newServiceEnv(t)
	env.addVideo(t, "v1", "u1", 2)

	env.visualIndex.matches = []vectorindex.Match{
		{ID: "v1_visual_0", Score: 0.9, Metadata: vectorindex.Metadata{ClipID: "v1_clip_0", VideoID: "v1"}},
		{ID: "v1_visual_1", Score: 0.5, Metadata: vectorindex.Metadata{ClipID: "v1_clip_1", VideoID: "v1"}},
	}
	env.textIndex.matches = []vectorindex.Match{
		{ID: "v1_text_0", Score: 0.8, Metadata: vectorindex.Metadata{ClipID: "v1_clip_0", VideoID: "v1", Text: "hello"}},
	}

	resp, err := env.svc.Search(context.Background(), "u1", "hello", Filters{}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(resp.Results) != 2 || resp.TotalResults != 2 {
		t.Fatalf("got %d results (total %d), want 2", len(resp.Results), resp.TotalResults)
	}
	if resp.Results[0].ClipID != "v1_clip_0" {
		t.Errorf("top result = %s, want v1_clip_0 (cross-modal)", resp.Results[0].ClipID)
	}
	if resp.Results[0].VideoTitle != "Video v1" || resp.Results[0].Filename != "v1.mp4" {
		t.Errorf("enrichment missing video fields: %+v", resp.Results[0])
	}
	if resp.Results[0].ThumbnailURL != "https://signed.local/thumbnails/v1_clip_0.jpg" {
		t.Errorf("thumbnail url = %q", resp.Results[0].ThumbnailURL)
	}
	// Playback points at the signed video with a media fragment so the
	// player seeks straight to the clip.
	if resp.Results[0].PlaybackURL != "https://signed.local/media/v1.mp4#t=0,10" {
		t.Errorf("playback url = %q", resp.Results[0].PlaybackURL)
	}

	// Indexes are queried with the user filter and 2x oversampling.
	if env.visualIndex.lastFilter.UserID != "u1" {
		t.Errorf("visual filter = %+v, want user_id u1", env.visualIndex.lastFilter)
	}
	if env.visualIndex.lastTopK != 20 {
		t.Errorf("top_k = %d, want 20", env.visualIndex.lastTopK)
	}

	// The search and its ranking were recorded.
	history, err := env.svc.History(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].QueryText != "hello" || history[0].ResultsCount != 2 {
		t.Errorf("history = %+v", history)
	}
	if history[0].ID != resp.QueryID {
		t.Errorf("history id %s != response query id %s", history[0].ID, resp.QueryID)
	}
}

func TestSearch_OwnershipReverified(t *testing.T) {
	env := newServiceEnv(t)
	env.addVideo(t, "v1", "u1", 1)
	env.addVideo(t, "v2", "u2", 1)

	// A misbehaving index returns another user's vector despite the
	// filter. Enrichment must drop it without exposing anything.
	env.visualIndex.matches = []vectorindex.Match{
		{ID: "v2_visual_0", Score: 0.99, Metadata: vectorindex.Metadata{ClipID: "v2_clip_0", VideoID: "v2"}},
		{ID: "v1_visual_0", Score: 0.4, Metadata: vectorindex.Metadata{ClipID: "v1_clip_0", VideoID: "v1"}},
	}

	resp, err := env.svc.Search(context.Background(), "u1", "secret", Filters{}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ClipID != "v1_clip_0" {
		t.Fatalf("results = %+v, want only u1's clip", resp.Results)
	}
	if got := testutil.ToFloat64(env.metrics.SearchDropped.WithLabelValues("access_denied")); got != 1 {
		t.Errorf("access_denied drops = %v, want 1", got)
	}
}

func TestSearch_StaleVectorDropped(t *testing.T) {
	env := newServiceEnv(t)
	env.addVideo(t, "v1", "u1", 1)

	env.visualIndex.matches = []vectorindex.Match{
		{ID: "gone_visual_0", Score: 0.95, Metadata: vectorindex.Metadata{ClipID: "gone_clip_0", VideoID: "gone"}},
		{ID: "v1_visual_0", Score: 0.4, Metadata: vectorindex.Metadata{ClipID: "v1_clip_0", VideoID: "v1"}},
	}

	resp, err := env.svc.Search(context.Background(), "u1", "anything", Filters{}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ClipID != "v1_clip_0" {
		t.Fatalf("results = %+v, want stale vector dropped", resp.Results)
	}
	if got := testutil.ToFloat64(env.metrics.SearchDropped.WithLabelValues("lookup_miss")); got != 1 {
		t.Errorf("lookup_miss drops = %v, want 1", got)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	env := newServiceEnv(t)
	if _, err := env.svc.Search(context.Background(), "u1", "", Filters{}, 10); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("error = %v, want ErrEmptyQuery", err)
	}
}

func TestSearch_NoMatches(t *testing.T) {
	env := newServiceEnv(t)

	resp, err := env.svc.Search(context.Background(), "u1", "nothing indexed", Filters{}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("results = %+v, want empty", resp.Results)
	}

	stats, err := env.svc.Stats(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalSearches != 1 || stats.ZeroResultRate != 1.0 {
		t.Errorf("stats = %+v, want one zero-result search", stats)
	}
}

func TestSearch_VideoIDFilterPlumbed(t *testing.T) {
	env := newServiceEnv(t)
	env.addVideo(t, "v1", "u1", 1)

	_, err := env.svc.Search(context.Background(), "u1", "anything",
		Filters{VideoIDs: []string{"v1", "v3"}}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	for _, idx := range []*stubIndex{env.visualIndex, env.textIndex} {
		if idx.lastFilter.UserID != "u1" {
			t.Errorf("filter user = %q, want u1", idx.lastFilter.UserID)
		}
		if len(idx.lastFilter.VideoIDs) != 2 || idx.lastFilter.VideoIDs[0] != "v1" {
			t.Errorf("filter video ids = %v, want [v1 v3]", idx.lastFilter.VideoIDs)
		}
	}
}

func TestSearch_DefaultLimit(t *testing.T) {
	env := newServiceEnv(t)

	if _, err := env.svc.Search(context.Background(), "u1", "anything", Filters{}, 0); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	// Default limit 20, oversampled 2x at the index.
	if env.visualIndex.lastTopK != 40 {
		t.Errorf("top_k = %d, want 40", env.visualIndex.lastTopK)
	}
}

func TestTrackInteraction(t *testing.T) {
	env := newServiceEnv(t)
	env.addVideo(t, "v1", "u1", 1)
	ctx := context.Background()

	err := env.svc.TrackInteraction(ctx, &Interaction{
		UserID: "u1",
		ClipID: "v1_clip_0",
		Action: ActionPlayed,
	})
	if err != nil {
		t.Fatalf("TrackInteraction() error = %v", err)
	}

	popular, err := env.svc.PopularClips(ctx, "u1", 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("PopularClips() error = %v", err)
	}
	if len(popular) != 1 || popular[0].ClipID != "v1_clip_0" || popular[0].Interactions != 1 {
		t.Errorf("popular = %+v", popular)
	}
}

func TestTrackInteraction_ForeignClipRejected(t *testing.T) {
	env := newServiceEnv(t)
	env.addVideo(t, "v2", "u2", 1)

	err := env.svc.TrackInteraction(context.Background(), &Interaction{
		UserID: "u1",
		ClipID: "v2_clip_0",
		Action: ActionViewed,
	})
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound (no ownership leak)", err)
	}

	// Nothing recorded for the other user's clip.
	popular, _ := env.svc.PopularClips(context.Background(), "u2", 24*time.Hour, 10)
	if len(popular) != 0 {
		t.Errorf("popular = %+v, want empty", popular)
	}
}

func TestTrackInteraction_UnknownActionRejected(t *testing.T) {
	env := newServiceEnv(t)
	env.addVideo(t, "v1", "u1", 1)

	err := env.svc.TrackInteraction(context.Background(), &Interaction{
		UserID: "u1",
		ClipID: "v1_clip_0",
		Action: "clicked",
	})
	if !errors.Is(err, ErrInvalidAction) {
		t.Errorf("error = %v, want ErrInvalidAction", err)
	}

	popular, _ := env.svc.PopularClips(context.Background(), "u1", 24*time.Hour, 10)
	if len(popular) != 0 {
		t.Errorf("popular = %+v, want nothing persisted", popular)
	}
}
