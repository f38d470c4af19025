package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clipmind/clipmind-server/internal/catalog"
	"github.com/clipmind/clipmind-server/internal/embedding"
	"github.com/clipmind/clipmind-server/internal/metrics"
	"github.com/clipmind/clipmind-server/internal/vectorindex"
)

const (
	DefaultLimit = 20
	MaxLimit     = 50

	// oversampleFactor widens index queries beyond the requested limit
	// so enrichment drops (stale vectors, ownership mismatches) do not
	// starve the result list.
	oversampleFactor = 2
)

var (
	ErrEmptyQuery    = errors.New("query text is empty")
	ErrInvalidAction = errors.New("unknown interaction action")
)

// Filters optionally narrows a search to a subset of the user's videos.
type Filters struct {
	VideoIDs []string
}

// URLSigner issues time-limited URLs for stored artifacts (satisfied by
// blob.Signer).
type URLSigner interface {
	Sign(key string) string
}

// Config holds the fusion weights.
type Config struct {
	VisualWeight float64
	TextWeight   float64
}

// Service executes hybrid searches and records analytics.
type Service struct {
	cfg         Config
	catalog     catalog.Repository
	analytics   Repository
	joint       embedding.JointEmbedder
	text        embedding.TextEmbedder
	visualIndex vectorindex.Index
	textIndex   vectorindex.Index
	signer      URLSigner
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewService(cfg Config, catalogRepo catalog.Repository, analytics Repository,
	joint embedding.JointEmbedder, text embedding.TextEmbedder,
	visualIndex, textIndex vectorindex.Index, signer URLSigner,
	m *metrics.Metrics, logger *slog.Logger) *Service {

	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:         cfg,
		catalog:     catalogRepo,
		analytics:   analytics,
		joint:       joint,
		text:        text,
		visualIndex: visualIndex,
		textIndex:   textIndex,
		signer:      signer,
		metrics:     m,
		logger:      logger,
	}
}

// Search runs the full hybrid retrieval flow for one user query:
// embed into both spaces, query both indexes, fuse, enrich, record.
// Analytics failures never fail the search.
func (s *Service) Search(ctx context.Context, userID, queryText string, filters Filters, limit int) (*Response, error) {
	if queryText == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	start := time.Now()
	logger := s.logger.With("user_id", userID)

	visualMatches, textMatches, err := s.retrieve(ctx, userID, queryText, filters, limit*oversampleFactor)
	if err != nil {
		return nil, err
	}

	candidates := Fuse(visualMatches, textMatches, s.cfg.VisualWeight, s.cfg.TextWeight)
	results, kept := s.enrich(ctx, userID, candidates, limit)

	elapsed := time.Since(start)
	s.metrics.SearchesTotal.Inc()
	s.metrics.SearchDuration.Observe(elapsed.Seconds())

	resp := &Response{
		QueryID:          catalog.NewID(),
		Query:            queryText,
		TotalResults:     len(results),
		Results:          results,
		ProcessingTimeMS: float64(elapsed.Microseconds()) / 1000,
	}

	// Analytics are recorded after enrichment so only results the user
	// actually saw are counted.
	q := &Query{
		ID:               resp.QueryID,
		UserID:           userID,
		QueryText:        queryText,
		ResultsCount:     len(results),
		ProcessingTimeMS: resp.ProcessingTimeMS,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.analytics.RecordQuery(ctx, q, kept); err != nil {
		logger.Warn("cannot record search analytics", "error", err)
	}

	logger.Info("search complete",
		"results", len(results),
		"candidates", len(candidates),
		"duration_ms", elapsed.Milliseconds(),
	)
	return resp, nil
}

// retrieve embeds the query into both spaces and queries both indexes,
// all four calls bounded by the request context.
func (s *Service) retrieve(ctx context.Context, userID, queryText string, filters Filters, topK int) (visual, text []vectorindex.Match, err error) {
	g, ctx := errgroup.WithContext(ctx)
	filter := vectorindex.Filter{UserID: userID, VideoIDs: filters.VideoIDs}

	g.Go(func() error {
		vecs, err := s.joint.EmbedTexts(ctx, []string{queryText})
		if err != nil {
			return fmt.Errorf("embed query (joint): %w", err)
		}
		visual, err = s.visualIndex.Query(ctx, vecs[0], topK, filter)
		if err != nil {
			return fmt.Errorf("query visual index: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		vecs, err := s.text.EmbedTexts(ctx, []string{queryText})
		if err != nil {
			return fmt.Errorf("embed query (text): %w", err)
		}
		text, err = s.textIndex.Query(ctx, vecs[0], topK, filter)
		if err != nil {
			return fmt.Errorf("query text index: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return visual, text, nil
}

// enrich resolves candidates against the catalog, preserving rank
// order. Ownership is re-verified here against the catalog regardless
// of the index-side filter: a vector the index should not have returned
// is dropped before the user ever sees it. Candidates whose clip or
// video no longer exists (deleted since indexing) are dropped and
// logged. Returns the enriched results and the candidates they came
// from.
func (s *Service) enrich(ctx context.Context, userID string, candidates []Candidate, limit int) ([]Result, []Candidate) {
	results := make([]Result, 0, limit)
	kept := make([]Candidate, 0, limit)
	videos := make(map[string]*catalog.Video)

	for _, c := range candidates {
		if len(results) >= limit {
			break
		}

		clip, err := s.catalog.GetClip(ctx, c.ClipID)
		if err != nil {
			s.logger.Error("clip lookup failed", "clip_id", c.ClipID, "error", err)
			continue
		}
		if clip == nil {
			s.metrics.SearchDropped.WithLabelValues("lookup_miss").Inc()
			s.logger.Warn("dropping stale result, clip not in catalog", "clip_id", c.ClipID)
			continue
		}

		video, ok := videos[clip.VideoID]
		if !ok {
			video, err = s.catalog.GetVideo(ctx, clip.VideoID)
			if err != nil {
				s.logger.Error("video lookup failed", "video_id", clip.VideoID, "error", err)
				continue
			}
			videos[clip.VideoID] = video
		}
		if video == nil {
			s.metrics.SearchDropped.WithLabelValues("lookup_miss").Inc()
			s.logger.Warn("dropping stale result, video not in catalog", "video_id", clip.VideoID)
			continue
		}
		if video.UserID != userID {
			// Dropped without surfacing anything to the caller. Logged
			// because it means the index-side filter let a foreign
			// vector through.
			s.metrics.SearchDropped.WithLabelValues("access_denied").Inc()
			s.logger.Warn("dropping result owned by another user",
				"clip_id", c.ClipID, "owner", video.UserID, "requester", userID)
			continue
		}

		r := Result{
			ClipID:      clip.ID,
			VideoID:     video.ID,
			VideoTitle:  video.Title,
			Filename:    video.Filename,
			StartTime:   clip.StartTime,
			EndTime:     clip.EndTime,
			Transcript:  clip.Transcript,
			Score:       c.Score,
			VisualScore: c.VisualScore,
			TextScore:   c.TextScore,
		}
		if s.signer != nil {
			if clip.ThumbnailKey != "" {
				r.ThumbnailURL = s.signer.Sign(clip.ThumbnailKey)
			}
			if video.StorageKey != "" {
				// The media fragment lets the player seek straight to
				// the clip's time bounds.
				r.PlaybackURL = fmt.Sprintf("%s#t=%g,%g",
					s.signer.Sign(video.StorageKey), clip.StartTime, clip.EndTime)
			}
		}
		results = append(results, r)
		kept = append(kept, c)
	}
	return results, kept
}

// TrackInteraction records a user action on a clip after verifying the
// action is known and the clip belongs to a video the user owns.
func (s *Service) TrackInteraction(ctx context.Context, in *Interaction) error {
	if !ValidAction(in.Action) {
		return fmt.Errorf("%w: %q", ErrInvalidAction, in.Action)
	}
	clip, err := s.catalog.GetClip(ctx, in.ClipID)
	if err != nil {
		return err
	}
	if clip == nil {
		return fmt.Errorf("clip %s: %w", in.ClipID, catalog.ErrNotFound)
	}
	video, err := s.catalog.GetVideo(ctx, clip.VideoID)
	if err != nil {
		return err
	}
	if video == nil || video.UserID != in.UserID {
		return fmt.Errorf("clip %s: %w", in.ClipID, catalog.ErrNotFound)
	}

	if in.ID == "" {
		in.ID = catalog.NewID()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	return s.analytics.RecordInteraction(ctx, in)
}

// History returns the user's recent searches.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*Query, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return s.analytics.History(ctx, userID, limit)
}

// PopularClips returns the user's most interacted-with clips over the
// trailing window.
func (s *Service) PopularClips(ctx context.Context, userID string, window time.Duration, limit int) ([]PopularClip, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	since := time.Now().UTC().Add(-window)
	return s.analytics.PopularClips(ctx, userID, since, limit)
}

// Stats returns the user's aggregate search statistics.
func (s *Service) Stats(ctx context.Context, userID string) (*UserStats, error) {
	return s.analytics.Stats(ctx, userID)
}
