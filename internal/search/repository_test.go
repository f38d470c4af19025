package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clipmind/clipmind-server/internal/catalog"
	"github.com/clipmind/clipmind-server/internal/db"
)

func newAnalyticsRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewRepository(database.Conn())
}

func recordedQuery(t *testing.T, repo *SQLiteRepository, userID, text string, results []Candidate) *Query {
	t.Helper()
	q := &Query{
		ID:               catalog.NewID(),
		UserID:           userID,
		QueryText:        text,
		ResultsCount:     len(results),
		ProcessingTimeMS: 12.5,
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, repo.RecordQuery(context.Background(), q, results))
	return q
}

func TestRecordQuery_HistoryRoundTrip(t *testing.T) {
	repo := newAnalyticsRepo(t)

	q := recordedQuery(t, repo, "u1", "sunset over water", []Candidate{
		{ClipID: "v1_clip_0", Score: 0.86},
		{ClipID: "v1_clip_2", Score: 0.30},
	})
	recordedQuery(t, repo, "u2", "someone else's search", nil)

	history, err := repo.History(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1, "history must be scoped to the user")
	require.Equal(t, q.ID, history[0].ID)
	require.Equal(t, "sunset over water", history[0].QueryText)
	require.Equal(t, 2, history[0].ResultsCount)
	require.InDelta(t, 12.5, history[0].ProcessingTimeMS, 1e-9)
}

func TestHistory_NewestFirstAndLimited(t *testing.T) {
	repo := newAnalyticsRepo(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, text := range []string{"first", "second", "third"} {
		q := &Query{
			ID:        catalog.NewID(),
			UserID:    "u1",
			QueryText: text,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.RecordQuery(ctx, q, nil))
	}

	history, err := repo.History(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "third", history[0].QueryText)
	require.Equal(t, "second", history[1].QueryText)
}

func TestPopularClips_WindowAndRanking(t *testing.T) {
	repo := newAnalyticsRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	record := func(clipID string, at time.Time) {
		require.NoError(t, repo.RecordInteraction(ctx, &Interaction{
			ID:        catalog.NewID(),
			UserID:    "u1",
			ClipID:    clipID,
			Action:    ActionViewed,
			CreatedAt: at,
		}))
	}
	record("v1_clip_0", now)
	record("v1_clip_0", now.Add(-time.Hour))
	record("v1_clip_1", now)
	record("v1_clip_2", now.Add(-48*time.Hour)) // outside the window

	popular, err := repo.PopularClips(ctx, "u1", now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, []PopularClip{
		{ClipID: "v1_clip_0", Interactions: 2},
		{ClipID: "v1_clip_1", Interactions: 1},
	}, popular)
}

func TestStats_Aggregates(t *testing.T) {
	repo := newAnalyticsRepo(t)

	recordedQuery(t, repo, "u1", "cats", []Candidate{{ClipID: "c1", Score: 0.5}})
	recordedQuery(t, repo, "u1", "cats", []Candidate{{ClipID: "c1", Score: 0.5}})
	recordedQuery(t, repo, "u1", "dogs", nil)

	stats, err := repo.Stats(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalSearches)
	require.InDelta(t, 2.0/3.0, stats.AvgResults, 1e-9)
	require.InDelta(t, 1.0/3.0, stats.ZeroResultRate, 1e-9)
	require.Equal(t, "cats", stats.TopQueries[0], "most frequent query first")
}

func TestRecordInteraction_WithoutQueryID(t *testing.T) {
	repo := newAnalyticsRepo(t)

	err := repo.RecordInteraction(context.Background(), &Interaction{
		ID:        catalog.NewID(),
		UserID:    "u1",
		ClipID:    "v1_clip_0",
		Action:    ActionShared,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err, "interactions outside a search session carry no query id")
}
