package search

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Repository persists search analytics.
type Repository interface {
	RecordQuery(ctx context.Context, q *Query, results []Candidate) error
	History(ctx context.Context, userID string, limit int) ([]*Query, error)
	RecordInteraction(ctx context.Context, in *Interaction) error
	PopularClips(ctx context.Context, userID string, since time.Time, limit int) ([]PopularClip, error)
	Stats(ctx context.Context, userID string) (*UserStats, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordQuery stores one search and its returned ranking in a single
// transaction.
func (r *SQLiteRepository) RecordQuery(ctx context.Context, q *Query, results []Candidate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO search_queries (id, user_id, query_text, results_count, processing_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, q.ID, q.UserID, q.QueryText, q.ResultsCount, q.ProcessingTimeMS, q.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return err
	}

	for rank, c := range results {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO search_results (id, search_query_id, clip_id, rank, relevance_score)
			VALUES (?, ?, ?, ?, ?)
		`, uuid.NewString(), q.ID, c.ClipID, rank+1, c.Score)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) History(ctx context.Context, userID string, limit int) ([]*Query, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, query_text, results_count, processing_time_ms, created_at
		FROM search_queries WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queries []*Query
	for rows.Next() {
		var q Query
		var processingMS sql.NullFloat64
		var createdAt string
		if err := rows.Scan(&q.ID, &q.UserID, &q.QueryText, &q.ResultsCount, &processingMS, &createdAt); err != nil {
			return nil, err
		}
		q.ProcessingTimeMS = processingMS.Float64
		q.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		queries = append(queries, &q)
	}
	return queries, rows.Err()
}

func (r *SQLiteRepository) RecordInteraction(ctx context.Context, in *Interaction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clip_interactions (id, user_id, clip_id, search_query_id, action, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, in.ID, in.UserID, in.ClipID, nullString(in.SearchQueryID), in.Action,
		in.DurationSeconds, in.CreatedAt.Format(time.RFC3339))
	return err
}

// PopularClips ranks a user's clips by interaction count since the
// given time.
func (r *SQLiteRepository) PopularClips(ctx context.Context, userID string, since time.Time, limit int) ([]PopularClip, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT clip_id, COUNT(*) AS n
		FROM clip_interactions
		WHERE user_id = ? AND created_at >= ?
		GROUP BY clip_id
		ORDER BY n DESC, clip_id
		LIMIT ?
	`, userID, since.Format(time.RFC3339), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []PopularClip
	for rows.Next() {
		var p PopularClip
		if err := rows.Scan(&p.ClipID, &p.Interactions); err != nil {
			return nil, err
		}
		clips = append(clips, p)
	}
	return clips, rows.Err()
}

func (r *SQLiteRepository) Stats(ctx context.Context, userID string) (*UserStats, error) {
	stats := &UserStats{}

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(AVG(results_count), 0),
		       COALESCE(AVG(processing_time_ms), 0),
		       COALESCE(AVG(CASE WHEN results_count = 0 THEN 1.0 ELSE 0.0 END), 0)
		FROM search_queries WHERE user_id = ?
	`, userID).Scan(&stats.TotalSearches, &stats.AvgResults, &stats.AvgLatencyMS, &stats.ZeroResultRate)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT query_text FROM search_queries
		WHERE user_id = ?
		GROUP BY query_text
		ORDER BY COUNT(*) DESC, MAX(created_at) DESC
		LIMIT 5
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, err
		}
		stats.TopQueries = append(stats.TopQueries, q)
	}
	return stats, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
