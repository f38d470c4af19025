package catalog

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	CreateVideo(ctx context.Context, v *Video) error
	GetVideo(ctx context.Context, id string) (*Video, error)
	ListVideosByUser(ctx context.Context, userID string) ([]*Video, error)
	UpdateVideoStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateVideoMetadata(ctx context.Context, v *Video) error
	MarkVideoIndexed(ctx context.Context, id string, processedAt time.Time) error
	DeleteVideo(ctx context.Context, id string) error
	CountVideosByUser(ctx context.Context, userID string) (int, error)

	UpsertClip(ctx context.Context, c *Clip) error
	GetClip(ctx context.Context, id string) (*Clip, error)
	GetClipsByVideo(ctx context.Context, videoID string) ([]*Clip, error)
	DeleteClipsByVideo(ctx context.Context, videoID string) error

	CreateJob(ctx context.Context, j *IngestJob) error
	GetJob(ctx context.Context, id string) (*IngestJob, error)
	ClaimPendingJob(ctx context.Context) (*IngestJob, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	IncrementJobAttempts(ctx context.Context, id string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateVideo(ctx context.Context, v *Video) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO videos (id, user_id, title, filename, storage_key, duration, size_bytes,
			width, height, fps, codec, status, thumbnail_key, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.UserID, nullString(v.Title), v.Filename, v.StorageKey, v.Duration, v.SizeBytes,
		v.Width, v.Height, v.FPS, nullString(v.Codec), v.Status, nullString(v.ThumbnailKey),
		nullString(v.Error), v.CreatedAt.Format(time.RFC3339))
	return err
}

const videoColumns = `id, user_id, title, filename, storage_key, duration, size_bytes,
	width, height, fps, codec, status, thumbnail_key, error, created_at, processed_at`

func (r *SQLiteRepository) GetVideo(ctx context.Context, id string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	return scanVideo(row.Scan)
}

func (r *SQLiteRepository) ListVideosByUser(ctx context.Context, userID string) ([]*Video, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		v, err := scanVideo(rows.Scan)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func scanVideo(scan func(dest ...any) error) (*Video, error) {
	var v Video
	var title, codec, thumbnailKey, errMsg, processedAt sql.NullString
	var createdAt string
	var duration, fps sql.NullFloat64
	var sizeBytes sql.NullInt64
	var width, height sql.NullInt64

	err := scan(&v.ID, &v.UserID, &title, &v.Filename, &v.StorageKey, &duration, &sizeBytes,
		&width, &height, &fps, &codec, &v.Status, &thumbnailKey, &errMsg, &createdAt, &processedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	v.Title = title.String
	v.Codec = codec.String
	v.ThumbnailKey = thumbnailKey.String
	v.Error = errMsg.String
	v.Duration = duration.Float64
	v.FPS = fps.Float64
	v.SizeBytes = sizeBytes.Int64
	v.Width = int(width.Int64)
	v.Height = int(height.Int64)
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if processedAt.Valid {
		t, err := time.Parse(time.RFC3339, processedAt.String)
		if err == nil {
			v.ProcessedAt = &t
		}
	}
	return &v, nil
}

func (r *SQLiteRepository) UpdateVideoStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE videos SET status = ?, error = ? WHERE id = ?`,
		status, nullString(errorMsg), id)
	return err
}

func (r *SQLiteRepository) UpdateVideoMetadata(ctx context.Context, v *Video) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE videos SET duration = ?, size_bytes = ?, width = ?, height = ?,
			fps = ?, codec = ?, thumbnail_key = ?
		WHERE id = ?
	`, v.Duration, v.SizeBytes, v.Width, v.Height, v.FPS, nullString(v.Codec),
		nullString(v.ThumbnailKey), v.ID)
	return err
}

func (r *SQLiteRepository) MarkVideoIndexed(ctx context.Context, id string, processedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE videos SET status = ?, error = NULL, processed_at = ? WHERE id = ?`,
		StatusIndexed, processedAt.Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) DeleteVideo(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM videos WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) CountVideosByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM videos WHERE user_id = ?", userID).Scan(&count)
	return count, err
}

func (r *SQLiteRepository) UpsertClip(ctx context.Context, c *Clip) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clips (id, video_id, start_time, end_time, transcript, thumbnail_key, embedding_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			transcript = excluded.transcript,
			thumbnail_key = excluded.thumbnail_key,
			embedding_id = excluded.embedding_id
	`, c.ID, c.VideoID, c.StartTime, c.EndTime, nullString(c.Transcript),
		nullString(c.ThumbnailKey), nullString(c.EmbeddingID), c.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetClip(ctx context.Context, id string) (*Clip, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, video_id, start_time, end_time, transcript, thumbnail_key, embedding_id, created_at
		FROM clips WHERE id = ?
	`, id)

	var c Clip
	var transcript, thumbnailKey, embeddingID sql.NullString
	var createdAt string
	err := row.Scan(&c.ID, &c.VideoID, &c.StartTime, &c.EndTime, &transcript, &thumbnailKey, &embeddingID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Transcript = transcript.String
	c.ThumbnailKey = thumbnailKey.String
	c.EmbeddingID = embeddingID.String
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

func (r *SQLiteRepository) GetClipsByVideo(ctx context.Context, videoID string) ([]*Clip, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, video_id, start_time, end_time, transcript, thumbnail_key, embedding_id, created_at
		FROM clips WHERE video_id = ? ORDER BY start_time
	`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []*Clip
	for rows.Next() {
		var c Clip
		var transcript, thumbnailKey, embeddingID sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &c.VideoID, &c.StartTime, &c.EndTime, &transcript, &thumbnailKey, &embeddingID, &createdAt); err != nil {
			return nil, err
		}
		c.Transcript = transcript.String
		c.ThumbnailKey = thumbnailKey.String
		c.EmbeddingID = embeddingID.String
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		clips = append(clips, &c)
	}
	return clips, rows.Err()
}

func (r *SQLiteRepository) DeleteClipsByVideo(ctx context.Context, videoID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM clips WHERE video_id = ?", videoID)
	return err
}

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *IngestJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ingest_jobs (id, video_id, status, attempts, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.VideoID, j.Status, j.Attempts, nullString(j.Error),
		j.CreatedAt.Format(time.RFC3339), j.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*IngestJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, video_id, status, attempts, error, created_at, updated_at
		FROM ingest_jobs WHERE id = ?
	`, id)
	return scanJob(row.Scan)
}

// ClaimPendingJob atomically flips the oldest pending job to running and
// returns it. Returns nil when the queue is empty. SQLite serializes
// writers, so concurrent workers never claim the same job.
func (r *SQLiteRepository) ClaimPendingJob(ctx context.Context) (*IngestJob, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE ingest_jobs SET status = ?, updated_at = datetime('now')
		WHERE id = (SELECT id FROM ingest_jobs WHERE status = ? ORDER BY created_at ASC LIMIT 1)
		RETURNING id, video_id, status, attempts, error, created_at, updated_at
	`, JobStatusRunning, JobStatusPending)
	j, err := scanJob(row.Scan)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func scanJob(scan func(dest ...any) error) (*IngestJob, error) {
	var j IngestJob
	var errMsg sql.NullString
	var createdAt, updatedAt string

	err := scan(&j.ID, &j.VideoID, &j.Status, &j.Attempts, &errMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.Error = errMsg.String
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &j, nil
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ingest_jobs SET status = ?, error = ?, updated_at = datetime('now') WHERE id = ?
	`, status, nullString(errorMsg), id)
	return err
}

func (r *SQLiteRepository) IncrementJobAttempts(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ingest_jobs SET attempts = attempts + 1, updated_at = datetime('now') WHERE id = ?
	`, id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
