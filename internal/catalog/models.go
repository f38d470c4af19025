package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// Video processing status. Mutated only by the ingestion orchestrator;
// failed is reachable from any non-terminal state.
const (
	StatusPending   = "pending"
	StatusAnalyzing = "analyzing"
	StatusEmbedding = "embedding"
	StatusIndexed   = "indexed"
	StatusFailed    = "failed"
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

type Video struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Title        string     `json:"title,omitempty"`
	Filename     string     `json:"filename"`
	StorageKey   string     `json:"storage_key"`
	Duration     float64    `json:"duration,omitempty"`
	SizeBytes    int64      `json:"size_bytes,omitempty"`
	Width        int        `json:"width,omitempty"`
	Height       int        `json:"height,omitempty"`
	FPS          float64    `json:"fps,omitempty"`
	Codec        string     `json:"codec,omitempty"`
	Status       string     `json:"status"`
	ThumbnailKey string     `json:"thumbnail_key,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

// Clip is the canonical entity behind every indexed vector: one clip per
// detected scene. The id is deterministic so re-ingestion overwrites
// rather than duplicates.
type Clip struct {
	ID           string    `json:"id"`
	VideoID      string    `json:"video_id"`
	StartTime    float64   `json:"start_time"`
	EndTime      float64   `json:"end_time"`
	Transcript   string    `json:"transcript,omitempty"`
	ThumbnailKey string    `json:"thumbnail_key,omitempty"`
	EmbeddingID  string    `json:"embedding_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// IngestJob queues a video for the ingestion worker pool.
type IngestJob struct {
	ID        string    `json:"id"`
	VideoID   string    `json:"video_id"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewID() string {
	return uuid.NewString()
}

// ClipID returns the deterministic clip id for scene index i of a video.
func ClipID(videoID string, i int) string {
	return fmt.Sprintf("%s_clip_%d", videoID, i)
}
