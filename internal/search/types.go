// Package search implements hybrid retrieval: a natural-language query
// is embedded into both vector spaces, candidates from the visual and
// text indexes are fused by weighted score, and surviving candidates
// are enriched from the catalog with ownership re-verified before
// anything is returned.
package search

import "time"

// Result is one enriched search hit.
type Result struct {
	ClipID       string  `json:"clip_id"`
	VideoID      string  `json:"video_id"`
	VideoTitle   string  `json:"video_title,omitempty"`
	Filename     string  `json:"filename"`
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	Transcript   string  `json:"transcript,omitempty"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	PlaybackURL  string  `json:"playback_url,omitempty"`
	Score        float64 `json:"score"`
	VisualScore  float64 `json:"visual_score"`
	TextScore    float64 `json:"text_score"`
}

// Response wraps one search call. QueryID ties later interactions back
// to this search.
type Response struct {
	QueryID          string   `json:"query_id"`
	Query            string   `json:"query"`
	TotalResults     int      `json:"total_results"`
	Results          []Result `json:"results"`
	ProcessingTimeMS float64  `json:"processing_time_ms"`
}

// Query is one recorded search, for history and analytics.
type Query struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	QueryText        string    `json:"query_text"`
	ResultsCount     int       `json:"results_count"`
	ProcessingTimeMS float64   `json:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// Interaction actions users can perform on a result.
const (
	ActionViewed = "viewed"
	ActionPlayed = "played"
	ActionSaved  = "saved"
	ActionShared = "shared"
)

// ValidAction reports whether action is one of the known values.
func ValidAction(action string) bool {
	switch action {
	case ActionViewed, ActionPlayed, ActionSaved, ActionShared:
		return true
	}
	return false
}

// Interaction is one recorded user action on a clip.
type Interaction struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	ClipID          string    `json:"clip_id"`
	SearchQueryID   string    `json:"search_query_id,omitempty"`
	Action          string    `json:"action"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// PopularClip aggregates interaction counts per clip.
type PopularClip struct {
	ClipID       string `json:"clip_id"`
	Interactions int    `json:"interactions"`
}

// UserStats summarizes a user's search activity.
type UserStats struct {
	TotalSearches  int      `json:"total_searches"`
	AvgResults     float64  `json:"avg_results"`
	AvgLatencyMS   float64  `json:"avg_latency_ms"`
	TopQueries     []string `json:"top_queries"`
	ZeroResultRate float64  `json:"zero_result_rate"`
}
