// Package vectorindex is the HTTP client for the managed similarity
// index. The service exposes one index per modality (visual and text);
// a Client instance is bound to exactly one index.
package vectorindex

import (
	"encoding/json"
	"fmt"
)

// Vector type values stored in metadata.
const (
	TypeVisual = "visual"
	TypeText   = "text"
)

// Metadata travels with every vector so search results can be
// interpreted without parsing vector ids.
type Metadata struct {
	ClipID    string  `json:"clip_id"`
	VideoID   string  `json:"video_id"`
	UserID    string  `json:"user_id"`
	Type      string  `json:"type"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Text      string  `json:"text,omitempty"`
}

// Vector is one indexed embedding.
type Vector struct {
	ID       string    `json:"id"`
	Values   []float32 `json:"values"`
	Metadata Metadata  `json:"metadata"`
}

// Filter restricts queries and deletions by metadata. Zero-valued
// fields are omitted from the request. Conditions are conjunctive;
// VideoIDs matches any id in the list and takes precedence over the
// single VideoID form.
type Filter struct {
	UserID   string
	VideoID  string
	VideoIDs []string
	Type     string
}

// IsZero reports whether the filter has no conditions at all.
func (f Filter) IsZero() bool {
	return f.UserID == "" && f.VideoID == "" && len(f.VideoIDs) == 0 && f.Type == ""
}

// MarshalJSON emits the index service's filter grammar: bare values are
// equality matches, lists become an $in condition.
func (f Filter) MarshalJSON() ([]byte, error) {
	conds := make(map[string]any, 3)
	if f.UserID != "" {
		conds["user_id"] = f.UserID
	}
	switch {
	case len(f.VideoIDs) > 0:
		conds["video_id"] = map[string][]string{"$in": f.VideoIDs}
	case f.VideoID != "":
		conds["video_id"] = f.VideoID
	}
	if f.Type != "" {
		conds["type"] = f.Type
	}
	return json.Marshal(conds)
}

// Match is one query hit. Score is cosine similarity in [-1, 1]; with
// normalized vectors it equals the dot product.
type Match struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// Stats describes the remote index.
type Stats struct {
	Dimension   int   `json:"dimension"`
	VectorCount int64 `json:"total_vector_count"`
}

// IndexError is a non-2xx response from the index service.
type IndexError struct {
	StatusCode int
	Body       string
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index request failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether the request may succeed on retry. Server
// errors and throttling are retryable; other client errors are
// permanent.
func (e *IndexError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
