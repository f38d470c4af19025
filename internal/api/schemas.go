package api

import (
	"time"

	"github.com/clipmind/clipmind-server/internal/catalog"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State         string `json:"state"`
	VideosTotal   int    `json:"videos_total"`
	IngestWorkers int    `json:"ingest_workers"`
	IngestPaused  bool   `json:"ingest_paused"`
}

type VideoResponse struct {
	ID           string  `json:"id"`
	Title        string  `json:"title,omitempty"`
	Filename     string  `json:"filename"`
	Duration     float64 `json:"duration,omitempty"`
	SizeBytes    int64   `json:"size_bytes,omitempty"`
	Width        int     `json:"width,omitempty"`
	Height       int     `json:"height,omitempty"`
	Status       string  `json:"status"`
	Error        string  `json:"error,omitempty"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	CreatedAt    string  `json:"created_at"`
	ProcessedAt  string  `json:"processed_at,omitempty"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
}

type UploadResponse struct {
	VideoID string `json:"video_id"`
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
}

type ReingestResponse struct {
	JobID string `json:"job_id"`
}

type ClipResponse struct {
	ID           string  `json:"id"`
	VideoID      string  `json:"video_id"`
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	Transcript   string  `json:"transcript,omitempty"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
}

type ClipsResponse struct {
	Clips []ClipResponse `json:"clips"`
}

type SearchRequest struct {
	Query    string   `json:"query"`
	VideoIDs []string `json:"video_ids,omitempty"`
	Limit    int      `json:"limit"`
}

type InteractionRequest struct {
	ClipID          string  `json:"clip_id"`
	SearchQueryID   string  `json:"search_query_id,omitempty"`
	Action          string  `json:"action"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

type JobResponse struct {
	ID       string `json:"id"`
	VideoID  string `json:"video_id"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

func VideoToResponse(v *catalog.Video, thumbnailURL string) VideoResponse {
	resp := VideoResponse{
		ID:           v.ID,
		Title:        v.Title,
		Filename:     v.Filename,
		Duration:     v.Duration,
		SizeBytes:    v.SizeBytes,
		Width:        v.Width,
		Height:       v.Height,
		Status:       v.Status,
		Error:        v.Error,
		ThumbnailURL: thumbnailURL,
		CreatedAt:    v.CreatedAt.Format(time.RFC3339),
	}
	if v.ProcessedAt != nil {
		resp.ProcessedAt = v.ProcessedAt.Format(time.RFC3339)
	}
	return resp
}

func JobToResponse(j *catalog.IngestJob) JobResponse {
	return JobResponse{
		ID:       j.ID,
		VideoID:  j.VideoID,
		Status:   j.Status,
		Attempts: j.Attempts,
		Error:    j.Error,
	}
}
