package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipmind/clipmind-server/internal/catalog"
	"github.com/clipmind/clipmind-server/internal/config"
	"github.com/clipmind/clipmind-server/internal/ingest"
	"github.com/clipmind/clipmind-server/internal/search"
)

// maxUploadBytes caps multipart video uploads.
const maxUploadBytes = 4 << 30

var allowedExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".webm": true, ".avi": true,
}

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	r.Handle("/metrics", cfg.Metrics.Handler())

	// Blob access is authorized by the URL signature itself.
	r.Get("/files/*", filesHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Post("/videos", uploadVideoHandler(cfg))
		r.Get("/videos", listVideosHandler(cfg))
		r.Get("/videos/{id}", getVideoHandler(cfg))
		r.Delete("/videos/{id}", deleteVideoHandler(cfg))
		r.Post("/videos/{id}/reingest", reingestHandler(cfg))
		r.Get("/videos/{id}/clips", listClipsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))

		r.Post("/search", searchHandler(cfg))
		r.Get("/search/history", historyHandler(cfg))
		r.Post("/interactions", interactionHandler(cfg))
		r.Get("/analytics/popular", popularHandler(cfg))
		r.Get("/analytics/stats", statsHandler(cfg))

		r.Post("/ingest/pause", pauseHandler(cfg))
		r.Post("/ingest/resume", resumeHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := cfg.Repository.CountVideosByUser(r.Context(), UserID(r))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to count videos", "INTERNAL_ERROR")
			return
		}

		state := "ready"
		paused := false
		if cfg.Runner != nil {
			paused = cfg.Runner.Paused()
			if paused {
				state = "paused"
			}
		}
		WriteJSON(w, http.StatusOK, StatusResponse{
			State:         state,
			VideosTotal:   count,
			IngestWorkers: cfg.IngestWorkers,
			IngestPaused:  paused,
		})
	}
}

func uploadVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid multipart body", "BAD_REQUEST")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			WriteError(w, http.StatusBadRequest, "file field is required", "BAD_REQUEST")
			return
		}
		defer file.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !allowedExtensions[ext] {
			WriteError(w, http.StatusUnsupportedMediaType,
				fmt.Sprintf("unsupported file extension %q", ext), "UNSUPPORTED_MEDIA")
			return
		}

		videoID := catalog.NewID()
		storageKey := "media/" + videoID + ext

		size, err := cfg.Store.Save(storageKey, file)
		if err != nil {
			cfg.Logger.Error("cannot store upload", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to store upload", "INTERNAL_ERROR")
			return
		}

		video := &catalog.Video{
			ID:         videoID,
			UserID:     UserID(r),
			Title:      r.FormValue("title"),
			Filename:   filepath.Base(header.Filename),
			StorageKey: storageKey,
			SizeBytes:  size,
			Status:     catalog.StatusPending,
			CreatedAt:  time.Now().UTC(),
		}
		if err := cfg.Repository.CreateVideo(r.Context(), video); err != nil {
			_ = cfg.Store.Remove(storageKey)
			cfg.Logger.Error("cannot create video record", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to create video", "INTERNAL_ERROR")
			return
		}

		job, err := ingest.Enqueue(r.Context(), cfg.Repository, videoID)
		if err != nil {
			cfg.Logger.Error("cannot enqueue ingest job", "video_id", videoID, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to enqueue ingestion", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusAccepted, UploadResponse{
			VideoID: videoID,
			JobID:   job.ID,
			Status:  catalog.StatusPending,
		})
	}
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videos, err := cfg.Repository.ListVideosByUser(r.Context(), UserID(r))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list videos", "INTERNAL_ERROR")
			return
		}

		resp := VideosResponse{Videos: make([]VideoResponse, len(videos))}
		for i, v := range videos {
			resp.Videos[i] = VideoToResponse(v, cfg.signedURL(v.ThumbnailKey))
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// loadOwnedVideo fetches a video and enforces ownership. Videos owned
// by other users are reported as not found, never as forbidden.
func loadOwnedVideo(cfg ServerConfig, r *http.Request) (*catalog.Video, int, string) {
	id := chi.URLParam(r, "id")
	if id == "" {
		return nil, http.StatusBadRequest, "video id required"
	}
	video, err := cfg.Repository.GetVideo(r.Context(), id)
	if err != nil {
		return nil, http.StatusInternalServerError, "failed to load video"
	}
	if video == nil || video.UserID != UserID(r) {
		return nil, http.StatusNotFound, "video not found"
	}
	return video, 0, ""
}

func getVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, status, msg := loadOwnedVideo(cfg, r)
		if video == nil {
			WriteError(w, status, msg, codeForStatus(status))
			return
		}
		WriteJSON(w, http.StatusOK, VideoToResponse(video, cfg.signedURL(video.ThumbnailKey)))
	}
}

func deleteVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, status, msg := loadOwnedVideo(cfg, r)
		if video == nil {
			WriteError(w, status, msg, codeForStatus(status))
			return
		}
		ctx := r.Context()

		// Vectors first: once the index rows are gone, stale hits are
		// impossible. Catalog rows go last so a partial delete is
		// retryable.
		if err := cfg.Deleter.DeleteVideoVectors(ctx, video.ID); err != nil {
			cfg.Logger.Error("cannot delete vectors", "video_id", video.ID, "error", err)
			WriteError(w, http.StatusBadGateway, "failed to delete index entries", "INDEX_ERROR")
			return
		}

		clips, err := cfg.Repository.GetClipsByVideo(ctx, video.ID)
		if err == nil {
			for _, c := range clips {
				if c.ThumbnailKey != "" {
					_ = cfg.Store.Remove(c.ThumbnailKey)
				}
			}
		}
		_ = cfg.Store.Remove(video.StorageKey)

		if err := cfg.Repository.DeleteVideo(ctx, video.ID); err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to delete video", "INTERNAL_ERROR")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func reingestHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, status, msg := loadOwnedVideo(cfg, r)
		if video == nil {
			WriteError(w, status, msg, codeForStatus(status))
			return
		}

		job, err := ingest.Enqueue(r.Context(), cfg.Repository, video.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to enqueue ingestion", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusAccepted, ReingestResponse{JobID: job.ID})
	}
}

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, status, msg := loadOwnedVideo(cfg, r)
		if video == nil {
			WriteError(w, status, msg, codeForStatus(status))
			return
		}

		clips, err := cfg.Repository.GetClipsByVideo(r.Context(), video.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list clips", "INTERNAL_ERROR")
			return
		}

		resp := ClipsResponse{Clips: make([]ClipResponse, len(clips))}
		for i, c := range clips {
			resp.Clips[i] = ClipResponse{
				ID:           c.ID,
				VideoID:      c.VideoID,
				StartTime:    c.StartTime,
				EndTime:      c.EndTime,
				Transcript:   c.Transcript,
				ThumbnailURL: cfg.signedURL(c.ThumbnailKey),
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Repository.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to load job", "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		// Jobs leak nothing by themselves, but still scope them to the
		// video's owner.
		video, err := cfg.Repository.GetVideo(r.Context(), job.VideoID)
		if err != nil || video == nil || video.UserID != UserID(r) {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func searchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		resp, err := cfg.Search.Search(r.Context(), UserID(r), req.Query,
			search.Filters{VideoIDs: req.VideoIDs}, req.Limit)
		if err != nil {
			if errors.Is(err, search.ErrEmptyQuery) {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			cfg.Logger.Error("search failed", "error", err)
			WriteError(w, http.StatusBadGateway, "search backend unavailable", "SEARCH_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func historyHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		history, err := cfg.Search.History(r.Context(), UserID(r), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to load history", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"queries": history})
	}
}

func interactionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InteractionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.ClipID == "" || req.Action == "" {
			WriteError(w, http.StatusBadRequest, "clip_id and action are required", "BAD_REQUEST")
			return
		}

		err := cfg.Search.TrackInteraction(r.Context(), &search.Interaction{
			UserID:          UserID(r),
			ClipID:          req.ClipID,
			SearchQueryID:   req.SearchQueryID,
			Action:          req.Action,
			DurationSeconds: req.DurationSeconds,
		})
		if err != nil {
			if errors.Is(err, search.ErrInvalidAction) {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			if errors.Is(err, catalog.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, "failed to record interaction", "INTERNAL_ERROR")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func popularHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours, _ := strconv.Atoi(r.URL.Query().Get("window_hours"))
		if hours <= 0 {
			hours = 24 * 7
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		popular, err := cfg.Search.PopularClips(r.Context(), UserID(r), time.Duration(hours)*time.Hour, limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to load popular clips", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"clips": popular})
	}
}

func statsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := cfg.Search.Stats(r.Context(), UserID(r))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to load stats", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusConflict, "ingest runner not running", "CONFLICT")
			return
		}
		cfg.Runner.Pause()
		w.WriteHeader(http.StatusNoContent)
	}
}

func resumeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusConflict, "ingest runner not running", "CONFLICT")
			return
		}
		cfg.Runner.Resume()
		w.WriteHeader(http.StatusNoContent)
	}
}

func filesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		cfg.Blob.ServeKey(w, r, key)
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusNotFound:
		return "NOT_FOUND"
	default:
		return "INTERNAL_ERROR"
	}
}

// VectorDeleter removes a video's vectors from every index (satisfied
// by ingest-side wiring in main).
type VectorDeleter interface {
	DeleteVideoVectors(ctx context.Context, videoID string) error
}
