package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipmind/clipmind-server/internal/catalog"
)

const defaultPollInterval = 2 * time.Second

// Runner polls the job queue and drives claimed jobs through the
// orchestrator. Workers claim jobs atomically, so running several
// workers (or several loops on one queue) never double-processes a
// video.
type Runner struct {
	repo     catalog.Repository
	orch     *Orchestrator
	workers  int
	interval time.Duration
	logger   *slog.Logger

	paused atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(repo catalog.Repository, orch *Orchestrator, workers int, logger *slog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		repo:     repo,
		orch:     orch,
		workers:  workers,
		interval: defaultPollInterval,
		logger:   logger,
	}
}

// Enqueue records a pending job for the video. The video must already
// exist; its status is reset to pending so a re-ingest starts clean.
func Enqueue(ctx context.Context, repo catalog.Repository, videoID string) (*catalog.IngestJob, error) {
	if err := repo.UpdateVideoStatus(ctx, videoID, catalog.StatusPending, ""); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	job := &catalog.IngestJob{
		ID:        catalog.NewID(),
		VideoID:   videoID,
		Status:    catalog.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Start launches the worker loops. It returns immediately.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.logger.Info("ingest runner starting", "workers", r.workers)

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.loop(ctx, i)
	}
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("ingest runner stopped")
}

// Pause stops claiming new jobs; in-flight jobs continue.
func (r *Runner) Pause() { r.paused.Store(true) }

// Resume re-enables job claiming.
func (r *Runner) Resume() { r.paused.Store(false) }

// Paused reports whether claiming is suspended.
func (r *Runner) Paused() bool { return r.paused.Load() }

func (r *Runner) loop(ctx context.Context, id int) {
	defer r.wg.Done()
	logger := r.logger.With("worker", id)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if r.paused.Load() {
			continue
		}

		// Drain the queue before sleeping again.
		for {
			if ctx.Err() != nil {
				return
			}
			job, err := r.repo.ClaimPendingJob(ctx)
			if err != nil {
				logger.Error("cannot claim job", "error", err)
				break
			}
			if job == nil {
				break
			}
			r.runJob(ctx, logger, job)
		}
	}
}

func (r *Runner) runJob(ctx context.Context, logger *slog.Logger, job *catalog.IngestJob) {
	logger.Info("processing ingest job", "job_id", job.ID, "video_id", job.VideoID)

	if err := r.repo.IncrementJobAttempts(ctx, job.ID); err != nil {
		logger.Error("cannot increment job attempts", "job_id", job.ID, "error", err)
	}

	_, err := r.orch.Process(ctx, job.VideoID)

	// Record the outcome even when the context is gone, so the job is
	// not stuck in running forever.
	recordCtx := context.WithoutCancel(ctx)
	if err != nil {
		if uerr := r.repo.UpdateJobStatus(recordCtx, job.ID, catalog.JobStatusFailed, err.Error()); uerr != nil {
			logger.Error("cannot mark job failed", "job_id", job.ID, "error", uerr)
		}
		logger.Warn("ingest job failed", "job_id", job.ID, "error", err)
		return
	}
	if uerr := r.repo.UpdateJobStatus(recordCtx, job.ID, catalog.JobStatusDone, ""); uerr != nil {
		logger.Error("cannot mark job done", "job_id", job.ID, "error", uerr)
	}
}
