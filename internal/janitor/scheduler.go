package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/mnemo/internal/storage"
)

// Enqueuer adds jobs to the queue.
type Enqueuer interface {
	EnqueueJob(job storage.Job) error
}

// Scheduler enqueues a memory_cleanup job on a fixed interval.
type Scheduler struct {
	jobs     Enqueuer
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler. A non-positive interval defaults to 1 hour.
func NewScheduler(jobs Enqueuer, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{jobs: jobs, interval: interval, logger: slog.Default()}
}

// Run enqueues cleanup jobs until ctx is cancelled. The first job is enqueued
// after one full interval so startup is not immediately followed by a sweep.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Trigger(); err != nil {
				s.logger.Error("failed to schedule cleanup", "error", err)
			}
		}
	}
}

// Trigger enqueues a single cleanup job immediately.
func (s *Scheduler) Trigger() error {
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobMemoryCleanup,
		PayloadJSON: "{}",
	}
	if err := s.jobs.EnqueueJob(job); err != nil {
		return err
	}
	s.logger.Debug("cleanup scheduled", "job_id", job.ID)
	return nil
}
