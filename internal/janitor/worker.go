// Package janitor runs the background maintenance loop: consolidating
// episodes into facts and periodically forgetting stale memories.
package janitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/mnemo/internal/memory"
	"github.com/kalambet/mnemo/internal/storage"
)

// Job types processed by the worker.
const (
	JobConsolidateEpisode = "consolidate_episode"
	JobMemoryCleanup      = "memory_cleanup"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// FactExtractor mines facts from a stored episode.
type FactExtractor interface {
	ExtractFactsFromEpisode(episodeID string) ([]int64, error)
}

// FactLoader loads facts by ID for post-extraction association.
type FactLoader interface {
	GetFact(id int64) (storage.Fact, error)
}

// Associator links a fact into the knowledge graph.
type Associator interface {
	AutoAssociate(fact storage.Fact) ([]int64, error)
}

// Cleaner runs a forgetting pass.
type Cleaner interface {
	Cleanup() (memory.CleanupResult, error)
	Optimize() error
}

// Worker processes consolidation and cleanup jobs from the SQLite job queue.
type Worker struct {
	jobs       JobStore
	extractor  FactExtractor
	facts      FactLoader
	associator Associator
	cleaner    Cleaner
	poll       time.Duration
	logger     *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(jobs JobStore, extractor FactExtractor, facts FactLoader, associator Associator, cleaner Cleaner, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		jobs:       jobs,
		extractor:  extractor,
		facts:      facts,
		associator: associator,
		cleaner:    cleaner,
		poll:       pollInterval,
		logger:     slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextJob([]string{JobConsolidateEpisode, JobMemoryCleanup})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		if failErr := w.jobs.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.jobs.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// ConsolidatePayload is the payload of a consolidate_episode job.
type ConsolidatePayload struct {
	EpisodeID string `json:"episode_id"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case JobConsolidateEpisode:
		return w.consolidateEpisode(job)
	case JobMemoryCleanup:
		return w.runCleanup()
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (w *Worker) consolidateEpisode(job *storage.Job) error {
	var payload ConsolidatePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.EpisodeID == "" {
		return fmt.Errorf("payload missing episode_id")
	}

	factIDs, err := w.extractor.ExtractFactsFromEpisode(payload.EpisodeID)
	if err != nil {
		return fmt.Errorf("extracting facts from episode %s: %w", payload.EpisodeID, err)
	}

	for _, id := range factIDs {
		fact, err := w.facts.GetFact(id)
		if err != nil {
			return fmt.Errorf("loading extracted fact %d: %w", id, err)
		}
		if _, err := w.associator.AutoAssociate(fact); err != nil {
			return fmt.Errorf("associating fact %d: %w", id, err)
		}
	}
	return nil
}

func (w *Worker) runCleanup() error {
	res, err := w.cleaner.Cleanup()
	if err != nil {
		return fmt.Errorf("running cleanup: %w", err)
	}

	// Compact the file only when the pass actually freed something.
	if res.Total() > 0 {
		if err := w.cleaner.Optimize(); err != nil {
			w.logger.Warn("database optimization failed", "error", err)
		}
	}
	return nil
}
