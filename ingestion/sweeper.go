package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/storage"
)

// SweepStats summarizes one Sweep.
type SweepStats struct {
	Scanned      int `json:"scanned"`
	Stale        int `json:"stale"`
	Completed    int `json:"completed"`
	Redispatched int `json:"redispatched"`
	Abandoned    int `json:"abandoned"`
	Errors       int `json:"errors"`
}

// Sweeper finds processing jobs that stopped making progress. Batches
// without a recorded completion are re-dispatched from their retained
// blocks; a job that is still stale after MaxRedispatches rounds is
// abandoned.
type Sweeper struct {
	jobs            storage.JobRepository
	coordinator     *Coordinator
	staleAfter      time.Duration
	maxRedispatches int
	logger          *slog.Logger
	now             func() time.Time
}

// NewSweeper creates a Sweeper that dispatches through coordinator.
func NewSweeper(jobs storage.JobRepository, coordinator *Coordinator, opts ...Option) (*Sweeper, error) {
	if jobs == nil {
		return nil, ErrJobRepositoryRequired
	}
	if coordinator == nil {
		return nil, ErrCoordinatorRequired
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		jobs:            jobs,
		coordinator:     coordinator,
		staleAfter:      o.staleAfter,
		maxRedispatches: o.maxRedispatches,
		logger:          o.logger.With("component", "sweeper"),
		now:             time.Now,
	}, nil
}

// Sweep examines every processing job once. Errors on single jobs are
// logged and counted; the returned error is set only when jobs cannot be
// listed.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	jobs, err := s.jobs.ListJobsByStatus(ctx, core.JobProcessing)
	if err != nil {
		return stats, fmt.Errorf("listing processing jobs: %w", err)
	}

	cutoff := s.now().Add(-s.staleAfter)
	for _, job := range jobs {
		stats.Scanned++
		if job.UpdatedAt.After(cutoff) {
			continue
		}
		stats.Stale++
		if err := s.sweepJob(ctx, job, &stats); err != nil {
			s.logger.Error("error sweeping job", "job", job.ID, "err", err)
			stats.Errors++
		}
	}

	if stats.Stale > 0 {
		s.logger.Info("sweep finished", "scanned", stats.Scanned, "stale", stats.Stale,
			"redispatched", stats.Redispatched, "abandoned", stats.Abandoned, "errors", stats.Errors)
	}
	return stats, nil
}

func (s *Sweeper) sweepJob(ctx context.Context, job *core.Job, stats *SweepStats) error {
	// Every batch reported but the final transition never happened.
	if job.AllBatchesDone() {
		if err := s.coordinator.complete(ctx, job); err != nil {
			return err
		}
		stats.Completed++
		return nil
	}

	if job.Redispatches >= s.maxRedispatches {
		reason := fmt.Sprintf("no progress after %d re-dispatches", job.Redispatches)
		won, err := s.coordinator.abandon(ctx, job, reason)
		if err != nil {
			return err
		}
		if won {
			stats.Abandoned++
		}
		return nil
	}

	var lastErr error
	for _, id := range job.PendingBatches() {
		batch, _ := job.Batch(id)
		blocks, err := s.jobs.GetBatchBlocks(ctx, job.ID, id)
		if err != nil {
			lastErr = fmt.Errorf("loading blocks of batch %d: %w", id, err)
			continue
		}
		if job.IsBatchFailed(id) {
			if err := s.jobs.ClearBatchFailed(ctx, job.ID, id); err != nil {
				lastErr = err
				continue
			}
		}
		if err := s.coordinator.dispatch(ctx, job, batch, blocks); err != nil {
			lastErr = fmt.Errorf("re-dispatching batch %d: %w", id, err)
			continue
		}
		stats.Redispatched++
	}

	n, err := s.jobs.IncrementRedispatches(ctx, job.ID)
	if err != nil {
		return err
	}
	s.logger.Info("job re-dispatched", "job", job.ID, "round", n, "pending", len(job.PendingBatches()))
	return lastErr
}
