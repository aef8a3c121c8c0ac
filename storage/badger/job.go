package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/storage"
)

// JobRepository implements storage.JobRepository for BadgerDB.
type JobRepository struct {
	backend *Backend
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a new JobRepository.
func NewJobRepository(backend *Backend) *JobRepository {
	return &JobRepository{
		backend: backend,
	}
}

// CreateJob persists a new job. A marker key per document guards against
// two processing jobs for the same document.
func (r *JobRepository) CreateJob(ctx context.Context, job *core.Job) error {
	key := makeJobKey(job.ID)
	activeKey := makeActiveJobKey(job.DocumentID)
	return r.backend.Update(func(tx *badger.Txn) error {
		if _, err := tx.Get(key); err == nil {
			return fmt.Errorf("%w: job %s", storage.ErrDuplicateKey, job.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if item, err := tx.Get(activeKey); err == nil {
			var running []byte
			running, _ = item.ValueCopy(nil)
			return fmt.Errorf("%w: document %d is being processed by job %s",
				storage.ErrDuplicateKey, job.DocumentID, running)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		now := time.Now().UTC()
		job.Status = core.JobProcessing
		job.CreatedAt = now
		job.UpdatedAt = now
		if err := tx.Set(key, storage.MarshalJob(job)); err != nil {
			return err
		}
		return tx.Set(activeKey, []byte(job.ID))
	})
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*core.Job, error) {
	var result *core.Job
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = get(tx, makeJobKey(id), storage.UnmarshalJob)
		return err
	}, false)
	return result, err
}

// SaveBatchBlocks retains the raw blocks of a batch.
func (r *JobRepository) SaveBatchBlocks(ctx context.Context, jobID string, batchID int, blocks []string) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		return tx.Set(makeJobBlocksKey(jobID, batchID), storage.MarshalBlocks(blocks))
	})
}

// GetBatchBlocks returns the retained blocks of a batch.
func (r *JobRepository) GetBatchBlocks(ctx context.Context, jobID string, batchID int) ([]string, error) {
	var result []string
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = get(tx, makeJobBlocksKey(jobID, batchID), storage.UnmarshalBlocks)
		return err
	}, false)
	return result, err
}

// MarkBatchDone adds the batch to the completed set once.
func (r *JobRepository) MarkBatchDone(ctx context.Context, report core.CompletionReport) (*core.Job, bool, error) {
	var (
		result *core.Job
		added  bool
	)
	err := r.mutate(report.JobID, func(job *core.Job) (bool, error) {
		if _, ok := job.Batch(report.BatchID); !ok {
			return false, fmt.Errorf("%w: job %s has no batch %d", core.ErrUnknownBatch, job.ID, report.BatchID)
		}
		result = job
		job.Completed, added = core.AddToSet(job.Completed, report.BatchID)
		if !added {
			return false, nil
		}
		job.Failed, _ = core.RemoveFromSet(job.Failed, report.BatchID)
		job.ChunksCreated += report.ChunksCreated
		job.FailedBlocks += report.FailedBlocks
		return true, nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, added, nil
}

// MarkBatchFailed records a permanently failed dispatch.
func (r *JobRepository) MarkBatchFailed(ctx context.Context, jobID string, batchID int) error {
	return r.mutate(jobID, func(job *core.Job) (bool, error) {
		if _, ok := job.Batch(batchID); !ok {
			return false, fmt.Errorf("%w: job %s has no batch %d", core.ErrUnknownBatch, job.ID, batchID)
		}
		if job.IsBatchDone(batchID) {
			return false, nil
		}
		var added bool
		job.Failed, added = core.AddToSet(job.Failed, batchID)
		return added, nil
	})
}

// ClearBatchFailed removes a batch from the failed set.
func (r *JobRepository) ClearBatchFailed(ctx context.Context, jobID string, batchID int) error {
	return r.mutate(jobID, func(job *core.Job) (bool, error) {
		var removed bool
		job.Failed, removed = core.RemoveFromSet(job.Failed, batchID)
		return removed, nil
	})
}

// TryTransitionStatus performs a compare-and-set on the job status. Leaving
// the processing state also releases the document's processing marker.
func (r *JobRepository) TryTransitionStatus(ctx context.Context, jobID string, from, to core.JobStatus) (bool, error) {
	key := makeJobKey(jobID)
	var won bool
	err := r.backend.Update(func(tx *badger.Txn) error {
		won = false
		job, err := get(tx, key, storage.UnmarshalJob)
		if err != nil {
			return err
		}
		if job.Status != from {
			return errNoop
		}
		job.Status = to
		job.UpdatedAt = time.Now().UTC()
		if err := tx.Set(key, storage.MarshalJob(job)); err != nil {
			return err
		}
		if from == core.JobProcessing {
			if err := releaseActive(tx, job); err != nil {
				return err
			}
		}
		won = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

// IncrementRedispatches bumps the job's re-dispatch counter.
func (r *JobRepository) IncrementRedispatches(ctx context.Context, jobID string) (int, error) {
	var count int
	err := r.mutate(jobID, func(job *core.Job) (bool, error) {
		job.Redispatches++
		count = job.Redispatches
		return true, nil
	})
	return count, err
}

// ListJobsByStatus scans all jobs and returns those in status.
func (r *JobRepository) ListJobsByStatus(ctx context.Context, status core.JobStatus) ([]*core.Job, error) {
	var results []*core.Job
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := makeJobPrefix()
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			item := iter.Item()
			var job *core.Job
			err := item.Value(func(val []byte) error {
				var err error
				job, err = storage.UnmarshalJob(val)
				return err
			})
			if err != nil {
				return err
			}
			if job.Status == status {
				results = append(results, job)
			}
		}
		return nil
	}, false)
	return results, err
}

// mutate applies fn to the stored job inside a conflict-checked update.
// fn reports whether it changed the job; unchanged jobs are not rewritten.
func (r *JobRepository) mutate(jobID string, fn func(job *core.Job) (bool, error)) error {
	key := makeJobKey(jobID)
	return r.backend.Update(func(tx *badger.Txn) error {
		job, err := get(tx, key, storage.UnmarshalJob)
		if err != nil {
			return err
		}
		changed, err := fn(job)
		if err != nil {
			return err
		}
		if !changed {
			return errNoop
		}
		job.UpdatedAt = time.Now().UTC()
		return tx.Set(key, storage.MarshalJob(job))
	})
}

// releaseActive removes the document's processing marker if it still points
// at the job.
func releaseActive(tx *badger.Txn, job *core.Job) error {
	activeKey := makeActiveJobKey(job.DocumentID)
	item, err := tx.Get(activeKey)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	current, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	if string(current) != job.ID {
		return nil
	}
	return tx.Delete(activeKey)
}
