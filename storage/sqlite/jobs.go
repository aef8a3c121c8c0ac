package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/storage"
)

// Batch states in job_batches.state.
const (
	batchPending = 0
	batchDone    = 1
	batchFailed  = 2
)

// jobStore implements storage.JobRepository.
type jobStore struct {
	store *Store
}

var _ storage.JobRepository = (*jobStore)(nil)

// CreateJob inserts the job and one row per batch.
func (s *jobStore) CreateJob(ctx context.Context, job *core.Job) error {
	now := time.Now().UTC()
	job.Status = core.JobProcessing
	job.CreatedAt = now
	job.UpdatedAt = now

	return s.store.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (id, document_id, title, reader_id, notify_target, mode, policy,
				total_batches, chunks_created, failed_blocks, status, redispatches, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, 0, ?, ?)
		`, job.ID, dbID(job.DocumentID), job.Title, job.ReaderID, job.NotifyTarget,
			string(job.Mode), string(job.Policy), job.TotalBatches, int(job.Status),
			dbTime(now), dbTime(now))
		if err != nil {
			return fmt.Errorf("inserting job: %w", classify(err))
		}

		for _, b := range job.Batches {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO job_batches (job_id, batch_id, start_block, end_block, state)
				VALUES (?, ?, ?, ?, ?)
			`, job.ID, b.ID, b.Start, b.End, batchPending)
			if err != nil {
				return fmt.Errorf("inserting batch: %w", classify(err))
			}
		}
		return nil
	})
}

// GetJob retrieves a job by ID.
func (s *jobStore) GetJob(ctx context.Context, id string) (*core.Job, error) {
	return loadJob(ctx, s.store.db, id)
}

// SaveBatchBlocks stores the batch's raw blocks next to its descriptor.
func (s *jobStore) SaveBatchBlocks(ctx context.Context, jobID string, batchID int, blocks []string) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE job_batches SET blocks = ? WHERE job_id = ? AND batch_id = ?
	`, storage.MarshalBlocks(blocks), jobID, batchID)
	if err != nil {
		return fmt.Errorf("saving batch blocks: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: job %s batch %d", storage.ErrNotFound, jobID, batchID)
	}
	return nil
}

// GetBatchBlocks returns the retained blocks of a batch.
func (s *jobStore) GetBatchBlocks(ctx context.Context, jobID string, batchID int) ([]string, error) {
	var data []byte
	err := s.store.db.QueryRowContext(ctx, `
		SELECT blocks FROM job_batches WHERE job_id = ? AND batch_id = ?
	`, jobID, batchID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && data == nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning batch blocks: %w", classify(err))
	}
	return storage.UnmarshalBlocks(data)
}

// MarkBatchDone flips the batch to done with a conditional update, so only
// the first report changes the row.
func (s *jobStore) MarkBatchDone(ctx context.Context, report core.CompletionReport) (*core.Job, bool, error) {
	var (
		job   *core.Job
		added bool
	)
	err := s.store.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE job_batches SET state = ?
			WHERE job_id = ? AND batch_id = ? AND state != ?
		`, batchDone, report.JobID, report.BatchID, batchDone)
		if err != nil {
			return fmt.Errorf("marking batch: %w", classify(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		added = n == 1

		if added {
			_, err = tx.ExecContext(ctx, `
				UPDATE jobs SET chunks_created = chunks_created + ?,
					failed_blocks = failed_blocks + ?, updated_at = ?
				WHERE id = ?
			`, report.ChunksCreated, report.FailedBlocks, dbTime(time.Now().UTC()), report.JobID)
			if err != nil {
				return fmt.Errorf("updating job totals: %w", classify(err))
			}
		}

		job, err = loadJob(ctx, tx, report.JobID)
		if err != nil {
			return err
		}
		if _, ok := job.Batch(report.BatchID); !ok {
			return fmt.Errorf("%w: job %s has no batch %d", core.ErrUnknownBatch, job.ID, report.BatchID)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return job, added, nil
}

// MarkBatchFailed records a permanently failed dispatch.
func (s *jobStore) MarkBatchFailed(ctx context.Context, jobID string, batchID int) error {
	return s.setBatchState(ctx, jobID, batchID, batchPending, batchFailed)
}

// ClearBatchFailed returns a failed batch to pending.
func (s *jobStore) ClearBatchFailed(ctx context.Context, jobID string, batchID int) error {
	return s.setBatchState(ctx, jobID, batchID, batchFailed, batchPending)
}

func (s *jobStore) setBatchState(ctx context.Context, jobID string, batchID, from, to int) error {
	return s.store.withTx(ctx, func(tx *sql.Tx) error {
		found, err := exists(ctx, tx, `SELECT 1 FROM jobs WHERE id = ?`, jobID)
		if err != nil {
			return err
		}
		if !found {
			return storage.ErrNotFound
		}
		found, err = exists(ctx, tx, `SELECT 1 FROM job_batches WHERE job_id = ? AND batch_id = ?`, jobID, batchID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: job %s has no batch %d", core.ErrUnknownBatch, jobID, batchID)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE job_batches SET state = ? WHERE job_id = ? AND batch_id = ? AND state = ?
		`, to, jobID, batchID, from)
		if err != nil {
			return fmt.Errorf("updating batch state: %w", classify(err))
		}
		return nil
	})
}

// TryTransitionStatus is a conditional update on the status column.
func (s *jobStore) TryTransitionStatus(ctx context.Context, jobID string, from, to core.JobStatus) (bool, error) {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, int(to), dbTime(time.Now().UTC()), jobID, int(from))
	if err != nil {
		return false, fmt.Errorf("transitioning job: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	found, err := exists(ctx, s.store.db, `SELECT 1 FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, storage.ErrNotFound
	}
	return false, nil
}

// IncrementRedispatches bumps the re-dispatch counter.
func (s *jobStore) IncrementRedispatches(ctx context.Context, jobID string) (int, error) {
	var count int
	err := s.store.db.QueryRowContext(ctx, `
		UPDATE jobs SET redispatches = redispatches + 1, updated_at = ?
		WHERE id = ?
		RETURNING redispatches
	`, dbTime(time.Now().UTC()), jobID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing redispatches: %w", classify(err))
	}
	return count, nil
}

// ListJobsByStatus returns all jobs currently in status.
func (s *jobStore) ListJobsByStatus(ctx context.Context, status core.JobStatus) ([]*core.Job, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id FROM jobs WHERE status = ? ORDER BY created_at
	`, int(status))
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", classify(err))
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning job id: %w", err)
		}
		ids = append(ids, id)
	}
	// The single connection must be released before loading each job.
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	jobs := make([]*core.Job, 0, len(ids))
	for _, id := range ids {
		job, err := loadJob(ctx, s.store.db, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// loadJob assembles a job from its row and its batch rows.
func loadJob(ctx context.Context, q querier, id string) (*core.Job, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, document_id, title, reader_id, notify_target, mode, policy, total_batches,
			chunks_created, failed_blocks, status, redispatches, created_at, updated_at
		FROM jobs WHERE id = ?
	`, id)

	var (
		job                  core.Job
		docID                int64
		mode, policy         string
		status               int
		createdAt, updatedAt int64
	)
	err := row.Scan(&job.ID, &docID, &job.Title, &job.ReaderID, &job.NotifyTarget, &mode, &policy,
		&job.TotalBatches, &job.ChunksCreated, &job.FailedBlocks, &status, &job.Redispatches,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning job: %w", classify(err))
	}
	job.DocumentID = coreID(docID)
	job.Mode = core.Mode(mode)
	job.Policy = core.Policy(policy)
	job.Status = core.JobStatus(status)
	job.CreatedAt = coreTime(createdAt)
	job.UpdatedAt = coreTime(updatedAt)

	rows, err := q.QueryContext(ctx, `
		SELECT batch_id, start_block, end_block, state FROM job_batches
		WHERE job_id = ? ORDER BY batch_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying batches: %w", classify(err))
	}
	defer rows.Close()

	for rows.Next() {
		var b core.BatchRef
		var state int
		if err := rows.Scan(&b.ID, &b.Start, &b.End, &state); err != nil {
			return nil, fmt.Errorf("scanning batch: %w", err)
		}
		job.Batches = append(job.Batches, b)
		switch state {
		case batchDone:
			job.Completed = append(job.Completed, b.ID)
		case batchFailed:
			job.Failed = append(job.Failed, b.ID)
		}
	}
	return &job, rows.Err()
}
