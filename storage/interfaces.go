package storage

import (
	"context"

	"github.com/poiesic/installment/core"
)

// DocumentRepository registers documents by title.
type DocumentRepository interface {
	// GetOrCreateDocument returns the document for the normalized title,
	// creating it with a zero chunk count if it does not exist.
	// Thread-safe: concurrent calls for one title return the same document.
	GetOrCreateDocument(ctx context.Context, title string) (*core.Document, error)

	// GetDocument retrieves a document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id core.ID) (*core.Document, error)
}

// ChunkRepository stores the ordered chunks of each document.
type ChunkRepository interface {
	// AppendChunk stores text at the next free index of the document and
	// returns that index. Allocation and write happen atomically, so
	// concurrent appenders never receive the same index and a failed append
	// allocates nothing.
	// Returns ErrNotFound if the document doesn't exist.
	AppendChunk(ctx context.Context, docID core.ID, text string) (int, error)

	// GetChunk retrieves the chunk at index.
	// Returns ErrNotFound if no chunk is stored there.
	GetChunk(ctx context.Context, docID core.ID, index int) (*core.Chunk, error)

	// GetChunkCount returns the number of chunks appended to the document.
	// Returns ErrNotFound if the document doesn't exist.
	GetChunkCount(ctx context.Context, docID core.ID) (int, error)
}

// JobRepository stores ingestion jobs and their completion state.
type JobRepository interface {
	// CreateJob persists a new job in the processing state.
	// Returns ErrDuplicateKey if the job ID exists or another job for the
	// same document is still processing.
	CreateJob(ctx context.Context, job *core.Job) error

	// GetJob retrieves a job by ID.
	// Returns ErrNotFound if the job doesn't exist.
	GetJob(ctx context.Context, id string) (*core.Job, error)

	// SaveBatchBlocks retains the raw blocks of a batch for re-dispatch.
	SaveBatchBlocks(ctx context.Context, jobID string, batchID int, blocks []string) error

	// GetBatchBlocks returns the retained blocks of a batch.
	// Returns ErrNotFound if none were saved.
	GetBatchBlocks(ctx context.Context, jobID string, batchID int) ([]string, error)

	// MarkBatchDone atomically adds the batch to the job's completed set and
	// adds its counts to the job totals. Returns the updated job and true the
	// first time a batch is marked; later calls return false and change
	// nothing. Returns core.ErrUnknownBatch if the batch id is out of range.
	MarkBatchDone(ctx context.Context, report core.CompletionReport) (*core.Job, bool, error)

	// MarkBatchFailed records that dispatch of a batch permanently failed.
	MarkBatchFailed(ctx context.Context, jobID string, batchID int) error

	// ClearBatchFailed removes a batch from the failed set.
	ClearBatchFailed(ctx context.Context, jobID string, batchID int) error

	// TryTransitionStatus moves the job from one status to another if and
	// only if its current status is from. Returns true for the single caller
	// that performed the transition.
	TryTransitionStatus(ctx context.Context, jobID string, from, to core.JobStatus) (bool, error)

	// IncrementRedispatches bumps the job's re-dispatch counter and returns
	// the new value.
	IncrementRedispatches(ctx context.Context, jobID string) (int, error)

	// ListJobsByStatus returns all jobs currently in status.
	ListJobsByStatus(ctx context.Context, status core.JobStatus) ([]*core.Job, error)
}

// CursorRepository stores per-reader positions.
type CursorRepository interface {
	// GetCursor retrieves the cursor for (reader, document).
	// Returns ErrNotFound if the reader never selected the document.
	GetCursor(ctx context.Context, readerID string, docID core.ID) (*core.Cursor, error)

	// GetActive returns the reader's active document.
	// Returns ErrNotFound if the reader has none.
	GetActive(ctx context.Context, readerID string) (core.ID, error)

	// Activate makes docID the reader's active document, creating its cursor
	// at 0 or resuming the stored one. Never resets an existing cursor.
	Activate(ctx context.Context, readerID string, docID core.ID) (*core.Cursor, error)

	// Advance moves the cursor from one index to another if the stored index
	// still equals from. Returns false if another caller advanced it first.
	Advance(ctx context.Context, readerID string, docID core.ID, from, to int) (bool, error)

	// MarkFinished flags the cursor as finished. Returns true only for the
	// call that set the flag.
	MarkFinished(ctx context.Context, readerID string, docID core.ID) (bool, error)

	// ListByReader returns every cursor of the reader ordered by document
	// id. A reader with no cursors yields an empty result, not an error.
	ListByReader(ctx context.Context, readerID string) ([]*core.Cursor, error)
}

// SubscriptionRepository stores recurring delivery flags.
type SubscriptionRepository interface {
	// Subscribe creates or replaces the subscription for (reader, document).
	Subscribe(ctx context.Context, sub *core.Subscription) error

	// Disable turns the subscription off. Idempotent, and a no-op when no
	// subscription exists.
	Disable(ctx context.Context, readerID string, docID core.ID) error

	// GetSubscription retrieves the subscription for (reader, document).
	// Returns ErrNotFound if none exists.
	GetSubscription(ctx context.Context, readerID string, docID core.ID) (*core.Subscription, error)

	// ListDue returns the enabled subscriptions scheduled for slot.
	ListDue(ctx context.Context, slot string) ([]*core.Subscription, error)
}

// Store bundles every repository of one storage backend.
type Store interface {
	Documents() DocumentRepository
	Chunks() ChunkRepository
	Jobs() JobRepository
	Cursors() CursorRepository
	Subscriptions() SubscriptionRepository

	// Close closes the storage backend and releases resources.
	Close() error
}
