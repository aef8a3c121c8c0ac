// Package storagetest holds a behavioural test suite shared by every
// storage backend.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory opens an empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

// Run exercises every repository of the store returned by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Documents", func(t *testing.T) { testDocuments(t, newStore) })
	t.Run("Chunks", func(t *testing.T) { testChunks(t, newStore) })
	t.Run("ConcurrentAppend", func(t *testing.T) { testConcurrentAppend(t, newStore) })
	t.Run("Jobs", func(t *testing.T) { testJobs(t, newStore) })
	t.Run("ConcurrentCompletion", func(t *testing.T) { testConcurrentCompletion(t, newStore) })
	t.Run("Cursors", func(t *testing.T) { testCursors(t, newStore) })
	t.Run("Subscriptions", func(t *testing.T) { testSubscriptions(t, newStore) })
}

func open(t *testing.T, newStore Factory) storage.Store {
	t.Helper()
	s := newStore(t)
	t.Cleanup(func() { s.Close() })
	return s
}

// NewJob builds a processing job over n blocks split into batches of size.
func NewJob(id string, docID core.ID, n, size int) *core.Job {
	job := &core.Job{
		ID:         id,
		DocumentID: docID,
		ReaderID:   "reader-1",
		Mode:       core.ModeBySense,
		Policy:     core.PolicySize,
	}
	for start, i := 0, 0; start < n; start, i = start+size, i+1 {
		job.Batches = append(job.Batches, core.BatchRef{ID: i, Start: start, End: min(start+size, n)})
	}
	job.TotalBatches = len(job.Batches)
	return job
}

func testDocuments(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)
	docs := s.Documents()

	doc, err := docs.GetOrCreateDocument(ctx, "  The Overcoat ")
	require.NoError(t, err)
	assert.Equal(t, core.DocumentIDFromTitle("the overcoat"), doc.ID)
	assert.Equal(t, "The Overcoat", doc.Title)
	assert.Zero(t, doc.ChunkCount)

	again, err := docs.GetOrCreateDocument(ctx, "THE OVERCOAT")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, again.ID)
	assert.Equal(t, "The Overcoat", again.Title, "first title wins")

	got, err := docs.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)

	_, err = docs.GetDocument(ctx, core.ID(12345))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = docs.GetOrCreateDocument(ctx, "   ")
	assert.ErrorIs(t, err, core.ErrPermanentInput)

	// Concurrent creators all observe the same document.
	var wg sync.WaitGroup
	ids := make([]core.ID, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := docs.GetOrCreateDocument(ctx, "The Nose")
			if err == nil {
				ids[i] = d.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, core.DocumentIDFromTitle("The Nose"), id)
	}
}

func testChunks(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)

	doc, err := s.Documents().GetOrCreateDocument(ctx, "Chunks")
	require.NoError(t, err)
	chunks := s.Chunks()

	for i, text := range []string{"one", "two", "three"} {
		index, err := chunks.AppendChunk(ctx, doc.ID, text)
		require.NoError(t, err)
		assert.Equal(t, i, index)
	}

	count, err := chunks.GetChunkCount(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	chunk, err := chunks.GetChunk(ctx, doc.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "two", chunk.Text)
	assert.Equal(t, 1, chunk.Index)
	assert.Equal(t, doc.ID, chunk.DocumentID)

	_, err = chunks.GetChunk(ctx, doc.ID, 3)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = chunks.GetChunk(ctx, doc.ID, -1)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = chunks.AppendChunk(ctx, core.ID(999), "orphan")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = chunks.GetChunkCount(ctx, core.ID(999))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testConcurrentAppend(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)

	doc, err := s.Documents().GetOrCreateDocument(ctx, "Concurrent")
	require.NoError(t, err)

	const workers, perWorker = 4, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := s.Chunks().AppendChunk(ctx, doc.ID, fmt.Sprintf("w%d-%d", w, i)); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, err := s.Chunks().GetChunkCount(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, workers*perWorker, count)

	seen := make(map[string]bool)
	for i := 0; i < count; i++ {
		chunk, err := s.Chunks().GetChunk(ctx, doc.ID, i)
		require.NoError(t, err, "index %d must exist", i)
		assert.False(t, seen[chunk.Text], "chunk %q stored twice", chunk.Text)
		seen[chunk.Text] = true
	}
}

func testJobs(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)
	jobs := s.Jobs()

	doc, err := s.Documents().GetOrCreateDocument(ctx, "Jobs")
	require.NoError(t, err)

	job := NewJob("job-1", doc.ID, 23, 10)
	require.NoError(t, jobs.CreateJob(ctx, job))
	assert.Equal(t, core.JobProcessing, job.Status)

	got, err := jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalBatches)
	assert.Equal(t, core.BatchRef{ID: 2, Start: 20, End: 23}, got.Batches[2])

	_, err = jobs.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Only one processing job per document.
	err = jobs.CreateJob(ctx, NewJob("job-2", doc.ID, 5, 10))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	require.NoError(t, jobs.SaveBatchBlocks(ctx, "job-1", 2, []string{"a", "b", "c"}))
	blocks, err := jobs.GetBatchBlocks(ctx, "job-1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, blocks)
	_, err = jobs.GetBatchBlocks(ctx, "job-1", 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, jobs.MarkBatchFailed(ctx, "job-1", 1))
	got, err = jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, got.Failed)
	require.NoError(t, jobs.ClearBatchFailed(ctx, "job-1", 1))
	got, err = jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, got.Failed)

	updated, added, err := jobs.MarkBatchDone(ctx, core.CompletionReport{JobID: "job-1", BatchID: 1, ChunksCreated: 4, FailedBlocks: 1})
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []int{1}, updated.Completed)
	assert.Equal(t, 4, updated.ChunksCreated)

	updated, added, err = jobs.MarkBatchDone(ctx, core.CompletionReport{JobID: "job-1", BatchID: 1, ChunksCreated: 4})
	require.NoError(t, err)
	assert.False(t, added, "duplicate completion must be ignored")
	assert.Equal(t, 4, updated.ChunksCreated, "duplicate must not be counted")
	assert.Equal(t, 1, updated.FailedBlocks)

	_, _, err = jobs.MarkBatchDone(ctx, core.CompletionReport{JobID: "job-1", BatchID: 3})
	assert.ErrorIs(t, err, core.ErrUnknownBatch)
	_, _, err = jobs.MarkBatchDone(ctx, core.CompletionReport{JobID: "missing", BatchID: 0})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	n, err := jobs.IncrementRedispatches(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = jobs.IncrementRedispatches(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	processing, err := jobs.ListJobsByStatus(ctx, core.JobProcessing)
	require.NoError(t, err)
	require.Len(t, processing, 1)
	assert.Equal(t, "job-1", processing[0].ID)

	won, err := jobs.TryTransitionStatus(ctx, "job-1", core.JobProcessing, core.JobCompleted)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = jobs.TryTransitionStatus(ctx, "job-1", core.JobProcessing, core.JobAbandoned)
	require.NoError(t, err)
	assert.False(t, won, "terminal jobs never transition again")

	completed, err := jobs.ListJobsByStatus(ctx, core.JobCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 1)

	// The document is free for a new job once the previous one finished.
	require.NoError(t, jobs.CreateJob(ctx, NewJob("job-3", doc.ID, 5, 10)))
}

func testConcurrentCompletion(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)
	jobs := s.Jobs()

	job := NewJob("job-c", core.ID(77), 100, 10)
	require.NoError(t, jobs.CreateJob(ctx, job))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		added   int
		winners int
	)
	// Every batch is reported twice, concurrently.
	for i := 0; i < 2*job.TotalBatches; i++ {
		wg.Add(1)
		go func(batch int) {
			defer wg.Done()
			updated, first, err := jobs.MarkBatchDone(ctx, core.CompletionReport{JobID: job.ID, BatchID: batch, ChunksCreated: 1})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			if first {
				added++
			}
			mu.Unlock()
			if first && updated.AllBatchesDone() {
				won, err := jobs.TryTransitionStatus(ctx, job.ID, core.JobProcessing, core.JobCompleted)
				assert.NoError(t, err)
				if won {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}
		}(i % job.TotalBatches)
	}
	wg.Wait()

	assert.Equal(t, job.TotalBatches, added)
	assert.Equal(t, 1, winners, "exactly one caller finalizes")

	got, err := jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobCompleted, got.Status)
	assert.Equal(t, job.TotalBatches, got.ChunksCreated)
	assert.Len(t, got.Completed, job.TotalBatches)
}

func testCursors(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)
	cursors := s.Cursors()

	_, err := cursors.GetActive(ctx, "reader")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	cursor, err := cursors.Activate(ctx, "reader", core.ID(1))
	require.NoError(t, err)
	assert.Zero(t, cursor.NextIndex)
	assert.False(t, cursor.Finished)

	active, err := cursors.GetActive(ctx, "reader")
	require.NoError(t, err)
	assert.Equal(t, core.ID(1), active)

	ok, err := cursors.Advance(ctx, "reader", core.ID(1), 0, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = cursors.Advance(ctx, "reader", core.ID(1), 0, 1)
	require.NoError(t, err)
	assert.False(t, ok, "stale advance must fail")

	// Switching documents and back resumes the old position.
	_, err = cursors.Activate(ctx, "reader", core.ID(2))
	require.NoError(t, err)
	cursor, err = cursors.Activate(ctx, "reader", core.ID(1))
	require.NoError(t, err)
	assert.Equal(t, 1, cursor.NextIndex)

	first, err := cursors.MarkFinished(ctx, "reader", core.ID(1))
	require.NoError(t, err)
	assert.True(t, first)
	first, err = cursors.MarkFinished(ctx, "reader", core.ID(1))
	require.NoError(t, err)
	assert.False(t, first)

	got, err := cursors.GetCursor(ctx, "reader", core.ID(1))
	require.NoError(t, err)
	assert.True(t, got.Finished)

	_, err = cursors.GetCursor(ctx, "other", core.ID(1))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = cursors.Advance(ctx, "other", core.ID(1), 0, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Reader ids sharing a prefix keep separate lists.
	_, err = cursors.Activate(ctx, "reader:2", core.ID(3))
	require.NoError(t, err)

	list, err := cursors.ListByReader(ctx, "reader")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, core.ID(1), list[0].DocumentID)
	assert.Equal(t, 1, list[0].NextIndex)
	assert.True(t, list[0].Finished)
	assert.Equal(t, core.ID(2), list[1].DocumentID)
	assert.False(t, list[1].Finished)
	for _, c := range list {
		assert.Equal(t, "reader", c.ReaderID)
	}

	list, err = cursors.ListByReader(ctx, "reader:2")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, core.ID(3), list[0].DocumentID)

	list, err = cursors.ListByReader(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testSubscriptions(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)
	subs := s.Subscriptions()

	require.NoError(t, subs.Subscribe(ctx, &core.Subscription{ReaderID: "a", DocumentID: 1, Slot: "08:00", Enabled: true}))
	require.NoError(t, subs.Subscribe(ctx, &core.Subscription{ReaderID: "b", DocumentID: 1, Slot: "08:00", Enabled: true}))
	require.NoError(t, subs.Subscribe(ctx, &core.Subscription{ReaderID: "c", DocumentID: 2, Slot: "21:30", Enabled: true}))

	err := subs.Subscribe(ctx, &core.Subscription{ReaderID: "d", DocumentID: 2, Slot: "8am", Enabled: true})
	assert.ErrorIs(t, err, core.ErrInvalidSlot)

	due, err := subs.ListDue(ctx, "08:00")
	require.NoError(t, err)
	assert.Len(t, due, 2)

	require.NoError(t, subs.Disable(ctx, "a", 1))
	require.NoError(t, subs.Disable(ctx, "a", 1), "disable is idempotent")
	require.NoError(t, subs.Disable(ctx, "nobody", 1), "disable of a missing subscription is a no-op")

	due, err = subs.ListDue(ctx, "08:00")
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "b", due[0].ReaderID)

	sub, err := subs.GetSubscription(ctx, "a", 1)
	require.NoError(t, err)
	assert.False(t, sub.Enabled)

	_, err = subs.GetSubscription(ctx, "zzz", 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
