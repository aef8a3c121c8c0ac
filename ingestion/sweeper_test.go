package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSweeper(t *testing.T, h *harness, opts ...Option) *Sweeper {
	t.Helper()
	s, err := NewSweeper(h.store.Jobs(), h.coord, append([]Option{fastRetry()}, opts...)...)
	require.NoError(t, err)
	// Every job looks an hour old.
	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	return s
}

func TestSweeper_IgnoresFreshJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.coord.Start(ctx, IngestRequest{Title: "Fresh", Blocks: makeBlocks(5)})
	require.NoError(t, err)

	s, err := NewSweeper(h.store.Jobs(), h.coord)
	require.NoError(t, err)
	stats, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Scanned: 1}, stats)
}

func TestSweeper_RedispatchesPendingBatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	jobID, err := h.coord.Start(ctx, IngestRequest{Title: "Stuck", Blocks: makeBlocks(25)})
	require.NoError(t, err)
	require.NoError(t, h.coord.OnBatchComplete(ctx, core.CompletionReport{JobID: jobID, BatchID: 1}))
	require.NoError(t, h.store.Jobs().MarkBatchFailed(ctx, jobID, 2))
	before := h.broker.Len(queue.TopicBatches)

	stats, err := newTestSweeper(t, h).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stale)
	assert.Equal(t, 2, stats.Redispatched, "batches 0 and 2 are sent again")
	assert.Equal(t, before+2, h.broker.Len(queue.TopicBatches))

	job, err := h.coord.Status(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Redispatches)
	assert.Empty(t, job.Failed, "failed marks are cleared on re-dispatch")
}

func TestSweeper_AbandonsAfterMaxRedispatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	jobID, err := h.coord.Start(ctx, IngestRequest{Title: "Hopeless", Blocks: makeBlocks(5), NotifyTarget: "chat"})
	require.NoError(t, err)
	h.notes.Reset()

	s := newTestSweeper(t, h, WithMaxRedispatches(2))
	for round := 1; round <= 2; round++ {
		stats, err := s.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Redispatched, "round %d", round)
	}

	stats, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Abandoned)

	job, err := h.coord.Status(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, core.JobAbandoned, job.Status)

	stats, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Scanned, "abandoned jobs are no longer swept")

	texts := h.notes.Texts("chat")
	require.Len(t, texts, 1, "exactly one failure notification")
	assert.Contains(t, texts[0], "Ingestion failed")
}

func TestSweeper_CompletesFullyReportedJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	jobID, err := h.coord.Start(ctx, IngestRequest{Title: "Almost", Blocks: makeBlocks(5), ReaderID: "r"})
	require.NoError(t, err)
	// Record the completion below the coordinator, as if it crashed before
	// the final transition.
	_, _, err = h.store.Jobs().MarkBatchDone(ctx, core.CompletionReport{JobID: jobID, BatchID: 0})
	require.NoError(t, err)

	stats, err := newTestSweeper(t, h).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)

	job, err := h.coord.Status(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, core.JobCompleted, job.Status)
	assert.Equal(t, int32(1), h.selector.calls.Load())
}

func TestNewSweeper_Validation(t *testing.T) {
	h := newHarness(t)
	_, err := NewSweeper(nil, h.coord)
	assert.ErrorIs(t, err, ErrJobRepositoryRequired)
	_, err = NewSweeper(h.store.Jobs(), nil)
	assert.ErrorIs(t, err, ErrCoordinatorRequired)
	_, err = NewSweeper(h.store.Jobs(), h.coord, WithStaleAfter(0))
	assert.Error(t, err)
}
