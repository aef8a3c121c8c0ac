package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/installment/chunking"
	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/notify/mock"
	"github.com/poiesic/installment/queue"
	"github.com/poiesic/installment/queue/memory"
	"github.com/poiesic/installment/retry"
	"github.com/poiesic/installment/storage"
	"github.com/poiesic/installment/storage/badger"
	"github.com/stretchr/testify/require"
)

// testSelector activates cursors and counts calls.
type testSelector struct {
	cursors storage.CursorRepository
	calls   atomic.Int32
}

func (s *testSelector) SelectDocument(ctx context.Context, readerID string, docID core.ID) (*core.Cursor, error) {
	s.calls.Add(1)
	return s.cursors.Activate(ctx, readerID, docID)
}

// failingPublisher rejects every message.
type failingPublisher struct {
	calls atomic.Int32
}

func (p *failingPublisher) Publish(ctx context.Context, msg queue.Message) (string, error) {
	p.calls.Add(1)
	return "", errors.New("broker down")
}

func (p *failingPublisher) Close() error { return nil }

type harness struct {
	store    *badger.Store
	broker   *memory.Broker
	notes    *mock.Recorder
	selector *testSelector
	coord    *Coordinator
}

func fastRetry() Option {
	return WithRetry(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond})
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := memory.NewBroker()
	t.Cleanup(func() { broker.Close() })

	h := &harness{
		store:    store,
		broker:   broker,
		notes:    &mock.Recorder{},
		selector: &testSelector{cursors: store.Cursors()},
	}
	h.coord, err = NewCoordinator(store.Documents(), store.Jobs(), broker, h.notes, h.selector,
		append([]Option{fastRetry()}, opts...)...)
	require.NoError(t, err)
	return h
}

func (h *harness) newWorker(t *testing.T, reporter Reporter, opts ...chunking.Option) *Worker {
	t.Helper()
	asm, err := chunking.NewAssembler(h.store.Chunks(), opts...)
	require.NoError(t, err)
	w, err := NewWorker(h.store.Jobs(), asm, reporter, fastRetry())
	require.NoError(t, err)
	return w
}

func makeBlocks(n int) []string {
	blocks := make([]string, n)
	for i := range blocks {
		blocks[i] = fmt.Sprintf("Block number %d has one sentence.", i)
	}
	return blocks
}
