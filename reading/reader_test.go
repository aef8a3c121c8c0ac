package reading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/retry"
	"github.com/poiesic/installment/storage"
	"github.com/poiesic/installment/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSubs counts Disable calls.
type countingSubs struct {
	storage.SubscriptionRepository
	disables atomic.Int32
}

func (c *countingSubs) Disable(ctx context.Context, readerID string, docID core.ID) error {
	c.disables.Add(1)
	return c.SubscriptionRepository.Disable(ctx, readerID, docID)
}

// holeyChunks hides one stored chunk.
type holeyChunks struct {
	storage.ChunkRepository
	hole int
}

func (h *holeyChunks) GetChunk(ctx context.Context, docID core.ID, index int) (*core.Chunk, error) {
	if index == h.hole {
		return nil, storage.ErrNotFound
	}
	return h.ChunkRepository.GetChunk(ctx, docID, index)
}

type fixture struct {
	store  *badger.Store
	subs   *countingSubs
	reader *Reader
}

func fastRetry() Option {
	return WithRetry(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{store: store, subs: &countingSubs{SubscriptionRepository: store.Subscriptions()}}
	f.reader, err = NewReader(store.Documents(), store.Chunks(), store.Cursors(), f.subs, fastRetry())
	require.NoError(t, err)
	return f
}

// addDocument stores a document with n chunks "chunk 0" ... "chunk n-1".
func (f *fixture) addDocument(t *testing.T, title string, n int) core.ID {
	t.Helper()
	ctx := context.Background()
	doc, err := f.store.Documents().GetOrCreateDocument(ctx, title)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := f.store.Chunks().AppendChunk(ctx, doc.ID, fmt.Sprintf("chunk %d", i))
		require.NoError(t, err)
	}
	return doc.ID
}

func TestNewReader_Validation(t *testing.T) {
	f := newFixture(t)
	s := f.store
	_, err := NewReader(nil, s.Chunks(), s.Cursors(), s.Subscriptions())
	assert.ErrorIs(t, err, ErrDocumentRepositoryRequired)
	_, err = NewReader(s.Documents(), nil, s.Cursors(), s.Subscriptions())
	assert.ErrorIs(t, err, ErrChunkRepositoryRequired)
	_, err = NewReader(s.Documents(), s.Chunks(), nil, s.Subscriptions())
	assert.ErrorIs(t, err, ErrCursorRepositoryRequired)
	_, err = NewReader(s.Documents(), s.Chunks(), s.Cursors(), nil)
	assert.ErrorIs(t, err, ErrSubscriptionRepositoryRequired)
	_, err = NewReader(s.Documents(), s.Chunks(), s.Cursors(), s.Subscriptions(), WithAdvanceAttempts(0))
	assert.Error(t, err)
}

func TestReader_SelectUnknownDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.reader.SelectDocument(context.Background(), "alice", core.ID(12345))
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)

	_, err = f.reader.SelectDocument(context.Background(), " ", core.ID(12345))
	assert.ErrorIs(t, err, ErrInvalidReaderID)
}

func TestReader_NoActiveDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.reader.NextChunk(context.Background(), "alice")
	assert.ErrorIs(t, err, core.ErrNoActiveDocument)
	_, err = f.reader.Position(context.Background(), "alice")
	assert.ErrorIs(t, err, core.ErrNoActiveDocument)
}

func TestReader_ReadsInOrderThenFinishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	docID := f.addDocument(t, "Short Story", 3)

	_, err := f.reader.SelectDocument(ctx, "alice", docID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		d, err := f.reader.NextChunk(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, d.Finished)
		assert.Equal(t, i, d.Index)
		assert.Equal(t, 3, d.Total)
		assert.Equal(t, fmt.Sprintf("chunk %d", i), d.Text)
	}

	for poll := 0; poll < 2; poll++ {
		d, err := f.reader.NextChunk(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, d.Finished)
		assert.Equal(t, EndOfDocument, d.Text)
	}
	assert.Equal(t, int32(1), f.subs.disables.Load(), "disable fires once")

	pos, err := f.reader.Position(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Position{DocumentID: docID, Title: "Short Story", Index: 3, Total: 3, Finished: true}, *pos)
}

func TestReader_EmptyDocumentFinishesAtOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	docID := f.addDocument(t, "Blank", 0)
	require.NoError(t, f.store.Subscriptions().Subscribe(ctx, &core.Subscription{
		ReaderID: "alice", DocumentID: docID, Slot: "08:00", Enabled: true,
	}))

	_, err := f.reader.SelectDocument(ctx, "alice", docID)
	require.NoError(t, err)

	d, err := f.reader.NextChunk(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, d.Finished)
	assert.Equal(t, EndOfDocument, d.Text)

	_, err = f.reader.NextChunk(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.subs.disables.Load())

	sub, err := f.store.Subscriptions().GetSubscription(ctx, "alice", docID)
	require.NoError(t, err)
	assert.False(t, sub.Enabled)
}

func TestReader_ResumesStoredCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.addDocument(t, "First", 4)
	second := f.addDocument(t, "Second", 2)

	_, err := f.reader.SelectDocument(ctx, "alice", first)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := f.reader.NextChunk(ctx, "alice")
		require.NoError(t, err)
	}

	_, err = f.reader.SelectDocument(ctx, "alice", second)
	require.NoError(t, err)
	d, err := f.reader.NextChunk(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, second, d.DocumentID)
	assert.Equal(t, 0, d.Index)

	cursor, err := f.reader.SelectDocument(ctx, "alice", first)
	require.NoError(t, err)
	assert.Equal(t, 2, cursor.NextIndex)
	d, err = f.reader.NextChunk(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "chunk 2", d.Text)
}

func TestReader_MissingChunkIsNotCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	docID := f.addDocument(t, "Damaged", 3)

	reader, err := NewReader(f.store.Documents(), &holeyChunks{ChunkRepository: f.store.Chunks(), hole: 1},
		f.store.Cursors(), f.subs, fastRetry())
	require.NoError(t, err)
	_, err = reader.SelectDocument(ctx, "alice", docID)
	require.NoError(t, err)

	_, err = reader.NextChunk(ctx, "alice")
	require.NoError(t, err)
	_, err = reader.NextChunk(ctx, "alice")
	assert.ErrorIs(t, err, core.ErrMissingChunk)
	_, err = reader.NextChunk(ctx, "alice")
	assert.ErrorIs(t, err, core.ErrMissingChunk, "cursor stays on the missing chunk")
	assert.Zero(t, f.subs.disables.Load())
}

func TestReader_ConcurrentPollsDeliverEachChunkOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const total = 20
	docID := f.addDocument(t, "Serial", total)
	_, err := f.reader.SelectDocument(ctx, "alice", docID)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen []int
		wg   sync.WaitGroup
	)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				d, err := f.reader.NextChunk(ctx, "alice")
				if err != nil || d.Finished {
					return
				}
				mu.Lock()
				seen = append(seen, d.Index)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, total)
	counts := make(map[int]int)
	for _, i := range seen {
		counts[i]++
	}
	for i := 0; i < total; i++ {
		assert.Equal(t, 1, counts[i], "chunk %d", i)
	}
	assert.Zero(t, f.reader.locks.size(), "locks are released")
}

func TestReader_TwoReadersShareOneFinish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const total = 50
	docID := f.addDocument(t, "Shared", total)
	_, err := f.reader.SelectDocument(ctx, "alice", docID)
	require.NoError(t, err)
	require.NoError(t, f.store.Subscriptions().Subscribe(ctx, &core.Subscription{
		ReaderID: "alice", DocumentID: docID, Slot: "08:00", Enabled: true,
	}))

	// A second process over the same store has its own locks.
	other, err := NewReader(f.store.Documents(), f.store.Chunks(), f.store.Cursors(), f.subs,
		fastRetry(), WithAdvanceAttempts(100))
	require.NoError(t, err)
	readers := []*Reader{f.reader, other}

	var (
		mu       sync.Mutex
		seen     = make(map[int]int)
		finished atomic.Int32
		wg       sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(r *Reader) {
			defer wg.Done()
			for {
				d, err := r.NextChunk(ctx, "alice")
				if errors.Is(err, ErrAdvanceContended) {
					continue
				}
				if !assert.NoError(t, err) {
					return
				}
				if d.Finished {
					finished.Add(1)
					return
				}
				mu.Lock()
				seen[d.Index]++
				mu.Unlock()
			}
		}(readers[g%2])
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for i := 0; i < total; i++ {
		assert.Equal(t, 1, seen[i], "chunk %d", i)
	}
	assert.Equal(t, int32(8), finished.Load())
	assert.Equal(t, int32(1), f.subs.disables.Load(), "subscription disabled once")

	sub, err := f.store.Subscriptions().GetSubscription(ctx, "alice", docID)
	require.NoError(t, err)
	assert.False(t, sub.Enabled)
}

func TestReader_Documents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	list, err := f.reader.Documents(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)

	poems := f.addDocument(t, "Poems", 2)
	novel := f.addDocument(t, "Novel", 3)
	_, err = f.reader.SelectDocument(ctx, "alice", poems)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = f.reader.NextChunk(ctx, "alice")
		require.NoError(t, err)
	}
	_, err = f.reader.SelectDocument(ctx, "alice", novel)
	require.NoError(t, err)

	list, err = f.reader.Documents(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	byTitle := map[string]Position{}
	for _, p := range list {
		byTitle[p.Title] = p
	}
	assert.Equal(t, Position{DocumentID: poems, Title: "Poems", Index: 2, Total: 2, Finished: true}, byTitle["Poems"])
	assert.Equal(t, Position{DocumentID: novel, Title: "Novel", Index: 0, Total: 3, Active: true}, byTitle["Novel"])

	_, err = f.reader.Documents(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidReaderID)
}

func TestReader_ConcatenationReproducesText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	docID := f.addDocument(t, "Concat", 5)
	_, err := f.reader.SelectDocument(ctx, "bob", docID)
	require.NoError(t, err)

	var parts []string
	for {
		d, err := f.reader.NextChunk(ctx, "bob")
		require.NoError(t, err)
		if d.Finished {
			break
		}
		parts = append(parts, d.Text)
	}
	assert.Equal(t, "chunk 0|chunk 1|chunk 2|chunk 3|chunk 4", strings.Join(parts, "|"))
}
