package reading

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/notify/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hhmm string) time.Time {
	t, err := time.Parse(SlotLayout, hhmm)
	if err != nil {
		panic(err)
	}
	return t
}

func (f *fixture) subscribe(t *testing.T, readerID string, docID core.ID, slot string) {
	t.Helper()
	require.NoError(t, f.store.Subscriptions().Subscribe(context.Background(), &core.Subscription{
		ReaderID: readerID, DocumentID: docID, Slot: slot, Enabled: true,
	}))
}

func TestNewScheduler_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := NewScheduler(nil, f.reader, &mock.Recorder{})
	assert.ErrorIs(t, err, ErrSubscriptionRepositoryRequired)
	_, err = NewScheduler(f.subs, nil, &mock.Recorder{})
	assert.ErrorIs(t, err, ErrReaderRequired)
	_, err = NewScheduler(f.subs, f.reader, nil)
	assert.ErrorIs(t, err, ErrNotifierRequired)
}

func TestScheduler_DeliverDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addDocument(t, "Book", 2)
	other := f.addDocument(t, "Other", 1)

	for _, reader := range []string{"alice", "bob"} {
		_, err := f.reader.SelectDocument(ctx, reader, book)
		require.NoError(t, err)
		f.subscribe(t, reader, book, "07:30")
	}
	// carol is subscribed to a book she is not reading.
	_, err := f.reader.SelectDocument(ctx, "carol", other)
	require.NoError(t, err)
	f.subscribe(t, "carol", book, "07:30")
	// dave reads at another time.
	_, err = f.reader.SelectDocument(ctx, "dave", book)
	require.NoError(t, err)
	f.subscribe(t, "dave", book, "21:00")

	notes := &mock.Recorder{}
	s, err := NewScheduler(f.subs, f.reader, notes, WithFinishedMessage("You finished the book."))
	require.NoError(t, err)

	stats, err := s.DeliverDue(ctx, at("07:30"))
	require.NoError(t, err)
	assert.Equal(t, DeliveryStats{Slot: "07:30", Readers: 3, Sent: 2, Skipped: 1}, stats)
	assert.Equal(t, []string{"chunk 0"}, notes.Texts("alice"))
	assert.Equal(t, []string{"chunk 0"}, notes.Texts("bob"))
	assert.Empty(t, notes.Texts("carol"))
	assert.Empty(t, notes.Texts("dave"))

	_, err = s.DeliverDue(ctx, at("07:30"))
	require.NoError(t, err)

	stats, err = s.DeliverDue(ctx, at("07:30"))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Finished)
	assert.Equal(t, []string{"chunk 0", "chunk 1", EndOfDocument + "\nYou finished the book."}, notes.Texts("alice"))

	stats, err = s.DeliverDue(ctx, at("07:30"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Readers, "finished readers are unsubscribed")
}

func TestScheduler_SplitsLongChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.store.Documents().GetOrCreateDocument(ctx, "Long")
	require.NoError(t, err)
	_, err = f.store.Chunks().AppendChunk(ctx, doc.ID, strings.Repeat("a", 5000))
	require.NoError(t, err)
	_, err = f.reader.SelectDocument(ctx, "alice", doc.ID)
	require.NoError(t, err)
	f.subscribe(t, "alice", doc.ID, "12:00")

	notes := &mock.Recorder{}
	s, err := NewScheduler(f.subs, f.reader, notes)
	require.NoError(t, err)
	stats, err := s.DeliverDue(ctx, at("12:00"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)

	texts := notes.Texts("alice")
	require.Len(t, texts, 2)
	assert.Len(t, texts[0], 4096)
	assert.Len(t, texts[1], 5000-4096)
}

func TestScheduler_CountsSendErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	docID := f.addDocument(t, "Book", 1)
	_, err := f.reader.SelectDocument(ctx, "alice", docID)
	require.NoError(t, err)
	f.subscribe(t, "alice", docID, "06:00")

	s, err := NewScheduler(f.subs, f.reader, &mock.Recorder{Err: errors.New("chat down")})
	require.NoError(t, err)
	stats, err := s.DeliverDue(ctx, at("06:00"))
	require.NoError(t, err)
	assert.Equal(t, DeliveryStats{Slot: "06:00", Readers: 1, Errors: 1}, stats)
}
