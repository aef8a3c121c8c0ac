package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/storage"
	"github.com/poiesic/installment/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		store, err := NewStore(filepath.Join(t.TempDir(), "installment.db"))
		require.NoError(t, err)
		return store
	})
}

func TestNewStore_EmptyPath(t *testing.T) {
	_, err := NewStore("")
	assert.Error(t, err)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "installment.db")

	store, err := NewStore(path)
	require.NoError(t, err)
	assert.Equal(t, path, store.Path())

	doc, err := store.Documents().GetOrCreateDocument(ctx, "Reopened")
	require.NoError(t, err)
	_, err = store.Chunks().AppendChunk(ctx, doc.ID, "first")
	require.NoError(t, err)
	require.NoError(t, store.Jobs().CreateJob(ctx, storagetest.NewJob("job-r", doc.ID, 12, 10)))
	require.NoError(t, store.Close())

	// Migrations are recorded, so a second open must not re-run them.
	store, err = NewStore(path)
	require.NoError(t, err)
	defer store.Close()

	var version int
	require.NoError(t, store.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 1, version)

	count, err := store.Chunks().GetChunkCount(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	job, err := store.Jobs().GetJob(ctx, "job-r")
	require.NoError(t, err)
	assert.Equal(t, core.JobProcessing, job.Status)
	assert.Len(t, job.Batches, 2)
}

func TestStore_HighBitDocumentID(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(filepath.Join(t.TempDir(), "installment.db"))
	require.NoError(t, err)
	defer store.Close()

	id := core.ID(1<<63 + 5)
	cursor, err := store.Cursors().Activate(ctx, "reader", id)
	require.NoError(t, err)
	assert.Equal(t, id, cursor.DocumentID)

	active, err := store.Cursors().GetActive(ctx, "reader")
	require.NoError(t, err)
	assert.Equal(t, id, active)
}

func TestStore_Closed(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "installment.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.Documents().GetDocument(context.Background(), 1)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
