package badger

import (
	"context"
	"testing"

	"github.com/poiesic/installment/storage"
	"github.com/poiesic/installment/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		store, err := NewMemoryStore()
		require.NoError(t, err)
		return store
	})
}

func TestStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	doc, err := store.Documents().GetOrCreateDocument(ctx, "Persistent")
	require.NoError(t, err)
	_, err = store.Chunks().AppendChunk(ctx, doc.ID, "survives restarts")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	chunk, err := store.Chunks().GetChunk(ctx, doc.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "survives restarts", chunk.Text)
}
