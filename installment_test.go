package installment

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/installment/config"
	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/ingestion"
	"github.com/poiesic/installment/notify/mock"
	"github.com/poiesic/installment/reading"
	"github.com/poiesic/installment/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, backend string) *config.Config {
	cfg := config.Default()
	cfg.Storage.Backend = backend
	cfg.Storage.Path = filepath.Join(t.TempDir(), "library.db")
	cfg.Ingestion.BatchSize = 3
	return cfg
}

func TestOpen(t *testing.T) {
	t.Run("badger", func(t *testing.T) {
		lib, err := Open(context.Background(), testConfig(t, config.BackendBadger))
		require.NoError(t, err)
		defer lib.Close()
		assert.NotNil(t, lib.Store())
		assert.NotNil(t, lib.Coordinator())
		assert.NotNil(t, lib.Reader())
		assert.NotNil(t, lib.Notifier())
	})

	t.Run("sqlite", func(t *testing.T) {
		lib, err := Open(context.Background(), testConfig(t, config.BackendSQLite))
		require.NoError(t, err)
		require.NoError(t, lib.Close())
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := config.Default()
		cfg.Queue.Type = "smoke-signals"
		_, err := Open(context.Background(), cfg)
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("badger path is a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(path, []byte("test"), 0o644))
		cfg := config.Default()
		cfg.Storage.Path = path
		lib, err := Open(context.Background(), cfg)
		assert.Error(t, err)
		assert.Nil(t, lib)
	})
}

func TestLibrary_IngestAndRead(t *testing.T) {
	for _, backend := range []string{config.BackendBadger, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			notes := &mock.Recorder{}
			lib, err := Open(ctx, testConfig(t, backend), WithNotifier(notes))
			require.NoError(t, err)
			defer lib.Close()

			workers := make(chan error, 1)
			go func() { workers <- lib.RunWorkers(ctx) }()

			blocks := []string{
				"It was a bright cold day in April. The clocks were striking thirteen.",
				"Winston Smith slipped quickly through the glass doors.",
				"The hallway smelt of boiled cabbage and old rag mats.",
				"At one end of it a coloured poster had been tacked to the wall.",
				"It depicted simply an enormous face, more than a metre wide.",
			}
			job, err := lib.Ingest(ctx, ingestion.IngestRequest{
				Title:        "Nineteen Eighty-Four",
				Blocks:       blocks,
				Policy:       core.PolicyCount,
				ReaderID:     "winston",
				NotifyTarget: "winston",
			}, 10*time.Millisecond)
			require.NoError(t, err)
			assert.Equal(t, core.JobCompleted, job.Status)
			assert.Equal(t, 2, job.TotalBatches)

			// Completion selects the document for the reader after the status
			// flips; selecting again resumes the same cursor.
			_, err = lib.Reader().SelectDocument(ctx, "winston", job.DocumentID)
			require.NoError(t, err)

			var texts []string
			for {
				d, err := lib.Reader().NextChunk(ctx, "winston")
				require.NoError(t, err)
				if d.Finished {
					assert.Equal(t, reading.EndOfDocument, d.Text)
					break
				}
				texts = append(texts, d.Text)
			}
			assert.Len(t, texts, job.ChunksCreated)
			assert.Contains(t, texts[0], "It was a bright cold day in April.")

			assert.Eventually(t, func() bool {
				msgs := notes.Texts("winston")
				return len(msgs) > 0 && strings.HasPrefix(msgs[len(msgs)-1], "Ingestion finished")
			}, 5*time.Second, 10*time.Millisecond)
			assert.True(t, strings.HasPrefix(notes.Texts("winston")[0], "Ingestion started"))

			cancel()
			assert.NoError(t, <-workers)
		})
	}
}

func TestLibrary_ExternalStoreStaysOpen(t *testing.T) {
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	lib, err := Open(context.Background(), config.Default(), WithStore(store))
	require.NoError(t, err)
	require.NoError(t, lib.Close())

	_, err = store.Documents().GetOrCreateDocument(context.Background(), "still open")
	assert.NoError(t, err)
}

func TestLibrary_Factories(t *testing.T) {
	lib, err := Open(context.Background(), testConfig(t, config.BackendBadger))
	require.NoError(t, err)
	defer lib.Close()

	w, err := lib.NewWorker()
	require.NoError(t, err)
	assert.NotNil(t, w)
	s, err := lib.NewScheduler()
	require.NoError(t, err)
	assert.NotNil(t, s)
	sw, err := lib.NewSweeper()
	require.NoError(t, err)
	assert.NotNil(t, sw)
	srv, err := lib.NewServer()
	require.NoError(t, err)
	assert.NotNil(t, srv.Engine)
}
