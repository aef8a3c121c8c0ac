package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/installment/chunking"
	"github.com/poiesic/installment/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, TransportMemory, cfg.Queue.Type)
	assert.Equal(t, 10, cfg.Ingestion.BatchSize)
	assert.Equal(t, 15*time.Minute, cfg.Ingestion.StaleAfter)
	assert.Equal(t, chunking.DefaultMaxChunkSize, cfg.Chunking.MaxChunkSize)
	require.NotNil(t, cfg.Ingestion.Progress)
	assert.True(t, *cfg.Ingestion.Progress)
	require.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
storage:
  backend: sqlite
  path: /var/lib/installment/books.db
queue:
  type: kafka
  kafka:
    brokers: [kafka-1:9092, kafka-2:9092]
notifier:
  type: redis
  channel: chat.outbox
ingestion:
  batch_size: 25
  progress: false
  stale_after: 30m
  policy: count
chunking:
  group_size: 3
reading:
  finished_message: "Done!"
`))
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Queue.Kafka.Brokers)
	assert.Equal(t, "installment-workers", cfg.Queue.Kafka.GroupID)
	assert.Equal(t, "chat.outbox", cfg.Notifier.Channel)
	assert.Equal(t, "localhost:6379", cfg.Notifier.RedisAddr)
	assert.Equal(t, 25, cfg.Ingestion.BatchSize)
	assert.False(t, *cfg.Ingestion.Progress)
	assert.Equal(t, 30*time.Minute, cfg.Ingestion.StaleAfter)
	assert.Equal(t, core.PolicyCount, cfg.Ingestion.Policy)
	assert.Equal(t, core.ModeBySense, cfg.Ingestion.Mode)
	assert.Equal(t, 3, cfg.Chunking.GroupSize)
	assert.Equal(t, "Done!", cfg.Reading.FinishedMessage)

	assert.Len(t, cfg.IngestionOptions(), 4)
	assert.Len(t, cfg.ChunkingOptions(), 2)
	assert.Equal(t, 25.0, cfg.RateLimit().MessagesPerSecond)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "storage: [unclosed"},
		{"unknown backend", "storage:\n  backend: postgres"},
		{"kafka without brokers", "queue:\n  type: kafka"},
		{"unknown queue", "queue:\n  type: carrier-pigeon"},
		{"unknown notifier", "notifier:\n  type: email"},
		{"negative batch size", "ingestion:\n  batch_size: -1"},
		{"unknown mode", "ingestion:\n  mode: by_vibes"},
		{"unknown policy", "ingestion:\n  policy: random"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Storage.Path = "/tmp/books"
	cfg.Ingestion.StaleAfter = 45 * time.Second
	require.NoError(t, Save(path, cfg))

	_, err := os.Stat(path)
	require.NoError(t, err)
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSaveLoadRoundTrip_KafkaBrokers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "installment.yaml")

	cfg := Default()
	cfg.Queue.Type = TransportKafka
	cfg.Queue.Kafka.Brokers = []string{"k1:9092", "k2:9092"}
	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	parsed, err := Parse([]byte("queue:\n  kafka:\n    brokers: []\n"))
	require.NoError(t, err)
	assert.Nil(t, parsed.Queue.Kafka.Brokers)
}
