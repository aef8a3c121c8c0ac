// Package config loads the YAML configuration of the installment service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/installment/chunking"
	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/ingestion"
	"github.com/poiesic/installment/notify"
	"github.com/poiesic/installment/reading"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Queue and notifier transports.
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
	TransportKafka  = "kafka"
	TransportLog    = "log"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid config")

// StorageConfig selects the persistent store.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// RedisConfig holds a Redis connection and stream settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
	MaxLen   int64  `yaml:"max_len"`
}

// KafkaConfig holds the Kafka cluster settings.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers,omitempty"`
	GroupID  string   `yaml:"group_id"`
	ClientID string   `yaml:"client_id"`
}

// QueueConfig selects the batch transport.
type QueueConfig struct {
	Type     string      `yaml:"type"`
	Capacity int         `yaml:"capacity"`
	Redis    RedisConfig `yaml:"redis"`
	Kafka    KafkaConfig `yaml:"kafka"`
}

// NotifierConfig selects where notifications go.
type NotifierConfig struct {
	Type              string  `yaml:"type"`
	RedisAddr         string  `yaml:"redis_addr"`
	Channel           string  `yaml:"channel"`
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	Burst             int     `yaml:"burst"`
}

// IngestionConfig tunes the coordinator, workers and sweeper.
type IngestionConfig struct {
	BatchSize       int           `yaml:"batch_size"`
	PoolSize        int           `yaml:"pool_size"`
	Progress        *bool         `yaml:"progress,omitempty"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	MaxRedispatches int           `yaml:"max_redispatches"`
	Mode            core.Mode     `yaml:"mode"`
	Policy          core.Policy   `yaml:"policy"`
}

// ChunkingConfig bounds chunk sizes.
type ChunkingConfig struct {
	MaxChunkSize int `yaml:"max_chunk_size"`
	GroupSize    int `yaml:"group_size"`
}

// ReadingConfig tunes delivery to readers.
type ReadingConfig struct {
	FinishedMessage string `yaml:"finished_message"`
	Concurrency     int    `yaml:"concurrency"`
}

// ServerConfig configures the HTTP trigger server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the root configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Queue     QueueConfig     `yaml:"queue"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Reading   ReadingConfig   `yaml:"reading"`
	Server    ServerConfig    `yaml:"server"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the config at path. A missing file yields Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendBadger
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "installment.db"
	}

	if cfg.Queue.Type == "" {
		cfg.Queue.Type = TransportMemory
	}
	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = 1024
	}
	if cfg.Queue.Redis.Addr == "" {
		cfg.Queue.Redis.Addr = "localhost:6379"
	}
	if cfg.Queue.Redis.Group == "" {
		cfg.Queue.Redis.Group = "installment"
	}
	if cfg.Queue.Redis.Consumer == "" {
		host, _ := os.Hostname()
		cfg.Queue.Redis.Consumer = "installment-" + host
	}
	if cfg.Queue.Redis.MaxLen == 0 {
		cfg.Queue.Redis.MaxLen = 100_000
	}
	if len(cfg.Queue.Kafka.Brokers) == 0 {
		cfg.Queue.Kafka.Brokers = nil
	}
	if cfg.Queue.Kafka.GroupID == "" {
		cfg.Queue.Kafka.GroupID = "installment-workers"
	}
	if cfg.Queue.Kafka.ClientID == "" {
		cfg.Queue.Kafka.ClientID = "installment"
	}

	if cfg.Notifier.Type == "" {
		cfg.Notifier.Type = TransportLog
	}
	if cfg.Notifier.RedisAddr == "" {
		cfg.Notifier.RedisAddr = cfg.Queue.Redis.Addr
	}
	if cfg.Notifier.Channel == "" {
		cfg.Notifier.Channel = "installment.notifications"
	}
	if cfg.Notifier.MessagesPerSecond == 0 {
		cfg.Notifier.MessagesPerSecond = notify.DefaultRateLimit.MessagesPerSecond
	}
	if cfg.Notifier.Burst == 0 {
		cfg.Notifier.Burst = notify.DefaultRateLimit.BurstSize
	}

	if cfg.Ingestion.BatchSize == 0 {
		cfg.Ingestion.BatchSize = ingestion.DefaultBatchSize
	}
	if cfg.Ingestion.StaleAfter == 0 {
		cfg.Ingestion.StaleAfter = ingestion.DefaultStaleAfter
	}
	if cfg.Ingestion.MaxRedispatches == 0 {
		cfg.Ingestion.MaxRedispatches = ingestion.DefaultMaxRedispatches
	}
	if cfg.Ingestion.Progress == nil {
		on := true
		cfg.Ingestion.Progress = &on
	}
	if cfg.Ingestion.Mode == "" {
		cfg.Ingestion.Mode = core.ModeBySense
	}
	if cfg.Ingestion.Policy == "" {
		cfg.Ingestion.Policy = core.PolicySize
	}

	if cfg.Chunking.MaxChunkSize == 0 {
		cfg.Chunking.MaxChunkSize = chunking.DefaultMaxChunkSize
	}
	if cfg.Chunking.GroupSize == 0 {
		cfg.Chunking.GroupSize = chunking.DefaultGroupSize
	}

	if cfg.Reading.Concurrency == 0 {
		cfg.Reading.Concurrency = reading.DefaultConcurrency
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	switch c.Storage.Backend {
	case BackendBadger, BackendSQLite:
	default:
		return invalid("unknown storage backend %q", c.Storage.Backend)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return invalid("storage path is empty")
	}

	switch c.Queue.Type {
	case TransportMemory, TransportRedis:
	case TransportKafka:
		if len(c.Queue.Kafka.Brokers) == 0 {
			return invalid("kafka queue needs at least one broker")
		}
	default:
		return invalid("unknown queue type %q", c.Queue.Type)
	}
	if c.Queue.Capacity < 0 {
		return invalid("queue capacity must not be negative")
	}

	switch c.Notifier.Type {
	case TransportLog, TransportRedis:
	default:
		return invalid("unknown notifier type %q", c.Notifier.Type)
	}
	if c.Notifier.MessagesPerSecond < 0 || c.Notifier.Burst < 0 {
		return invalid("notifier rate limit must not be negative")
	}

	if c.Ingestion.BatchSize < 0 || c.Ingestion.PoolSize < 0 || c.Ingestion.MaxRedispatches < 0 {
		return invalid("ingestion sizes must not be negative")
	}
	if c.Ingestion.StaleAfter < 0 {
		return invalid("stale_after must not be negative")
	}
	if err := core.ValidateMode(c.Ingestion.Mode); err != nil {
		return invalid("%v", err)
	}
	if err := core.ValidatePolicy(c.Ingestion.Policy); err != nil {
		return invalid("%v", err)
	}

	if c.Chunking.MaxChunkSize < 0 || c.Chunking.GroupSize < 0 {
		return invalid("chunking sizes must not be negative")
	}
	if c.Reading.Concurrency < 0 {
		return invalid("reading concurrency must not be negative")
	}
	return nil
}

// IngestionOptions converts the ingestion settings to service options.
func (c *Config) IngestionOptions() []ingestion.Option {
	opts := []ingestion.Option{
		ingestion.WithBatchSize(c.Ingestion.BatchSize),
		ingestion.WithProgressNotifications(c.Ingestion.Progress == nil || *c.Ingestion.Progress),
		ingestion.WithStaleAfter(c.Ingestion.StaleAfter),
		ingestion.WithMaxRedispatches(c.Ingestion.MaxRedispatches),
	}
	if c.Ingestion.PoolSize > 0 {
		opts = append(opts, ingestion.WithPoolSize(c.Ingestion.PoolSize))
	}
	return opts
}

// ChunkingOptions converts the chunking settings to assembler options.
func (c *Config) ChunkingOptions() []chunking.Option {
	return []chunking.Option{
		chunking.WithMaxChunkSize(c.Chunking.MaxChunkSize),
		chunking.WithGroupSize(c.Chunking.GroupSize),
	}
}

// ReadingOptions converts the reading settings to reader and scheduler options.
func (c *Config) ReadingOptions() []reading.Option {
	return []reading.Option{
		reading.WithConcurrency(c.Reading.Concurrency),
		reading.WithFinishedMessage(c.Reading.FinishedMessage),
	}
}

// RateLimit returns the notifier rate limit.
func (c *Config) RateLimit() notify.RateLimitConfig {
	return notify.RateLimitConfig{MessagesPerSecond: c.Notifier.MessagesPerSecond, BurstSize: c.Notifier.Burst}
}
