// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package installment ingests long documents into small ordered chunks and
// delivers them to readers one at a time.
//
// A Library wires a storage backend, a batch queue and a notifier into the
// services of the ingestion and reading packages:
//
//	lib, err := installment.Open(ctx, config.Default())
//	if err != nil {
//		return err
//	}
//	defer lib.Close()
//
//	go lib.RunWorkers(ctx)
//	jobID, err := lib.Coordinator().Start(ctx, ingestion.IngestRequest{Title: title, Blocks: blocks, ReaderID: reader})
//	...
//	d, err := lib.Reader().NextChunk(ctx, reader)
package installment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/poiesic/installment/chunking"
	"github.com/poiesic/installment/config"
	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/ingestion"
	"github.com/poiesic/installment/notify"
	redisnotify "github.com/poiesic/installment/notify/redis"
	"github.com/poiesic/installment/queue"
	"github.com/poiesic/installment/queue/kafka"
	"github.com/poiesic/installment/queue/memory"
	redisqueue "github.com/poiesic/installment/queue/redis"
	"github.com/poiesic/installment/reading"
	"github.com/poiesic/installment/server"
	"github.com/poiesic/installment/storage"
	"github.com/poiesic/installment/storage/badger"
	"github.com/poiesic/installment/storage/sqlite"
)

// Library owns the stores, transports and services of one process.
type Library struct {
	cfg    *config.Config
	logger *slog.Logger

	store     storage.Store
	ownsStore bool
	redis     map[string]*goredis.Client
	publisher queue.Publisher
	consumer  queue.Consumer
	broker    *memory.Broker
	notifier  notify.Notifier

	reader      *reading.Reader
	coordinator *ingestion.Coordinator
}

// Option configures a Library.
type Option func(*libraryOptions)

type libraryOptions struct {
	logger   *slog.Logger
	store    storage.Store
	notifier notify.Notifier
}

// WithLogger sets the logger passed to every service.
func WithLogger(logger *slog.Logger) Option {
	return func(o *libraryOptions) {
		o.logger = logger
	}
}

// WithStore uses store instead of opening the configured backend. The
// caller keeps ownership of store.
func WithStore(store storage.Store) Option {
	return func(o *libraryOptions) {
		o.store = store
	}
}

// WithNotifier replaces the configured notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(o *libraryOptions) {
		o.notifier = n
	}
}

// Open builds a Library from cfg. A nil cfg means config.Default.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Library, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := &libraryOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}

	lib := &Library{cfg: cfg, logger: options.logger, redis: make(map[string]*goredis.Client)}
	ok := false
	defer func() {
		if !ok {
			lib.Close()
		}
	}()

	lib.store = options.store
	if lib.store == nil {
		store, err := openStore(cfg.Storage)
		if err != nil {
			return nil, err
		}
		lib.store, lib.ownsStore = store, true
	}
	if err := lib.openQueue(ctx); err != nil {
		return nil, err
	}
	lib.notifier = options.notifier
	if lib.notifier == nil {
		if err := lib.openNotifier(ctx); err != nil {
			return nil, err
		}
	}

	readingOpts := append(cfg.ReadingOptions(), reading.WithLogger(lib.logger))
	reader, err := reading.NewReader(lib.store.Documents(), lib.store.Chunks(), lib.store.Cursors(),
		lib.store.Subscriptions(), readingOpts...)
	if err != nil {
		return nil, err
	}
	lib.reader = reader

	coordinator, err := ingestion.NewCoordinator(lib.store.Documents(), lib.store.Jobs(), lib.publisher,
		lib.notifier, reader, lib.ingestionOptions()...)
	if err != nil {
		return nil, err
	}
	lib.coordinator = coordinator

	ok = true
	return lib, nil
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return sqlite.NewStore(cfg.Path)
	default:
		return badger.NewStore(cfg.Path)
	}
}

func (l *Library) openQueue(ctx context.Context) error {
	topics := []string{queue.TopicBatches, queue.TopicCompletions}
	switch l.cfg.Queue.Type {
	case config.TransportRedis:
		rdb, err := l.redisClient(ctx, l.cfg.Queue.Redis.Addr)
		if err != nil {
			return err
		}
		l.publisher = redisqueue.NewPublisher(rdb, l.cfg.Queue.Redis.MaxLen)
		consumer, err := redisqueue.NewConsumer(rdb, redisqueue.ConsumerConfig{
			Group:   l.cfg.Queue.Redis.Group,
			Name:    l.cfg.Queue.Redis.Consumer,
			Streams: topics,
			Logger:  l.logger,
		})
		if err != nil {
			return err
		}
		l.consumer = consumer
	case config.TransportKafka:
		publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
			Brokers:  l.cfg.Queue.Kafka.Brokers,
			ClientID: l.cfg.Queue.Kafka.ClientID,
		})
		if err != nil {
			return fmt.Errorf("connecting kafka producer: %w", err)
		}
		l.publisher = publisher
		consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:  l.cfg.Queue.Kafka.Brokers,
			GroupID:  l.cfg.Queue.Kafka.GroupID,
			Topics:   topics,
			ClientID: l.cfg.Queue.Kafka.ClientID,
			Logger:   l.logger,
		})
		if err != nil {
			return fmt.Errorf("joining kafka consumer group: %w", err)
		}
		l.consumer = consumer
	default:
		l.broker = memory.NewBroker(memory.WithCapacity(l.cfg.Queue.Capacity), memory.WithLogger(l.logger))
		l.publisher = l.broker
		concurrency := l.cfg.Ingestion.PoolSize
		if concurrency <= 0 {
			concurrency = runtime.NumCPU()
		}
		l.consumer = l.broker.NewConsumer(concurrency, topics...)
	}
	return nil
}

func (l *Library) openNotifier(ctx context.Context) error {
	var n notify.Notifier
	switch l.cfg.Notifier.Type {
	case config.TransportRedis:
		rdb, err := l.redisClient(ctx, l.cfg.Notifier.RedisAddr)
		if err != nil {
			return err
		}
		n = redisnotify.NewNotifier(rdb, l.cfg.Notifier.Channel, l.logger)
	default:
		n = notify.NewLogNotifier(l.logger)
	}
	l.notifier = notify.NewRateLimited(n, l.cfg.RateLimit())
	return nil
}

// redisClient returns the shared client for addr, connecting on first use.
func (l *Library) redisClient(ctx context.Context, addr string) (*goredis.Client, error) {
	if rdb, ok := l.redis[addr]; ok {
		return rdb, nil
	}
	rdb, err := redisqueue.Connect(ctx, addr)
	if err != nil {
		return nil, err
	}
	l.redis[addr] = rdb
	return rdb, nil
}

func (l *Library) ingestionOptions() []ingestion.Option {
	return append(l.cfg.IngestionOptions(), ingestion.WithLogger(l.logger))
}

// Config returns the configuration the Library was opened with.
func (l *Library) Config() *config.Config { return l.cfg }

// Store returns the storage backend.
func (l *Library) Store() storage.Store { return l.store }

// Notifier returns the notifier used for job and delivery messages.
func (l *Library) Notifier() notify.Notifier { return l.notifier }

// Coordinator returns the ingestion coordinator.
func (l *Library) Coordinator() *ingestion.Coordinator { return l.coordinator }

// Reader returns the chunk reader.
func (l *Library) Reader() *reading.Reader { return l.reader }

// NewWorker creates a batch worker. With the in-memory queue it reports to
// the local coordinator; otherwise reports travel on queue.TopicCompletions.
func (l *Library) NewWorker() (*ingestion.Worker, error) {
	asm, err := chunking.NewAssembler(l.store.Chunks(),
		append(l.cfg.ChunkingOptions(), chunking.WithLogger(l.logger))...)
	if err != nil {
		return nil, err
	}
	var reporter ingestion.Reporter = l.coordinator
	if l.broker == nil {
		reporter, err = ingestion.NewQueueReporter(l.publisher)
		if err != nil {
			return nil, err
		}
	}
	return ingestion.NewWorker(l.store.Jobs(), asm, reporter, l.ingestionOptions()...)
}

// NewSweeper creates a sweeper over the Library's jobs.
func (l *Library) NewSweeper() (*ingestion.Sweeper, error) {
	return ingestion.NewSweeper(l.store.Jobs(), l.coordinator, l.ingestionOptions()...)
}

// NewScheduler creates a scheduler that notifies through the Library's notifier.
func (l *Library) NewScheduler() (*reading.Scheduler, error) {
	return reading.NewScheduler(l.store.Subscriptions(), l.reader, l.notifier,
		append(l.cfg.ReadingOptions(), reading.WithLogger(l.logger))...)
}

// NewServer creates the HTTP trigger server.
func (l *Library) NewServer() (*server.Server, error) {
	worker, err := l.NewWorker()
	if err != nil {
		return nil, err
	}
	scheduler, err := l.NewScheduler()
	if err != nil {
		return nil, err
	}
	sweeper, err := l.NewSweeper()
	if err != nil {
		return nil, err
	}
	return server.New(server.Config{
		Ingester:      l.coordinator,
		Triggers:      worker,
		Reader:        l.reader,
		Scheduler:     scheduler,
		Sweeper:       sweeper,
		Subscriptions: l.store.Subscriptions(),
		Logger:        l.logger,
	})
}

// RunWorkers consumes batch and completion messages until ctx is done.
func (l *Library) RunWorkers(ctx context.Context) error {
	worker, err := l.NewWorker()
	if err != nil {
		return err
	}
	completions, err := ingestion.NewCompletionHandler(l.coordinator)
	if err != nil {
		return err
	}
	mux := queue.Mux{
		queue.TopicBatches:     worker,
		queue.TopicCompletions: completions,
	}
	consumer, err := ingestion.NewConsumer(l.consumer, mux, l.ingestionOptions()...)
	if err != nil {
		return err
	}
	defer consumer.Release()
	return consumer.Run(ctx)
}

// Ingest starts a job and waits until it is no longer processing, polling
// every interval. Workers must be running, see RunWorkers.
func (l *Library) Ingest(ctx context.Context, req ingestion.IngestRequest, interval time.Duration) (*core.Job, error) {
	jobID, err := l.coordinator.Start(ctx, req)
	if err != nil && !errors.Is(err, ingestion.ErrDispatchIncomplete) {
		return nil, err
	}
	if err != nil {
		l.logger.Warn("some batches were not dispatched", "job", jobID, "err", err)
	}
	return l.Wait(ctx, jobID, interval)
}

// Wait polls the job until it reaches a terminal status or ctx is done.
func (l *Library) Wait(ctx context.Context, jobID string, interval time.Duration) (*core.Job, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := l.coordinator.Status(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases everything the Library opened.
func (l *Library) Close() error {
	var errs []error
	if l.consumer != nil {
		if err := l.consumer.Close(); err != nil {
			l.logger.Error("error closing queue consumer", "err", err)
			errs = append(errs, err)
		}
	}
	if l.publisher != nil {
		if err := l.publisher.Close(); err != nil {
			l.logger.Error("error closing queue publisher", "err", err)
			errs = append(errs, err)
		}
	}
	for addr, rdb := range l.redis {
		if err := rdb.Close(); err != nil {
			l.logger.Error("error closing redis client", "addr", addr, "err", err)
			errs = append(errs, err)
		}
	}
	if l.store != nil && l.ownsStore {
		if err := l.store.Close(); err != nil {
			l.logger.Error("error closing store", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
