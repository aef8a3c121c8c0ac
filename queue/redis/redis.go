// Package redis implements queue.Publisher and queue.Consumer on Redis
// Streams. Topics map to stream keys and consumers join a consumer group;
// entries stay pending until acknowledged and are reclaimed by another
// consumer once they have been idle for MinIdle.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/poiesic/installment/queue"
)

// Stream entry field names.
const (
	fieldKey     = "key"
	fieldValue   = "value"
	fieldHeaders = "headers"
)

// Connect creates a client for addr and checks it with PING.
func Connect(ctx context.Context, addr string) (*goredis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Publisher appends messages to streams with XADD.
type Publisher struct {
	rdb    *goredis.Client
	maxLen int64
}

var _ queue.Publisher = (*Publisher)(nil)

// NewPublisher wraps rdb. maxLen caps each stream approximately; 0 disables trimming.
func NewPublisher(rdb *goredis.Client, maxLen int64) *Publisher {
	return &Publisher{rdb: rdb, maxLen: maxLen}
}

// Publish returns the stream entry id.
func (p *Publisher) Publish(ctx context.Context, msg queue.Message) (string, error) {
	if strings.TrimSpace(msg.Topic) == "" {
		return "", queue.ErrEmptyTopic
	}
	values, err := streamValues(msg)
	if err != nil {
		return "", err
	}
	args := &goredis.XAddArgs{
		Stream: msg.Topic,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("redis xadd: %w", err)
	}
	return id, nil
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Group   string
	Name    string
	Streams []string
	Count   int64         // entries per read, default 10
	Block   time.Duration // read block time, default 2s
	MinIdle time.Duration // pending entries idle this long are reclaimed, default 1m
	Logger  *slog.Logger
}

// Consumer reads streams through a consumer group. The entries of one read
// are handled concurrently and acknowledged individually.
type Consumer struct {
	rdb    *goredis.Client
	cfg    ConsumerConfig
	logger *slog.Logger
	stop   chan struct{}
	once   sync.Once
}

var _ queue.Consumer = (*Consumer)(nil)

// NewConsumer validates cfg and fills defaults.
func NewConsumer(rdb *goredis.Client, cfg ConsumerConfig) (*Consumer, error) {
	if rdb == nil {
		return nil, errors.New("redis client required")
	}
	if strings.TrimSpace(cfg.Group) == "" {
		return nil, errors.New("redis consumer group is empty")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New("redis consumer name is empty")
	}
	if len(cfg.Streams) == 0 {
		return nil, errors.New("redis streams is empty")
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.MinIdle <= 0 {
		cfg.MinIdle = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		rdb:    rdb,
		cfg:    cfg,
		logger: logger.With("component", "redis-consumer", "group", cfg.Group),
		stop:   make(chan struct{}),
	}, nil
}

// Run creates the groups if needed and consumes until ctx is done or Close is called.
func (c *Consumer) Run(ctx context.Context, handler queue.Handler) error {
	if handler == nil {
		return queue.ErrHandlerRequired
	}
	for _, stream := range c.cfg.Streams {
		err := c.rdb.XGroupCreateMkStream(ctx, stream, c.cfg.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("creating consumer group on %s: %w", stream, err)
		}
	}

	streams := make([]string, 0, 2*len(c.cfg.Streams))
	streams = append(streams, c.cfg.Streams...)
	for range c.cfg.Streams {
		streams = append(streams, ">")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		default:
		}

		c.reclaim(ctx, handler)

		res, err := c.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			Streams:  streams,
			Count:    c.cfg.Count,
			Block:    c.cfg.Block,
		}).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, goredis.ErrClosed) {
				return nil
			}
			c.logger.Warn("redis xreadgroup failed", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range res {
			c.handleAll(ctx, s.Stream, s.Messages, handler)
		}
	}
}

// reclaim takes over entries another consumer left pending for MinIdle.
func (c *Consumer) reclaim(ctx context.Context, handler queue.Handler) {
	for _, stream := range c.cfg.Streams {
		msgs, _, err := c.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
			Stream:   stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			MinIdle:  c.cfg.MinIdle,
			Start:    "0-0",
			Count:    c.cfg.Count,
		}).Result()
		if err != nil {
			if !errors.Is(err, goredis.Nil) {
				c.logger.Debug("redis xautoclaim failed", "stream", stream, "err", err)
			}
			continue
		}
		if len(msgs) > 0 {
			c.logger.Info("reclaimed pending entries", "stream", stream, "count", len(msgs))
			c.handleAll(ctx, stream, msgs, handler)
		}
	}
}

func (c *Consumer) handleAll(ctx context.Context, stream string, msgs []goredis.XMessage, handler queue.Handler) {
	var wg sync.WaitGroup
	for _, m := range msgs {
		wg.Add(1)
		go func(m goredis.XMessage) {
			defer wg.Done()
			msg, err := fromStreamMessage(stream, m)
			if err == nil {
				err = handler.Handle(ctx, msg)
			} else {
				// Undecodable entries are acknowledged so they are not reclaimed forever.
				c.logger.Error("dropping malformed stream entry", "stream", stream, "id", m.ID, "err", err)
				err = nil
			}
			if err != nil {
				c.logger.Warn("stream entry handler failed", "stream", stream, "id", m.ID, "err", err)
				return
			}
			if err := c.rdb.XAck(ctx, stream, c.cfg.Group, m.ID).Err(); err != nil {
				c.logger.Warn("redis xack failed", "stream", stream, "id", m.ID, "err", err)
			}
		}(m)
	}
	wg.Wait()
}

// Close stops Run. The client stays open.
func (c *Consumer) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

func streamValues(msg queue.Message) (map[string]any, error) {
	values := map[string]any{
		fieldKey:   string(msg.Key),
		fieldValue: string(msg.Value),
	}
	if len(msg.Headers) > 0 {
		raw, err := json.Marshal(msg.Headers)
		if err != nil {
			return nil, fmt.Errorf("encoding headers: %w", err)
		}
		values[fieldHeaders] = string(raw)
	}
	return values, nil
}

func fromStreamMessage(stream string, m goredis.XMessage) (queue.Message, error) {
	msg := queue.Message{Topic: stream}
	value, ok := m.Values[fieldValue].(string)
	if !ok {
		return msg, fmt.Errorf("stream entry %s has no %q field", m.ID, fieldValue)
	}
	msg.Value = []byte(value)
	if key, ok := m.Values[fieldKey].(string); ok && key != "" {
		msg.Key = []byte(key)
	}
	if raw, ok := m.Values[fieldHeaders].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &msg.Headers); err != nil {
			return msg, fmt.Errorf("decoding headers of %s: %w", m.ID, err)
		}
	}
	return msg, nil
}
