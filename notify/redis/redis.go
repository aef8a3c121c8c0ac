// Package redis publishes notifications on a Redis pub/sub channel, where a
// messenger bot (or `installment listen`) forwards them to readers.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "installment.notifications"

// Envelope is the JSON payload published per notification.
type Envelope struct {
	Target string    `json:"target"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// Notifier implements notify.Notifier over PUBLISH.
type Notifier struct {
	rdb     *goredis.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier wraps rdb. An empty channel means DefaultChannel.
func NewNotifier(rdb *goredis.Client, channel string, logger *slog.Logger) *Notifier {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{rdb: rdb, channel: channel, logger: logger.With("component", "redis-notify")}
}

// Notify publishes an Envelope.
func (n *Notifier) Notify(ctx context.Context, target, text string) error {
	if n == nil || n.rdb == nil {
		return errors.New("redis notifier not initialized")
	}
	raw, err := json.Marshal(Envelope{Target: target, Text: text, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := n.rdb.Publish(ctx, n.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Listen subscribes to the channel and calls onMsg for every envelope until
// ctx is done.
func (n *Notifier) Listen(ctx context.Context, onMsg func(Envelope)) error {
	if onMsg == nil {
		return errors.New("onMsg callback required")
	}
	sub := n.rdb.Subscribe(ctx, n.channel)
	defer sub.Close()

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok || m == nil {
				return nil
			}
			env, err := decodeEnvelope(m.Payload)
			if err != nil {
				n.logger.Warn("bad notification payload", "err", err)
				continue
			}
			onMsg(env)
		}
	}
}

func decodeEnvelope(payload string) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal([]byte(payload), &env)
	return env, err
}
