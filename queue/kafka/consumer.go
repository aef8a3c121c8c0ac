package kafka

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/poiesic/installment/queue"
	"github.com/poiesic/installment/retry"
)

const (
	handleAttempts  = 5
	handleBaseDelay = 200 * time.Millisecond
)

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topics   []string
	ClientID string
	Logger   *slog.Logger
}

// Consumer runs a sarama consumer group. Each claimed partition is handled
// on its own goroutine; an offset is marked only after its handler succeeds.
type Consumer struct {
	cg     sarama.ConsumerGroup
	topics []string
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ queue.Consumer = (*Consumer)(nil)

// NewConsumer joins cfg.GroupID on cfg.Brokers.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers is empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("kafka consumer group id is empty")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("kafka topics is empty")
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	// Batches published before the first worker joined must still be processed.
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Group.Rebalance.Timeout = 30 * time.Second
	sc.Consumer.Group.Session.Timeout = 30 * time.Second
	sc.ClientID = strings.TrimSpace(cfg.ClientID)

	cg, err := sarama.NewConsumerGroup(cfg.Brokers, strings.TrimSpace(cfg.GroupID), sc)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cg: cg, topics: cfg.Topics, logger: logger.With("component", "kafka-consumer")}, nil
}

// Run consumes until ctx is done or the group is closed.
func (c *Consumer) Run(ctx context.Context, handler queue.Handler) error {
	if handler == nil {
		return queue.ErrHandlerRequired
	}
	h := &groupHandler{h: handler, logger: c.logger}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.cg.Consume(ctx, c.topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
	}
}

// Close leaves the group. Later calls return the first result.
func (c *Consumer) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() { c.closeErr = c.cg.Close() })
	return c.closeErr
}

type groupHandler struct {
	h      queue.Handler
	logger *slog.Logger
}

func (groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for m := range claim.Messages() {
		msg := fromConsumerMessage(m)
		err := retry.WithBackoff(sess.Context(), func() error {
			return h.h.Handle(sess.Context(), msg)
		}, handleAttempts, handleBaseDelay)
		if errors.Is(err, context.Canceled) {
			// Rebalance or shutdown: the offset stays unmarked and the next
			// owner of the partition redelivers it.
			return nil
		}
		if err != nil {
			// Marking past a failed batch is safe: the sweeper re-dispatches
			// batches of stale jobs.
			h.logger.Error("message handler failed, skipping",
				"topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "err", err)
		}
		sess.MarkMessage(m, "")
	}
	return nil
}

func fromConsumerMessage(m *sarama.ConsumerMessage) queue.Message {
	msg := queue.Message{
		Topic: m.Topic,
		Key:   m.Key,
		Value: m.Value,
	}
	if len(m.Headers) > 0 {
		msg.Headers = make(map[string]string, len(m.Headers))
		for _, hdr := range m.Headers {
			if hdr == nil || len(hdr.Key) == 0 {
				continue
			}
			msg.Headers[string(hdr.Key)] = string(hdr.Value)
		}
	}
	return msg
}
