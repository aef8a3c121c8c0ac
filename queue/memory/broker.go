// Package memory implements queue.Publisher and queue.Consumer in process.
// Failed deliveries are re-enqueued until MaxDeliveries is reached.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/poiesic/installment/queue"
)

const (
	// DefaultCapacity is the per-topic buffer size.
	DefaultCapacity = 1024

	// DefaultMaxDeliveries bounds how often one message is handed out.
	DefaultMaxDeliveries = 5
)

type delivery struct {
	id       string
	msg      queue.Message
	attempts int
}

// Broker holds one buffered channel per topic.
type Broker struct {
	mu            sync.Mutex
	topics        map[string]chan *delivery
	capacity      int
	maxDeliveries int
	seq           atomic.Uint64
	inflight      sync.WaitGroup
	dropped       atomic.Int64
	closed        chan struct{}
	closeOnce     sync.Once
	logger        *slog.Logger
}

var _ queue.Publisher = (*Broker)(nil)

// Option configures a Broker.
type Option func(*Broker)

// WithCapacity sets the per-topic buffer size.
func WithCapacity(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithMaxDeliveries sets how many times a message is delivered before it is dropped.
func WithMaxDeliveries(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.maxDeliveries = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBroker creates an empty broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		topics:        make(map[string]chan *delivery),
		capacity:      DefaultCapacity,
		maxDeliveries: DefaultMaxDeliveries,
		closed:        make(chan struct{}),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "memory-queue")
	return b
}

func (b *Broker) topic(name string) chan *delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.topics[name]
	if !ok {
		ch = make(chan *delivery, b.capacity)
		b.topics[name] = ch
	}
	return ch
}

// Publish enqueues msg, blocking while the topic buffer is full.
func (b *Broker) Publish(ctx context.Context, msg queue.Message) (string, error) {
	if msg.Topic == "" {
		return "", queue.ErrEmptyTopic
	}
	select {
	case <-b.closed:
		return "", queue.ErrClosed
	default:
	}

	d := &delivery{
		id:  fmt.Sprintf("%s-%d", msg.Topic, b.seq.Add(1)),
		msg: msg,
	}
	b.inflight.Add(1)
	select {
	case b.topic(msg.Topic) <- d:
		return d.id, nil
	case <-ctx.Done():
		b.inflight.Done()
		return "", ctx.Err()
	case <-b.closed:
		b.inflight.Done()
		return "", queue.ErrClosed
	}
}

// Len returns the number of queued, undelivered messages on topic.
func (b *Broker) Len(topic string) int {
	return len(b.topic(topic))
}

// Dropped returns how many messages exceeded MaxDeliveries.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

// Drain blocks until every published message has been acknowledged or
// dropped, or ctx is done.
func (b *Broker) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops all consumers. Queued messages are discarded.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

// settle finishes one delivery attempt.
func (b *Broker) settle(d *delivery, err error) {
	if err == nil {
		b.inflight.Done()
		return
	}
	d.attempts++
	if d.attempts >= b.maxDeliveries {
		b.dropped.Add(1)
		b.inflight.Done()
		b.logger.Error("dropping message after max deliveries",
			"id", d.id, "topic", d.msg.Topic, "attempts", d.attempts, "err", err)
		return
	}
	b.logger.Warn("redelivering message", "id", d.id, "topic", d.msg.Topic, "attempt", d.attempts, "err", err)
	go func() {
		select {
		case b.topic(d.msg.Topic) <- d:
		case <-b.closed:
			b.inflight.Done()
		}
	}()
}
