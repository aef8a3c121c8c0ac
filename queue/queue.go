// Package queue defines the at-least-once message transport between the
// ingestion coordinator and its batch workers.
//
// Adapters live in subpackages: memory (in-process, used by tests and the
// CLI), kafka (IBM/sarama) and redis (Redis Streams consumer groups).
package queue

import (
	"context"
	"errors"
)

// Topics used by the pipeline.
const (
	// TopicBatches carries one BatchMessage per dispatched batch.
	TopicBatches = "installment.batches"

	// TopicCompletions carries CompletionReports from remote workers.
	TopicCompletions = "installment.completions"
)

var (
	// ErrClosed is returned when publishing to or consuming from a closed transport.
	ErrClosed = errors.New("queue closed")

	// ErrEmptyTopic is returned when a message has no topic.
	ErrEmptyTopic = errors.New("queue topic is empty")

	// ErrHandlerRequired is returned when Run is called without a handler.
	ErrHandlerRequired = errors.New("queue handler required")
)

// Message is one transport-neutral queue record.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Publisher sends messages. Delivery is at-least-once.
type Publisher interface {
	// Publish sends msg and returns a transport-specific message id.
	Publish(ctx context.Context, msg Message) (string, error)
	Close() error
}

// Handler processes one delivered message. A nil error acknowledges the
// message; any other error leaves it for redelivery.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

// Handle calls f(ctx, msg).
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Consumer delivers messages to a Handler until ctx is done or Close is called.
type Consumer interface {
	Run(ctx context.Context, handler Handler) error
	Close() error
}
