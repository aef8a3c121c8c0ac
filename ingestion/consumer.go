package ingestion

import (
	"context"
	"errors"
	"log/slog"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/installment/queue"
)

// Consumer runs a queue consumer and hands every delivery to a worker pool.
// A delivery is acknowledged only once its handler returned, so a crash
// leads to redelivery.
type Consumer struct {
	consumer queue.Consumer
	handler  queue.Handler
	pool     *ants.Pool
	logger   *slog.Logger
}

// NewConsumer creates a Consumer. The pool size comes from WithPoolSize.
func NewConsumer(consumer queue.Consumer, handler queue.Handler, opts ...Option) (*Consumer, error) {
	if consumer == nil {
		return nil, ErrConsumerRequired
	}
	if handler == nil {
		return nil, ErrHandlerRequired
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(o.poolSize)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		consumer: consumer,
		handler:  handler,
		pool:     pool,
		logger:   o.logger.With("component", "consumer"),
	}, nil
}

// Run consumes until ctx is done or the underlying consumer stops.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.consumer.Run(ctx, queue.HandlerFunc(c.handle))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Consumer) handle(ctx context.Context, msg queue.Message) error {
	done := make(chan error, 1)
	if err := c.pool.Submit(func() {
		done <- c.handler.Handle(ctx, msg)
	}); err != nil {
		c.logger.Error("error submitting message to pool", "topic", msg.Topic, "err", err)
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release stops the consumer and releases the worker pool.
// The Consumer should not be used after calling Release.
func (c *Consumer) Release() {
	if err := c.consumer.Close(); err != nil {
		c.logger.Warn("error closing queue consumer", "err", err)
	}
	if c.pool != nil {
		c.pool.Release()
	}
}
