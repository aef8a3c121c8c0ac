package memory

import (
	"context"
	"sync"

	"github.com/poiesic/installment/queue"
)

// Consumer reads topics of a Broker with a fixed number of goroutines.
type Consumer struct {
	broker      *Broker
	topics      []string
	concurrency int
	stop        chan struct{}
	stopOnce    sync.Once
}

var _ queue.Consumer = (*Consumer)(nil)

// NewConsumer creates a consumer of topics. concurrency is the number of
// messages handled at once per topic; values below 1 mean 1.
func (b *Broker) NewConsumer(concurrency int, topics ...string) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Consumer{
		broker:      b,
		topics:      topics,
		concurrency: concurrency,
		stop:        make(chan struct{}),
	}
}

// Run delivers messages until ctx is done, Close is called or the broker closes.
// It returns ctx.Err() on cancellation and nil otherwise.
func (c *Consumer) Run(ctx context.Context, handler queue.Handler) error {
	if handler == nil {
		return queue.ErrHandlerRequired
	}

	var wg sync.WaitGroup
	for _, name := range c.topics {
		ch := c.broker.topic(name)
		for i := 0; i < c.concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.loop(ctx, ch, handler)
			}()
		}
	}
	wg.Wait()
	return ctx.Err()
}

func (c *Consumer) loop(ctx context.Context, ch chan *delivery, handler queue.Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-c.broker.closed:
			return
		case d := <-ch:
			c.broker.settle(d, handler.Handle(ctx, d.msg))
		}
	}
}

// Close stops Run. It does not close the broker.
func (c *Consumer) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}
