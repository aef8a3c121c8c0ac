package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/installment/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_PublishConsume(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b := NewBroker()
	defer b.Close()

	for i := 0; i < 10; i++ {
		id, err := b.Publish(ctx, queue.Message{Topic: "t", Value: []byte{byte(i)}})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}
	assert.Equal(t, 10, b.Len("t"))

	var (
		mu   sync.Mutex
		seen []byte
	)
	c := b.NewConsumer(3, "t")
	go c.Run(ctx, queue.HandlerFunc(func(ctx context.Context, msg queue.Message) error {
		mu.Lock()
		seen = append(seen, msg.Value[0])
		mu.Unlock()
		return nil
	}))

	require.NoError(t, b.Drain(ctx))
	require.NoError(t, c.Close())
	assert.Len(t, seen, 10)
	assert.Zero(t, b.Dropped())
}

func TestBroker_Redelivery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b := NewBroker(WithMaxDeliveries(3))
	defer b.Close()

	_, err := b.Publish(ctx, queue.Message{Topic: "t", Value: []byte("flaky")})
	require.NoError(t, err)
	_, err = b.Publish(ctx, queue.Message{Topic: "t", Value: []byte("poison")})
	require.NoError(t, err)

	var flaky, poison atomic.Int32
	c := b.NewConsumer(1, "t")
	go c.Run(ctx, queue.HandlerFunc(func(ctx context.Context, msg queue.Message) error {
		if string(msg.Value) == "poison" {
			poison.Add(1)
			return errors.New("always fails")
		}
		if flaky.Add(1) == 1 {
			return errors.New("fails once")
		}
		return nil
	}))

	require.NoError(t, b.Drain(ctx))
	c.Close()
	assert.Equal(t, int32(2), flaky.Load(), "flaky message is redelivered once")
	assert.Equal(t, int32(3), poison.Load(), "poison message stops at max deliveries")
	assert.Equal(t, int64(1), b.Dropped())
}

func TestBroker_Closed(t *testing.T) {
	b := NewBroker()
	require.NoError(t, b.Close())

	_, err := b.Publish(context.Background(), queue.Message{Topic: "t"})
	assert.ErrorIs(t, err, queue.ErrClosed)

	_, err = NewBroker().Publish(context.Background(), queue.Message{})
	assert.ErrorIs(t, err, queue.ErrEmptyTopic)
}

func TestConsumer_RunStops(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	assert.ErrorIs(t, b.NewConsumer(1, "t").Run(context.Background(), nil), queue.ErrHandlerRequired)

	ctx, cancel := context.WithCancel(context.Background())
	c := b.NewConsumer(2, "t")
	done := make(chan error, 1)
	handler := queue.HandlerFunc(func(context.Context, queue.Message) error { return nil })
	go func() { done <- c.Run(ctx, handler) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
