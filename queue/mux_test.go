package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMux(t *testing.T) {
	var got []string
	record := func(name string) Handler {
		return HandlerFunc(func(ctx context.Context, msg Message) error {
			got = append(got, name+":"+string(msg.Value))
			return nil
		})
	}
	m := Mux{TopicBatches: record("batch"), TopicCompletions: record("done")}
	assert.ElementsMatch(t, []string{TopicBatches, TopicCompletions}, m.Topics())

	require.NoError(t, m.Handle(context.Background(), Message{Topic: TopicCompletions, Value: []byte("1")}))
	require.NoError(t, m.Handle(context.Background(), Message{Topic: TopicBatches, Value: []byte("2")}))
	assert.Equal(t, []string{"done:1", "batch:2"}, got)

	assert.Error(t, m.Handle(context.Background(), Message{Topic: "elsewhere"}))
}
