package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/poiesic/installment/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageConversion(t *testing.T) {
	in := queue.Message{
		Topic:   queue.TopicBatches,
		Key:     []byte("job-1"),
		Value:   []byte(`{"job_id":"job-1"}`),
		Headers: map[string]string{"kind": "batch", " ": "dropped"},
	}

	pm := toProducerMessage(in)
	assert.Equal(t, in.Topic, pm.Topic)
	require.Len(t, pm.Headers, 1)
	assert.Equal(t, "kind", string(pm.Headers[0].Key))

	key, err := pm.Key.Encode()
	require.NoError(t, err)
	value, err := pm.Value.Encode()
	require.NoError(t, err)

	cm := &sarama.ConsumerMessage{
		Topic: pm.Topic,
		Key:   key,
		Value: value,
		Headers: []*sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte("batch")},
			nil,
		},
	}
	out := fromConsumerMessage(cm)
	assert.Equal(t, in.Topic, out.Topic)
	assert.Equal(t, in.Key, out.Key)
	assert.Equal(t, in.Value, out.Value)
	assert.Equal(t, map[string]string{"kind": "batch"}, out.Headers)
}

func TestToProducerMessage_NoKey(t *testing.T) {
	pm := toProducerMessage(queue.Message{Topic: "t", Value: []byte("v")})
	assert.Nil(t, pm.Key)
	assert.Empty(t, pm.Headers)
}

func TestProducerConfig(t *testing.T) {
	sc := producerConfig(PublisherConfig{ClientID: " installment "})
	assert.True(t, sc.Producer.Idempotent)
	assert.Equal(t, sarama.WaitForAll, sc.Producer.RequiredAcks)
	assert.Equal(t, 1, sc.Net.MaxOpenRequests)
	assert.Equal(t, "installment", sc.ClientID)
	require.NoError(t, sc.Validate())
}

func TestConstructorsValidate(t *testing.T) {
	_, err := NewPublisher(PublisherConfig{})
	assert.Error(t, err)
	_, err = NewConsumer(ConsumerConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
	_, err = NewConsumer(ConsumerConfig{Brokers: []string{"localhost:9092"}, GroupID: "g"})
	assert.Error(t, err)
}
