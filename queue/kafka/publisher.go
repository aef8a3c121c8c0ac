// Package kafka implements queue.Publisher and queue.Consumer on Apache Kafka
// through IBM/sarama.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/poiesic/installment/queue"
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Brokers  []string
	ClientID string
}

// Publisher is a synchronous, idempotent producer.
type Publisher struct {
	p sarama.SyncProducer
}

var _ queue.Publisher = (*Publisher)(nil)

// NewPublisher connects a producer to cfg.Brokers.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers is empty")
	}

	p, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return &Publisher{p: p}, nil
}

func producerConfig(cfg PublisherConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 10
	sc.Producer.Retry.Backoff = 100 * time.Millisecond
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	// Keyed by job id, so one job's batches share a partition.
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.ClientID = strings.TrimSpace(cfg.ClientID)
	return sc
}

// Publish sends msg and returns "topic/partition/offset".
func (s *Publisher) Publish(ctx context.Context, msg queue.Message) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if strings.TrimSpace(msg.Topic) == "" {
		return "", queue.ErrEmptyTopic
	}

	partition, offset, err := s.p.SendMessage(toProducerMessage(msg))
	if err != nil {
		return "", fmt.Errorf("sending kafka message: %w", err)
	}
	return fmt.Sprintf("%s/%d/%d", msg.Topic, partition, offset), nil
}

// Close flushes and closes the producer.
func (s *Publisher) Close() error {
	if s == nil || s.p == nil {
		return nil
	}
	return s.p.Close()
}

func toProducerMessage(msg queue.Message) *sarama.ProducerMessage {
	m := &sarama.ProducerMessage{
		Topic: msg.Topic,
		Value: sarama.ByteEncoder(msg.Value),
	}
	if len(msg.Key) > 0 {
		m.Key = sarama.ByteEncoder(msg.Key)
	}

	if len(msg.Headers) > 0 {
		m.Headers = make([]sarama.RecordHeader, 0, len(msg.Headers))
		for k, v := range msg.Headers {
			kk := strings.TrimSpace(k)
			if kk == "" {
				continue
			}
			m.Headers = append(m.Headers, sarama.RecordHeader{
				Key:   []byte(kk),
				Value: []byte(v),
			})
		}
	}
	return m
}
