package export

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher delivers the messages of one batch.
type Publisher interface {
	Publish(ctx context.Context, msgs []kafka.Message) error
	Close() error
}

// KafkaPublisher writes to one topic with acks from all in-sync replicas.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish sends msgs in a single WriteMessages call.
func (p *KafkaPublisher) Publish(ctx context.Context, msgs []kafka.Message) error {
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
