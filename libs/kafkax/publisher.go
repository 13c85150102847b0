package kafkax

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"
)

// Publisher is the broker-facing publish half used by the outbox relay and
// by handlers that publish directly under compensation. The hash balancer
// keys partitions by aggregate id, which keeps per-aggregate order as long
// as the topic is drained in append order.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Balancer: &kafka.Hash{},
	})
	return &Publisher{writer: writer}, nil
}

// Publish sends one message to topic. The aggregate id becomes the partition
// key; event metadata and trace context travel as headers.
func (p *Publisher) Publish(ctx context.Context, topic string, aggregateID string, meta EventMeta, payload []byte) error {
	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(aggregateID),
		Value:   payload,
		Headers: MetaHeaders(meta),
	}
	msg.Headers = InjectTraceHeaders(ctx, msg.Headers)
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
