package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaProducer publishes order events to a single Kafka topic, keyed by
// order id so per-order ordering is preserved.
type KafkaProducer struct {
	writer *kafka.Writer
	lg     *zap.Logger
}

// NewKafkaProducer creates a producer for the given brokers and topic.
func NewKafkaProducer(brokers []string, topic string, lg *zap.Logger) *KafkaProducer {
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
		},
		lg: lg,
	}
}

// Publish writes one event. Callers treat failures as non-fatal; the error
// is returned for logging only.
func (p *KafkaProducer) Publish(ctx context.Context, evt OrderEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.OrderID),
		Value: payload,
	})
	if err != nil {
		return errors.Wrapf(err, "publish %s", evt.Type)
	}

	p.lg.Debug("event published",
		zap.String("type", evt.Type),
		zap.String("order_no", evt.OrderNo),
	)
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
