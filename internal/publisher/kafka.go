package publisher

import (
	"context"
	"time"

	"github.com/jmehdipour/orders-outbox/internal/model"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// Kafka writes events to one topic keyed by aggregate sku, so all events of
// an order land on the same partition in outbox order.
type Kafka struct {
	w     messageWriter
	topic string
}

func NewKafka(cfg KafkaConfig) *Kafka {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Kafka{w: w, topic: cfg.Topic}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Publish(ctx context.Context, e model.OutboxEvent) error {
	hs := make([]kafka.Header, 0, 4)
	for key, v := range headers(e) {
		hs = append(hs, kafka.Header{Key: key, Value: []byte(v)})
	}

	return k.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(e.AggregateSku),
		Value:   e.Payload,
		Headers: hs,
		Time:    e.CreatedAt,
	})
}

func (k *Kafka) Close() error { return k.w.Close() }
