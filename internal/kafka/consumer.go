package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Config struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int           // default 1KB
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // 0 = commit synchronously on every Commit call
	MaxWait        time.Duration // default 250ms
	Logger         *zap.Logger
}

// Consumer is a thin wrapper around segmentio/kafka-go Reader. New groups
// start from the earliest offset so no outbox event is skipped.
type Consumer struct {
	r *kafka.Reader
}

func NewConsumerFromConfig(c Config) *Consumer {
	min := c.MinBytes
	if min <= 0 {
		min = 1 << 10 // 1KB
	}
	max := c.MaxBytes
	if max <= 0 {
		max = 10 << 20 // 10MB
	}
	mw := c.MaxWait
	if mw <= 0 {
		mw = 250 * time.Millisecond
	}

	rc := kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       min,
		MaxBytes:       max,
		CommitInterval: c.CommitInterval,
		MaxWait:        mw,
		StartOffset:    kafka.FirstOffset,
	}
	if c.Logger != nil {
		sugar := c.Logger.Sugar()
		rc.ErrorLogger = kafka.LoggerFunc(func(msg string, args ...any) {
			sugar.Warn(fmt.Sprintf(msg, args...))
		})
	}

	return &Consumer{r: kafka.NewReader(rc)}
}

type Message = kafka.Message

// HeaderValue returns the value of header key, or "".
func HeaderValue(m Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

func (c *Consumer) Close() error { return c.r.Close() }
