package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/orders-outbox/internal/domain"
	"github.com/jmehdipour/orders-outbox/internal/kafka"
	"github.com/jmehdipour/orders-outbox/internal/metrics"
	"github.com/jmehdipour/orders-outbox/internal/util"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Source is the subset of kafka.Consumer used here.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// HandleFunc processes one decoded event.
type HandleFunc func(ctx context.Context, env domain.Envelope) error

// Idempotent consumes outbox events and runs handle at most once per
// event_id while the dedupe key lives in Redis.
type Idempotent struct {
	src       Source
	rdb       *redis.Client
	handle    HandleFunc
	keyPrefix string
	ttl       time.Duration
	log       *zap.Logger
}

type Options struct {
	KeyPrefix string        // default "orders:seen:"
	TTL       time.Duration // default 24h
}

func NewIdempotent(src Source, rdb *redis.Client, handle HandleFunc, opts Options, log *zap.Logger) *Idempotent {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "orders:seen:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Idempotent{src: src, rdb: rdb, handle: handle, keyPrefix: opts.KeyPrefix, ttl: opts.TTL, log: log}
}

// Run blocks until ctx is cancelled.
func (c *Idempotent) Run(ctx context.Context) error {
	for {
		m, err := c.src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		// the reader does not rewind, so a failed message is retried here
		backoff := 200 * time.Millisecond
		for {
			err := c.Process(ctx, m)
			if err == nil {
				break
			}
			c.log.Error("event processing failed, retrying",
				zap.Int64("offset", m.Offset), zap.Duration("backoff", backoff), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
		}
	}
}

// Process handles one message and commits its offset unless processing
// failed in a retryable way.
func (c *Idempotent) Process(ctx context.Context, m kafka.Message) error {
	env, err := domain.DecodeEnvelope(m.Value)
	if err == nil && !util.ValidID(env.EventID) {
		err = fmt.Errorf("bad event_id %q", env.EventID)
	}
	if err != nil {
		// poison: commit and skip
		metrics.ConsumerMessagesTotal.WithLabelValues("invalid").Inc()
		c.log.Warn("invalid event envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		return c.src.Commit(ctx, m)
	}

	key := c.keyPrefix + env.EventID
	fresh, err := c.rdb.SetNX(ctx, key, kafka.HeaderValue(m, "outbox_id"), c.ttl).Result()
	if err != nil {
		metrics.ConsumerMessagesTotal.WithLabelValues("error").Inc()
		return err
	}
	if !fresh {
		metrics.ConsumerMessagesTotal.WithLabelValues("duplicate").Inc()
		c.log.Debug("duplicate event skipped", zap.String("event_id", env.EventID))
		return c.src.Commit(ctx, m)
	}

	if err := c.handle(ctx, env); err != nil {
		metrics.ConsumerMessagesTotal.WithLabelValues("error").Inc()
		if delErr := c.rdb.Del(context.WithoutCancel(ctx), key).Err(); delErr != nil {
			err = errors.Join(err, delErr)
		}
		return err
	}

	metrics.ConsumerMessagesTotal.WithLabelValues("handled").Inc()
	return c.src.Commit(ctx, m)
}

// LogHandler logs every event it sees.
func LogHandler(log *zap.Logger) HandleFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(_ context.Context, env domain.Envelope) error {
		log.Info("order event",
			zap.String("event_id", env.EventID),
			zap.String("kind", string(env.Kind)),
			zap.String("aggregate_sku", env.AggregateSku),
			zap.Time("occurred_at", env.OccurredAt),
			zap.ByteString("data", env.Data))
		return nil
	}
}
