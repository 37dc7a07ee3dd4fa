package publisher

import (
	"context"

	"github.com/jmehdipour/orders-outbox/internal/model"
	"github.com/redis/go-redis/v9"
)

// Redis appends events to a stream. The stream is capped at roughly MaxLen
// entries.
type Redis struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewRedis(rdb *redis.Client, stream string, maxLen int64) *Redis {
	if stream == "" {
		stream = "orders.events"
	}
	return &Redis{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Publish(ctx context.Context, e model.OutboxEvent) error {
	values := map[string]any{"payload": string(e.Payload)}
	for k, v := range headers(e) {
		values[k] = v
	}

	args := &redis.XAddArgs{Stream: r.stream, Values: values}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	return r.rdb.XAdd(ctx, args).Err()
}
