package publisher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmehdipour/orders-outbox/internal/model"
	"github.com/jmehdipour/orders-outbox/internal/outbox"
	"go.uber.org/zap"
)

// Header names attached to every published message.
const (
	HeaderEventID      = "event_id"
	HeaderEventType    = "event_type"
	HeaderAggregateSku = "aggregate_sku"
	HeaderOutboxID     = "outbox_id"
)

// Publisher hands one outbox event to a downstream system. Implementations
// must tolerate the same event being published more than once.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, e model.OutboxEvent) error
}

// Journal records successful deliveries.
type Journal interface {
	Record(ctx context.Context, deliveries []model.Delivery) error
}

// Handler adapts p to the dispatcher's delivery callback.
func Handler(p Publisher) outbox.Handler {
	return p.Publish
}

func headers(e model.OutboxEvent) map[string]string {
	return map[string]string{
		HeaderEventID:      e.EventID,
		HeaderEventType:    e.EventType,
		HeaderAggregateSku: e.AggregateSku,
		HeaderOutboxID:     strconv.FormatInt(e.ID, 10),
	}
}

// Fanout publishes to every publisher in order. The event counts as
// delivered only when all of them succeed; on partial failure the ones that
// succeeded will see the event again on retry.
type Fanout struct {
	pubs    []Publisher
	journal Journal
	log     *zap.Logger
}

func NewFanout(log *zap.Logger, journal Journal, pubs ...Publisher) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{pubs: pubs, journal: journal, log: log}
}

func (f *Fanout) Name() string { return "fanout" }

func (f *Fanout) Publish(ctx context.Context, e model.OutboxEvent) error {
	if len(f.pubs) == 0 {
		return errors.New("fanout: no publishers configured")
	}

	var errs []error
	for _, p := range f.pubs {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if f.journal != nil {
		now := time.Now().UTC()
		rows := make([]model.Delivery, 0, len(f.pubs))
		for _, p := range f.pubs {
			rows = append(rows, model.Delivery{
				EventID:      e.EventID,
				OutboxID:     e.ID,
				AggregateSku: e.AggregateSku,
				EventType:    e.EventType,
				Publisher:    p.Name(),
				DeliveredAt:  now,
			})
		}
		// the event is already out; a journal failure must not cause a redelivery
		if err := f.journal.Record(ctx, rows); err != nil {
			f.log.Warn("delivery journal write failed", zap.String("event_id", e.EventID), zap.Error(err))
		}
	}
	return nil
}

// Log writes the event to the logger. Used when no broker is configured.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Publish(_ context.Context, e model.OutboxEvent) error {
	l.log.Info("outbox event",
		zap.Int64("outbox_id", e.ID),
		zap.String("event_id", e.EventID),
		zap.String("event_type", e.EventType),
		zap.String("aggregate_sku", e.AggregateSku),
		zap.ByteString("payload", e.Payload))
	return nil
}
