package model

import "time"

// OutboxEvent is a row of the outbox table. PublishedAt is nil while pending.
type OutboxEvent struct {
	ID           int64      `db:"id"`
	EventID      string     `db:"event_id"`
	AggregateSku string     `db:"aggregate_sku"`
	EventType    string     `db:"event_type"`
	Payload      []byte     `db:"payload"`
	CreatedAt    time.Time  `db:"created_at"`
	PublishedAt  *time.Time `db:"published_at"`
}

func (e OutboxEvent) Pending() bool { return e.PublishedAt == nil }
