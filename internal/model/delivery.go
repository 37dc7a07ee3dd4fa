package model

import "time"

// Delivery is one successful hand-off of an outbox event to a publisher,
// appended to the ClickHouse delivery log.
type Delivery struct {
	EventID      string    `db:"event_id"       json:"event_id"`
	OutboxID     int64     `db:"outbox_id"      json:"outbox_id"`
	AggregateSku string    `db:"aggregate_sku"  json:"aggregate_sku"`
	EventType    string    `db:"event_type"     json:"event_type"`
	Publisher    string    `db:"publisher"      json:"publisher"`
	DeliveredAt  time.Time `db:"delivered_at"   json:"delivered_at"`
}
