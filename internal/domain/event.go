package domain

import (
	"encoding/json"
	"time"
)

// EventKind is the closed set of order event tags. The tag, not the Go type,
// drives serialization.
type EventKind string

const (
	KindOrderCreated   EventKind = "OrderCreated"
	KindItemAdded      EventKind = "ItemAdded"
	KindOrderCompleted EventKind = "OrderCompleted"
)

func (k EventKind) Valid() bool {
	switch k {
	case KindOrderCreated, KindItemAdded, KindOrderCompleted:
		return true
	default:
		return false
	}
}

// Event is an immutable record of something that happened to an aggregate.
type Event struct {
	ID           string
	Kind         EventKind
	AggregateSku Sku
	OccurredAt   time.Time
	Data         EventData
}

// EventData is implemented by the payload of each event kind.
type EventData interface {
	eventKind() EventKind
}

type OrderCreated struct {
	Sku string `json:"sku"`
}

type ItemAdded struct {
	ProductSku     string `json:"product_sku"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Currency       string `json:"currency"`
	Quantity       int    `json:"quantity"`
	LineQuantity   int    `json:"line_quantity"`
}

type OrderCompleted struct {
	ItemCount int      `json:"item_count"`
	Totals    []Amount `json:"totals"`
}

type Amount struct {
	Currency string `json:"currency"`
	Cents    int64  `json:"cents"`
}

func (OrderCreated) eventKind() EventKind   { return KindOrderCreated }
func (ItemAdded) eventKind() EventKind      { return KindItemAdded }
func (OrderCompleted) eventKind() EventKind { return KindOrderCompleted }

func newEvent(aggregate Sku, id string, at time.Time, data EventData) Event {
	return Event{
		ID:           id,
		Kind:         data.eventKind(),
		AggregateSku: aggregate,
		OccurredAt:   at,
		Data:         data,
	}
}

// Envelope is the serialized form stored in the outbox payload column and
// handed to publishers.
type Envelope struct {
	EventID      string          `json:"event_id"`
	Kind         EventKind       `json:"kind"`
	AggregateSku string          `json:"aggregate_sku"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Data         json.RawMessage `json:"data"`
}

// Payload renders the event as an Envelope JSON document.
func (e Event) Payload() ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}

	return json.Marshal(Envelope{
		EventID:      e.ID,
		Kind:         e.Kind,
		AggregateSku: e.AggregateSku.String(),
		OccurredAt:   e.OccurredAt.UTC(),
		Data:         data,
	})
}

// DecodeEnvelope parses an outbox payload.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(b, &env)

	return env, err
}

// eventBuffer holds events recorded since the last pull, in record order.
type eventBuffer struct {
	pending []Event
}

func (b *eventBuffer) record(e Event) {
	b.pending = append(b.pending, e)
}

// pull hands a copy of the buffered events to the caller and empties the
// buffer.
func (b *eventBuffer) pull() []Event {
	out := make([]Event, len(b.pending))
	copy(out, b.pending)
	b.pending = nil

	return out
}

func (b *eventBuffer) peek() []Event {
	out := make([]Event, len(b.pending))
	copy(out, b.pending)
	return out
}

// drop removes the n oldest events.
func (b *eventBuffer) drop(n int) {
	if n >= len(b.pending) {
		b.pending = nil
		return
	}
	if n > 0 {
		b.pending = append([]Event(nil), b.pending[n:]...)
	}
}

func (b *eventBuffer) len() int { return len(b.pending) }
