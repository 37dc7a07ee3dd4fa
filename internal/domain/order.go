package domain

import (
	"sort"
	"time"

	"github.com/jmehdipour/orders-outbox/internal/apperr"
	"github.com/jmehdipour/orders-outbox/internal/util"
)

type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusCompleted OrderStatus = "completed"
)

func (s OrderStatus) Valid() bool { return s == StatusOpen || s == StatusCompleted }

type OrderItem struct {
	ProductSku Sku
	UnitPrice  Money
	Quantity   Quantity
}

func (i OrderItem) Total() Money { return i.UnitPrice.Multiply(i.Quantity) }

// Order is the aggregate root. Every mutating method records an Event that
// stays buffered until the repository acknowledges it after a committed save.
type Order struct {
	sku       Sku
	status    OrderStatus
	items     []OrderItem
	createdAt time.Time
	persisted bool

	events eventBuffer
	now    func() time.Time
}

// NewOrder creates an open order and records OrderCreated.
func NewOrder(sku Sku) (*Order, error) {
	if _, err := ParseSku(string(sku)); err != nil {
		return nil, err
	}

	o := &Order{sku: sku, status: StatusOpen, now: utcNow}
	o.createdAt = o.now()
	o.record(OrderCreated{Sku: sku.String()})

	return o, nil
}

// RehydrateOrder rebuilds an order from storage. No events are recorded.
func RehydrateOrder(sku Sku, status OrderStatus, items []OrderItem, createdAt time.Time) *Order {
	cp := make([]OrderItem, len(items))
	copy(cp, items)

	return &Order{sku: sku, status: status, items: cp, createdAt: createdAt, persisted: true, now: utcNow}
}

func utcNow() time.Time { return time.Now().UTC() }

func (o *Order) Sku() Sku             { return o.sku }
func (o *Order) Status() OrderStatus  { return o.status }
func (o *Order) CreatedAt() time.Time { return o.createdAt }

// Persisted reports whether the order row already exists in storage.
func (o *Order) Persisted() bool { return o.persisted }

// MarkPersisted is called by the repository once the order row is committed.
func (o *Order) MarkPersisted() { o.persisted = true }

func (o *Order) Items() []OrderItem {
	cp := make([]OrderItem, len(o.items))
	copy(cp, o.items)

	return cp
}

// AddItem adds quantity of product at unitPrice. A product already on the
// order is merged into its existing line when the price matches.
func (o *Order) AddItem(product Sku, unitPrice Money, qty Quantity) error {
	if o.status == StatusCompleted {
		return apperr.Conflict("order %s is completed", o.sku)
	}
	if qty <= 0 {
		return apperr.Validation("quantity must be positive, got %d", qty)
	}
	if !unitPrice.Currency.Valid() || unitPrice.Cents < 0 {
		return apperr.Validation("invalid unit price %s", unitPrice)
	}

	line := -1
	for i, it := range o.items {
		if it.ProductSku == product {
			line = i
			break
		}
	}

	if line >= 0 {
		if o.items[line].UnitPrice != unitPrice {
			return apperr.Conflict("product %s already on order %s at %s", product, o.sku, o.items[line].UnitPrice)
		}
		o.items[line].Quantity += qty
	} else {
		o.items = append(o.items, OrderItem{ProductSku: product, UnitPrice: unitPrice, Quantity: qty})
		line = len(o.items) - 1
	}

	o.record(ItemAdded{
		ProductSku:     product.String(),
		UnitPriceCents: unitPrice.Cents,
		Currency:       string(unitPrice.Currency),
		Quantity:       int(qty),
		LineQuantity:   int(o.items[line].Quantity),
	})

	return nil
}

// Complete closes the order and records OrderCompleted with per-currency totals.
func (o *Order) Complete() error {
	if o.status == StatusCompleted {
		return apperr.Conflict("order %s is already completed", o.sku)
	}
	if len(o.items) == 0 {
		return apperr.Validation("order %s has no items", o.sku)
	}

	o.status = StatusCompleted

	totals := o.TotalsByCurrency()
	amounts := make([]Amount, 0, len(totals))
	for _, m := range totals {
		amounts = append(amounts, Amount{Currency: string(m.Currency), Cents: m.Cents})
	}
	o.record(OrderCompleted{ItemCount: len(o.items), Totals: amounts})

	return nil
}

// TotalsByCurrency sums line totals per currency, sorted by currency code.
func (o *Order) TotalsByCurrency() []Money {
	sums := make(map[Currency]int64)
	for _, it := range o.items {
		sums[it.UnitPrice.Currency] += it.Total().Cents
	}

	out := make([]Money, 0, len(sums))
	for c, cents := range sums {
		out = append(out, Money{Cents: cents, Currency: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })

	return out
}

// PullEvents returns the events recorded since the last pull, in order, and
// clears the buffer.
func (o *Order) PullEvents() []Event { return o.events.pull() }

// Events returns a copy of the buffered events without clearing them.
func (o *Order) Events() []Event { return o.events.peek() }

// AckEvents drops the n oldest buffered events once they are durably stored.
func (o *Order) AckEvents(n int) { o.events.drop(n) }

// PendingEvents reports how many events are waiting to be pulled.
func (o *Order) PendingEvents() int { return o.events.len() }

func (o *Order) record(data EventData) {
	o.events.record(newEvent(o.sku, util.NewID(), o.now(), data))
}
