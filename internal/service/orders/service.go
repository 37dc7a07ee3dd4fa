package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmehdipour/orders-outbox/internal/apperr"
	"github.com/jmehdipour/orders-outbox/internal/domain"
	"github.com/jmehdipour/orders-outbox/internal/metrics"
	"github.com/jmehdipour/orders-outbox/internal/model"
	"github.com/jmehdipour/orders-outbox/internal/uow"
	"go.uber.org/zap"
)

// Pricer looks up the current list price of a product.
type Pricer interface {
	PriceOf(product domain.Sku) (domain.Money, error)
}

// Service runs the order use-cases. Each call is one unit of work: order
// state and the events it produced are committed together or not at all.
type Service struct {
	uow    uow.Runner
	prices Pricer
	log    *zap.Logger
}

func New(runner uow.Runner, prices Pricer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{uow: runner, prices: prices, log: log}
}

// CreateOrder opens a new order. It fails with a conflict when the sku is taken.
func (s *Service) CreateOrder(ctx context.Context, rawSku string) (Order, error) {
	sku, err := domain.ParseSku(rawSku)
	if err != nil {
		return Order{}, err
	}

	return s.mutate(ctx, func(ctx context.Context, repos uow.Repositories) (*domain.Order, error) {
		exists, err := repos.Orders.Exists(ctx, sku)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, apperr.Conflict("order %s already exists", sku)
		}
		return domain.NewOrder(sku)
	})
}

// AddItem prices product from the catalog and adds qty of it to the order.
func (s *Service) AddItem(ctx context.Context, rawSku, rawProduct string, qty int) (Order, error) {
	sku, err := domain.ParseSku(rawSku)
	if err != nil {
		return Order{}, err
	}
	product, err := domain.ParseSku(rawProduct)
	if err != nil {
		return Order{}, err
	}
	quantity, err := domain.NewQuantity(qty)
	if err != nil {
		return Order{}, err
	}
	price, err := s.prices.PriceOf(product)
	if err != nil {
		return Order{}, err
	}

	return s.mutate(ctx, func(ctx context.Context, repos uow.Repositories) (*domain.Order, error) {
		o, err := repos.Orders.FindBySku(ctx, sku)
		if err != nil {
			return nil, err
		}
		if err := o.AddItem(product, price, quantity); err != nil {
			return nil, err
		}
		return o, nil
	})
}

// CompleteOrder closes the order; no items can be added afterwards.
func (s *Service) CompleteOrder(ctx context.Context, rawSku string) (Order, error) {
	sku, err := domain.ParseSku(rawSku)
	if err != nil {
		return Order{}, err
	}

	return s.mutate(ctx, func(ctx context.Context, repos uow.Repositories) (*domain.Order, error) {
		o, err := repos.Orders.FindBySku(ctx, sku)
		if err != nil {
			return nil, err
		}
		if err := o.Complete(); err != nil {
			return nil, err
		}
		return o, nil
	})
}

func (s *Service) GetOrder(ctx context.Context, rawSku string) (Order, error) {
	sku, err := domain.ParseSku(rawSku)
	if err != nil {
		return Order{}, err
	}

	return uow.Run(ctx, s.uow, func(ctx context.Context, repos uow.Repositories) (Order, error) {
		o, err := repos.Orders.FindBySku(ctx, sku)
		if err != nil {
			return Order{}, err
		}
		return toView(o), nil
	})
}

// ListEvents returns the outbox rows of an order in creation order.
func (s *Service) ListEvents(ctx context.Context, rawSku string) ([]Event, error) {
	sku, err := domain.ParseSku(rawSku)
	if err != nil {
		return nil, err
	}

	return uow.Run(ctx, s.uow, func(ctx context.Context, repos uow.Repositories) ([]Event, error) {
		exists, err := repos.Orders.Exists(ctx, sku)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, apperr.NotFound("order %s not found", sku)
		}

		rows, err := repos.Outbox.ListByAggregate(ctx, sku.String())
		if err != nil {
			return nil, err
		}

		out := make([]Event, 0, len(rows))
		for _, r := range rows {
			out = append(out, toEvent(r))
		}
		return out, nil
	})
}

// mutate loads or builds an order with fn, then saves it in the same unit of
// work.
func (s *Service) mutate(ctx context.Context, fn func(ctx context.Context, repos uow.Repositories) (*domain.Order, error)) (Order, error) {
	var stored int

	view, err := uow.Run(ctx, s.uow, func(ctx context.Context, repos uow.Repositories) (Order, error) {
		o, err := fn(ctx, repos)
		if err != nil {
			return Order{}, err
		}
		stored = o.PendingEvents()
		if err := repos.Orders.Save(ctx, o); err != nil {
			return Order{}, err
		}
		return toView(o), nil
	})
	if err != nil {
		s.log.Debug("order use-case failed", zap.String("kind", string(apperr.KindOf(err))), zap.Error(err))
		return Order{}, err
	}

	metrics.OutboxEventsTotal.WithLabelValues("stored").Add(float64(stored))
	return view, nil
}

// Order is the read model returned by the use-cases.
type Order struct {
	Sku       string    `json:"sku"`
	Status    string    `json:"status"`
	Items     []Item    `json:"items"`
	Totals    []Amount  `json:"totals"`
	CreatedAt time.Time `json:"created_at"`
}

type Item struct {
	ProductSku     string `json:"product_sku"`
	UnitPrice      string `json:"unit_price"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Currency       string `json:"currency"`
	Quantity       int    `json:"quantity"`
	TotalCents     int64  `json:"total_cents"`
}

type Amount struct {
	Amount   string `json:"amount"`
	Cents    int64  `json:"cents"`
	Currency string `json:"currency"`
}

type Event struct {
	ID          int64           `json:"id"`
	EventID     string          `json:"event_id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
	PublishedAt *time.Time      `json:"published_at"`
}

func toView(o *domain.Order) Order {
	items := o.Items()
	v := Order{
		Sku:       o.Sku().String(),
		Status:    string(o.Status()),
		Items:     make([]Item, 0, len(items)),
		Totals:    []Amount{},
		CreatedAt: o.CreatedAt(),
	}
	for _, it := range items {
		v.Items = append(v.Items, Item{
			ProductSku:     it.ProductSku.String(),
			UnitPrice:      it.UnitPrice.Decimal().StringFixed(2),
			UnitPriceCents: it.UnitPrice.Cents,
			Currency:       string(it.UnitPrice.Currency),
			Quantity:       int(it.Quantity),
			TotalCents:     it.Total().Cents,
		})
	}
	for _, m := range o.TotalsByCurrency() {
		v.Totals = append(v.Totals, Amount{
			Amount:   m.Decimal().StringFixed(2),
			Cents:    m.Cents,
			Currency: string(m.Currency),
		})
	}
	return v
}

func toEvent(r model.OutboxEvent) Event {
	return Event{
		ID:          r.ID,
		EventID:     r.EventID,
		Type:        r.EventType,
		Payload:     r.Payload,
		CreatedAt:   r.CreatedAt,
		PublishedAt: r.PublishedAt,
	}
}
