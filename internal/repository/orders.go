package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmehdipour/orders-outbox/internal/apperr"
	"github.com/jmehdipour/orders-outbox/internal/db"
	"github.com/jmehdipour/orders-outbox/internal/domain"
	"github.com/jmehdipour/orders-outbox/internal/model"
	"github.com/jmoiron/sqlx"
)

// OrdersRepository persists the Order aggregate together with its pending
// events.
type OrdersRepository interface {
	// Save writes the order state and one outbox row per pending event in a
	// single transaction.
	Save(ctx context.Context, o *domain.Order) error
	// FindBySku loads an order. Inside a transaction the row is locked until
	// commit. Returns an apperr not_found error when missing.
	FindBySku(ctx context.Context, sku domain.Sku) (*domain.Order, error)
	Exists(ctx context.Context, sku domain.Sku) (bool, error)
}

type OrdersRepositoryImpl struct {
	db      *sqlx.DB
	tx      *sqlx.Tx
	dialect db.Dialect
	outbox  *OutboxRepositoryImpl
	saves   *pendingSaves // set when bound to tx
}

// pendingSaves tracks aggregates written in an open transaction. The
// aggregates themselves are updated only after that transaction commits.
type pendingSaves struct {
	written map[*domain.Order]int // events already inserted per aggregate
}

func newPendingSaves() *pendingSaves {
	return &pendingSaves{written: map[*domain.Order]int{}}
}

func (p *pendingSaves) commit() {
	for o, n := range p.written {
		o.AckEvents(n)
		o.MarkPersisted()
	}
	p.written = map[*domain.Order]int{}
}

func NewOrdersRepository(dbx *sqlx.DB, outbox *OutboxRepositoryImpl) *OrdersRepositoryImpl {
	return &OrdersRepositoryImpl{db: dbx, dialect: db.DialectOf(dbx.DriverName()), outbox: outbox}
}

// WithTx returns a copy bound to tx. The outbox repository is bound to the
// same tx.
func (r *OrdersRepositoryImpl) WithTx(tx *sqlx.Tx) *OrdersRepositoryImpl {
	cp := *r
	cp.tx = tx
	cp.outbox = r.outbox.WithTx(tx)
	cp.saves = newPendingSaves()
	return &cp
}

// Save leaves o untouched until the write is committed. When bound to a
// caller's tx, Committed must be called after that tx commits.
func (r *OrdersRepositoryImpl) Save(ctx context.Context, o *domain.Order) error {
	saves := r.saves
	if r.tx == nil || saves == nil {
		saves = newPendingSaves()
	}

	err := runInTx(ctx, r.db, r.tx, func(tx *sqlx.Tx) error {
		written, seen := saves.written[o]
		if err := r.writeOrder(ctx, tx, o, o.Persisted() || seen); err != nil {
			return err
		}
		if err := r.writeItems(ctx, tx, o); err != nil {
			return err
		}

		events := o.Events()[written:]
		if err := r.outbox.WithTx(tx).Insert(ctx, events...); err != nil {
			return err
		}
		saves.written[o] = written + len(events)
		return nil
	})
	if err != nil {
		return err
	}

	if r.tx == nil {
		saves.commit()
	}
	return nil
}

// Committed acknowledges the events and rows written by Save through this
// tx-bound repository.
func (r *OrdersRepositoryImpl) Committed() {
	if r.saves != nil {
		r.saves.commit()
	}
}

func (r *OrdersRepositoryImpl) writeOrder(ctx context.Context, tx *sqlx.Tx, o *domain.Order, exists bool) error {
	now := r.dialect.Now()

	if !exists {
		q := tx.Rebind(`INSERT INTO orders (sku, status, created_at, updated_at) VALUES (?, ?, ?, ` + now + `)`)
		if _, err := tx.ExecContext(ctx, q, o.Sku().String(), string(o.Status()), o.CreatedAt()); err != nil {
			if db.IsUniqueViolation(err) {
				return apperr.Conflict("order %s already exists", o.Sku())
			}
			return fmt.Errorf("insert order %s: %w", o.Sku(), err)
		}
		return nil
	}

	var q string
	if r.dialect == db.MySQL {
		q = `
			INSERT INTO orders (sku, status, created_at, updated_at) VALUES (?, ?, ?, NOW(6))
			ON DUPLICATE KEY UPDATE status = VALUES(status), updated_at = VALUES(updated_at)`
	} else {
		q = `
			INSERT INTO orders (sku, status, created_at, updated_at) VALUES (?, ?, ?, NOW())
			ON CONFLICT (sku) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(q), o.Sku().String(), string(o.Status()), o.CreatedAt()); err != nil {
		return fmt.Errorf("upsert order %s: %w", o.Sku(), err)
	}
	return nil
}

// writeItems upserts every line. Lines are never removed from an order.
func (r *OrdersRepositoryImpl) writeItems(ctx context.Context, tx *sqlx.Tx, o *domain.Order) error {
	var q string
	if r.dialect == db.MySQL {
		q = `
			INSERT INTO order_items (order_sku, product_sku, unit_price_cents, unit_price_currency, quantity, created_at)
			VALUES (?, ?, ?, ?, ?, NOW(6))
			ON DUPLICATE KEY UPDATE
			    unit_price_cents    = VALUES(unit_price_cents),
			    unit_price_currency = VALUES(unit_price_currency),
			    quantity            = VALUES(quantity)`
	} else {
		q = `
			INSERT INTO order_items (order_sku, product_sku, unit_price_cents, unit_price_currency, quantity, created_at)
			VALUES (?, ?, ?, ?, ?, NOW())
			ON CONFLICT (order_sku, product_sku) DO UPDATE SET
			    unit_price_cents    = EXCLUDED.unit_price_cents,
			    unit_price_currency = EXCLUDED.unit_price_currency,
			    quantity            = EXCLUDED.quantity`
	}
	q = tx.Rebind(q)

	for _, it := range o.Items() {
		if _, err := tx.ExecContext(ctx, q,
			o.Sku().String(), it.ProductSku.String(), it.UnitPrice.Cents, string(it.UnitPrice.Currency), int(it.Quantity),
		); err != nil {
			return fmt.Errorf("upsert item %s/%s: %w", o.Sku(), it.ProductSku, err)
		}
	}
	return nil
}

func (r *OrdersRepositoryImpl) FindBySku(ctx context.Context, sku domain.Sku) (*domain.Order, error) {
	orderQ := `SELECT sku, status, created_at, updated_at FROM orders WHERE sku = ?`
	if r.tx != nil {
		orderQ += ` FOR UPDATE`
	}
	const itemsQ = `
		SELECT id, order_sku, product_sku, unit_price_cents, unit_price_currency, quantity, created_at
		FROM order_items
		WHERE order_sku = ?
		ORDER BY id ASC`

	var (
		row   model.Order
		items []model.OrderItem
	)
	err := runInTx(ctx, r.db, r.tx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &row, tx.Rebind(orderQ), sku.String()); err != nil {
			return err
		}
		return tx.SelectContext(ctx, &items, tx.Rebind(itemsQ), sku.String())
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("order %s not found", sku)
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", sku, err)
	}

	return toDomainOrder(row, items)
}

func (r *OrdersRepositoryImpl) Exists(ctx context.Context, sku domain.Sku) (bool, error) {
	var n int
	err := runInTx(ctx, r.db, r.tx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM orders WHERE sku = ?`), sku.String())
	})
	if err != nil {
		return false, fmt.Errorf("order exists %s: %w", sku, err)
	}
	return n > 0, nil
}

func toDomainOrder(row model.Order, rows []model.OrderItem) (*domain.Order, error) {
	status := domain.OrderStatus(row.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("order %s: unknown status %q", row.Sku, row.Status)
	}

	items := make([]domain.OrderItem, 0, len(rows))
	for _, it := range rows {
		price, err := domain.NewMoney(it.UnitPriceCents, domain.Currency(it.Currency))
		if err != nil {
			return nil, fmt.Errorf("order %s item %s: %w", row.Sku, it.ProductSku, err)
		}
		items = append(items, domain.OrderItem{
			ProductSku: domain.Sku(it.ProductSku),
			UnitPrice:  price,
			Quantity:   domain.Quantity(it.Quantity),
		})
	}

	return domain.RehydrateOrder(domain.Sku(row.Sku), status, items, row.CreatedAt), nil
}
