package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmehdipour/orders-outbox/internal/db"
	"github.com/jmehdipour/orders-outbox/internal/domain"
	"github.com/jmehdipour/orders-outbox/internal/model"
	"github.com/jmoiron/sqlx"
)

// ErrNoTx is returned by operations that only make sense inside a transaction.
var ErrNoTx = errors.New("outbox: operation requires a transaction")

// OutboxRepository defines persistence methods for the outbox table.
type OutboxRepository interface {
	// Insert writes one row per event, in slice order.
	Insert(ctx context.Context, events ...domain.Event) error
	// ClaimPending locks up to limit pending rows, oldest first, skipping
	// rows locked by other transactions. Requires a bound transaction.
	ClaimPending(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	// MarkPublished stamps published_at on still-pending rows among ids.
	MarkPublished(ctx context.Context, ids []int64) (int64, error)
	ListByAggregate(ctx context.Context, sku string) ([]model.OutboxEvent, error)
	CountPending(ctx context.Context) (int, error)
}

// OutboxRepositoryImpl is a sqlx-backed implementation. A zero tx means every
// call runs in its own transaction.
type OutboxRepositoryImpl struct {
	db      *sqlx.DB
	tx      *sqlx.Tx
	dialect db.Dialect
}

// NewOutboxRepository constructs an OutboxRepositoryImpl.
func NewOutboxRepository(dbx *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: dbx, dialect: db.DialectOf(dbx.DriverName())}
}

// WithTx returns a copy bound to tx.
func (r *OutboxRepositoryImpl) WithTx(tx *sqlx.Tx) *OutboxRepositoryImpl {
	cp := *r
	cp.tx = tx
	return &cp
}

// withTx runs fn in the bound tx, or starts a new transaction when unbound.
func (r *OutboxRepositoryImpl) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return runInTx(ctx, r.db, r.tx, fn)
}

func (r *OutboxRepositoryImpl) Insert(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	q := r.db.Rebind(`
		INSERT INTO outbox (event_id, aggregate_sku, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ` + r.dialect.Now() + `)
	`)

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, e := range events {
			if !e.Kind.Valid() {
				return fmt.Errorf("outbox insert: unknown event kind %q", e.Kind)
			}
			payload, err := e.Payload()
			if err != nil {
				return fmt.Errorf("outbox insert: encode %s: %w", e.Kind, err)
			}
			if _, err := tx.ExecContext(ctx, q, e.ID, e.AggregateSku.String(), string(e.Kind), string(payload)); err != nil {
				return fmt.Errorf("outbox insert %s: %w", e.Kind, err)
			}
		}
		return nil
	})
}

const outboxColumns = `id, event_id, aggregate_sku, event_type, payload, created_at, published_at`

func (r *OutboxRepositoryImpl) ClaimPending(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	if r.tx == nil {
		return nil, ErrNoTx
	}
	if limit <= 0 {
		return nil, fmt.Errorf("outbox claim: limit must be positive, got %d", limit)
	}

	q := r.tx.Rebind(`
		SELECT ` + outboxColumns + `
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT ?
		FOR UPDATE SKIP LOCKED
	`)

	var rows []model.OutboxEvent
	if err := r.tx.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, fmt.Errorf("outbox claim: %w", err)
	}
	return rows, nil
}

func (r *OutboxRepositoryImpl) MarkPublished(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	base := `UPDATE outbox SET published_at = ` + r.dialect.Now() + ` WHERE id IN (?) AND published_at IS NULL`
	query, args, err := sqlx.In(base, ids)
	if err != nil {
		return 0, err
	}
	query = r.db.Rebind(query)

	var n int64
	err = r.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("outbox mark published: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (r *OutboxRepositoryImpl) ListByAggregate(ctx context.Context, sku string) ([]model.OutboxEvent, error) {
	q := r.db.Rebind(`
		SELECT ` + outboxColumns + `
		FROM outbox
		WHERE aggregate_sku = ?
		ORDER BY created_at ASC, id ASC
	`)

	var rows []model.OutboxEvent
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &rows, q, sku)
	})
	if err != nil {
		return nil, fmt.Errorf("outbox list %s: %w", sku, err)
	}
	return rows, nil
}

func (r *OutboxRepositoryImpl) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`)
	})
	return n, err
}
