package repository

import (
	"context"
	"fmt"

	"github.com/jmehdipour/orders-outbox/internal/model"
	"github.com/jmoiron/sqlx"
)

// DeliveriesRepository is the append-only delivery log kept in ClickHouse.
type DeliveriesRepository interface {
	Record(ctx context.Context, deliveries []model.Delivery) error
	ListByAggregate(ctx context.Context, sku string, limit, offset int) ([]model.Delivery, error)
}

type chDeliveriesRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHDeliveriesRepository(ch *sqlx.DB) DeliveriesRepository {
	return &chDeliveriesRepository{ch: ch}
}

// Record inserts rows as one ClickHouse batch.
func (r *chDeliveriesRepository) Record(ctx context.Context, deliveries []model.Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO outbox_deliveries (event_id, outbox_id, aggregate_sku, event_type, publisher, delivered_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare delivery batch: %w", err)
	}
	defer stmt.Close()

	for _, d := range deliveries {
		if _, err := stmt.ExecContext(ctx, d.EventID, d.OutboxID, d.AggregateSku, d.EventType, d.Publisher, d.DeliveredAt); err != nil {
			return fmt.Errorf("append delivery %s: %w", d.EventID, err)
		}
	}

	return tx.Commit()
}

func (r *chDeliveriesRepository) ListByAggregate(ctx context.Context, sku string, limit, offset int) ([]model.Delivery, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	const q = `
		SELECT event_id, outbox_id, aggregate_sku, event_type, publisher, delivered_at
		FROM outbox_deliveries
		WHERE aggregate_sku = ?
		ORDER BY delivered_at ASC, event_id ASC
		LIMIT ? OFFSET ?
	`

	var rows []model.Delivery
	if err := r.ch.SelectContext(ctx, &rows, q, sku, limit, offset); err != nil {
		return nil, err
	}
	return rows, nil
}
