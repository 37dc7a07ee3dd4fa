package uow

import (
	"context"
	"fmt"

	"github.com/jmehdipour/orders-outbox/internal/apperr"
	"github.com/jmehdipour/orders-outbox/internal/repository"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Repositories is the bundle handed to a unit of work. Every repository is
// bound to the same transaction.
type Repositories struct {
	Orders repository.OrdersRepository
	Outbox repository.OutboxRepository
}

// Runner executes work atomically.
type Runner interface {
	Do(ctx context.Context, work func(ctx context.Context, repos Repositories) error) error
}

type UnitOfWork struct {
	db     *sqlx.DB
	orders *repository.OrdersRepositoryImpl
	outbox *repository.OutboxRepositoryImpl
	log    *zap.Logger
}

func New(db *sqlx.DB, log *zap.Logger) *UnitOfWork {
	if log == nil {
		log = zap.NewNop()
	}
	outbox := repository.NewOutboxRepository(db)

	return &UnitOfWork{
		db:     db,
		orders: repository.NewOrdersRepository(db, outbox),
		outbox: outbox,
		log:    log,
	}
}

// Do begins a transaction, runs work with tx-bound repositories and commits
// when work returns nil. An error or a panic rolls back. Untyped errors and
// panics come back as apperr infrastructure errors.
func (u *UnitOfWork) Do(ctx context.Context, work func(ctx context.Context, repos Repositories) error) (err error) {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Infra(err, "begin transaction")
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		u.rollback(tx)
		u.log.Error("unit of work panicked", zap.Any("panic", r))
		err = apperr.Infra(fmt.Errorf("panic: %v", r), "unit of work aborted")
	}()

	orders := u.orders.WithTx(tx)
	repos := Repositories{
		Orders: orders,
		Outbox: u.outbox.WithTx(tx),
	}

	if err := work(ctx, repos); err != nil {
		u.rollback(tx)
		return apperr.Wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.Infra(err, "commit transaction")
	}
	orders.Committed()
	return nil
}

func (u *UnitOfWork) rollback(tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil {
		u.log.Warn("rollback failed", zap.Error(err))
	}
}

// Run is Do for work that produces a value.
func Run[T any](ctx context.Context, r Runner, work func(ctx context.Context, repos Repositories) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context, repos Repositories) error {
		v, err := work(ctx, repos)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
