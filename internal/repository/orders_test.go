package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmehdipour/orders-outbox/internal/apperr"
	"github.com/jmehdipour/orders-outbox/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

func newOrderWithItem(t *testing.T) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder("order-1")
	require.NoError(t, err)
	require.NoError(t, o.AddItem("prod-1", domain.Money{Cents: 999, Currency: domain.EUR}, 2))
	return o
}

func TestSaveWritesStateAndOutboxInOneTx(t *testing.T) {
	dbx, mock := newMockDB(t)
	repo := NewOrdersRepository(dbx, NewOutboxRepository(dbx))
	o := newOrderWithItem(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders (sku, status, created_at, updated_at) VALUES")).
		WithArgs("order-1", "open", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).
		WithArgs("order-1", "prod-1", int64(999), "EUR", int64(2)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).
		WithArgs(sqlmock.AnyArg(), "order-1", "OrderCreated", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).
		WithArgs(sqlmock.AnyArg(), "order-1", "ItemAdded", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), o))
	assert.True(t, o.Persisted())
	assert.Zero(t, o.PendingEvents())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRollsBackStateWhenOutboxInsertFails(t *testing.T) {
	dbx, mock := newMockDB(t)
	repo := NewOrdersRepository(dbx, NewOutboxRepository(dbx))
	o := newOrderWithItem(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), o)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, o.Persisted())
	assert.Equal(t, 2, o.PendingEvents())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRetryAfterFailedOutboxInsertWritesEveryEvent(t *testing.T) {
	dbx, mock := newMockDB(t)
	repo := NewOrdersRepository(dbx, NewOutboxRepository(dbx))
	o := newOrderWithItem(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders (sku, status, created_at, updated_at) VALUES")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).
		WithArgs(sqlmock.AnyArg(), "order-1", "OrderCreated", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).
		WithArgs(sqlmock.AnyArg(), "order-1", "ItemAdded", sqlmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	require.Error(t, repo.Save(context.Background(), o))

	// the first attempt rolled back, so the retry inserts the order again
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders (sku, status, created_at, updated_at) VALUES")).
		WithArgs("order-1", "open", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).
		WithArgs(sqlmock.AnyArg(), "order-1", "OrderCreated", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).
		WithArgs(sqlmock.AnyArg(), "order-1", "ItemAdded", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), o))
	assert.True(t, o.Persisted())
	assert.Zero(t, o.PendingEvents())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMapsDuplicateOrderToConflict(t *testing.T) {
	dbx, mock := newMockDB(t)
	repo := NewOrdersRepository(dbx, NewOutboxRepository(dbx))
	o, err := domain.NewOrder("order-1")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err = repo.Save(context.Background(), o)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveExistingOrderUpserts(t *testing.T) {
	dbx, mock := newMockDB(t)
	repo := NewOrdersRepository(dbx, NewOutboxRepository(dbx))
	o := domain.RehydrateOrder("order-1", domain.StatusOpen, nil, time.Now())
	require.NoError(t, o.AddItem("prod-2", domain.Money{Cents: 1950, Currency: domain.EUR}, 1))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (sku) DO UPDATE")).
		WithArgs("order-1", "open", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (order_sku, product_sku) DO UPDATE")).
		WithArgs("order-1", "prod-2", int64(1950), "EUR", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).
		WithArgs(sqlmock.AnyArg(), "order-1", "ItemAdded", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), o))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveReusesBoundTx(t *testing.T) {
	dbx, mock := newMockDB(t)
	repo := NewOrdersRepository(dbx, NewOutboxRepository(dbx))
	o, err := domain.NewOrder("order-1")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	tx, err := dbx.Beginx()
	require.NoError(t, err)
	bound := repo.WithTx(tx)
	require.NoError(t, bound.Save(context.Background(), o))

	// no commit was issued by Save itself
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.False(t, o.Persisted())
	assert.Equal(t, 1, o.PendingEvents())

	bound.Committed()
	assert.True(t, o.Persisted())
	assert.Zero(t, o.PendingEvents())
}

func TestSaveTwiceInBoundTxWritesEachEventOnce(t *testing.T) {
	dbx, mock := newMockDB(t)
	repo := NewOrdersRepository(dbx, NewOutboxRepository(dbx))
	o, err := domain.NewOrder("order-1")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders (sku, status, created_at, updated_at) VALUES")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).
		WithArgs(sqlmock.AnyArg(), "order-1", "OrderCreated", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (sku) DO UPDATE")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).
		WithArgs(sqlmock.AnyArg(), "order-1", "ItemAdded", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))

	tx, err := dbx.Beginx()
	require.NoError(t, err)
	bound := repo.WithTx(tx)

	require.NoError(t, bound.Save(context.Background(), o))
	require.NoError(t, o.AddItem("prod-1", domain.Money{Cents: 999, Currency: domain.EUR}, 2))
	require.NoError(t, bound.Save(context.Background(), o))
	assert.NoError(t, mock.ExpectationsWereMet())

	bound.Committed()
	assert.True(t, o.Persisted())
	assert.Zero(t, o.PendingEvents())
}

func TestFindBySku(t *testing.T) {
	dbx, mock := newMockDB(t)
	repo := NewOrdersRepository(dbx, NewOutboxRepository(dbx))
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT sku, status, created_at, updated_at FROM orders WHERE sku = ?")).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"sku", "status", "created_at", "updated_at"}).
			AddRow("order-1", "open", created, created))
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items")).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_sku", "product_sku", "unit_price_cents", "unit_price_currency", "quantity", "created_at"}).
			AddRow(int64(1), "order-1", "prod-1", int64(999), "EUR", 2, created))
	mock.ExpectCommit()

	o, err := repo.FindBySku(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, o.Status())
	assert.Equal(t, created, o.CreatedAt())
	assert.True(t, o.Persisted())
	assert.Zero(t, o.PendingEvents())
	require.Len(t, o.Items(), 1)
	assert.Equal(t, domain.Money{Cents: 999, Currency: domain.EUR}, o.Items()[0].UnitPrice)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindBySkuLocksInsideTx(t *testing.T) {
	dbx, mock := newMockDB(t)
	repo := NewOrdersRepository(dbx, NewOutboxRepository(dbx))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE sku = ? FOR UPDATE")).
		WithArgs("order-9").
		WillReturnRows(sqlmock.NewRows([]string{"sku", "status", "created_at", "updated_at"}))

	tx, err := dbx.Beginx()
	require.NoError(t, err)

	_, err = repo.WithTx(tx).FindBySku(context.Background(), "order-9")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
