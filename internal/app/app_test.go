package app

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmehdipour/orders-outbox/internal/config"
	"github.com/jmehdipour/orders-outbox/internal/model"
	"github.com/jmehdipour/orders-outbox/internal/pricing"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestBuildPublishersLogAndRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := defaults(t)
	cfg.Publisher.Drivers = []string{"log", "redis"}

	pubs, err := BuildPublishers(cfg, rdb, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pubs.Close() })

	err = pubs.Publish(context.Background(), model.OutboxEvent{
		ID: 1, EventID: "01HZY", AggregateSku: "order-1", EventType: "OrderCreated", Payload: []byte(`{}`),
	})
	require.NoError(t, err)

	entries, err := rdb.XRange(context.Background(), cfg.Redis.Stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "01HZY", entries[0].Values["event_id"])
}

func TestBuildPublishersRejectsMisconfiguration(t *testing.T) {
	cfg := defaults(t)

	cfg.Publisher.Drivers = []string{"redis"}
	_, err := BuildPublishers(cfg, nil, nil, nil)
	assert.Error(t, err)

	cfg.Publisher.Drivers = []string{"webhook"}
	cfg.Webhook.URL = ""
	_, err = BuildPublishers(cfg, nil, nil, nil)
	assert.Error(t, err)

	cfg.Publisher.Drivers = []string{"fax"}
	_, err = BuildPublishers(cfg, nil, nil, nil)
	assert.Error(t, err)
}

func TestStartDispatchersPool(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	dbx := sqlx.NewDb(mockDB, "sqlmock")
	mock.MatchExpectationsInOrder(false)

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE SKIP LOCKED").WillReturnRows(sqlmock.NewRows(
			[]string{"id", "event_id", "aggregate_sku", "event_type", "payload", "created_at", "published_at"}))
		mock.ExpectCommit()
	}

	cfg := defaults(t)
	cfg.Dispatcher.PollIntervalMs = int(time.Hour / time.Millisecond)

	h := func(context.Context, model.OutboxEvent) error { return nil }
	pool, err := StartDispatchers(context.Background(), dbx, h, DispatcherConfig(cfg), 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Size())

	assert.Eventually(t, func() bool { return mock.ExpectationsWereMet() == nil }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, pool.StopWithin(2*time.Second))
}

func TestOpenClickHouseDisabled(t *testing.T) {
	ch, err := OpenClickHouse(defaults(t))
	require.NoError(t, err)
	assert.Nil(t, ch)
}

func TestNewOrderServiceUsesConfiguredPrices(t *testing.T) {
	mockDB, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	dbx := sqlx.NewDb(mockDB, "sqlmock")

	cfg := defaults(t)
	cfg.Pricing = map[string]pricing.Price{"prod-9": {Amount: "1.5", Currency: "GBP"}}

	_, err = NewOrderService(cfg, dbx, nil)
	require.NoError(t, err)

	cfg.Pricing = map[string]pricing.Price{"prod-9": {Amount: "abc", Currency: "GBP"}}
	_, err = NewOrderService(cfg, dbx, nil)
	assert.Error(t, err)
}
