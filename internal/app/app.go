// Package app wires configuration into connections, publishers and
// dispatchers for the cobra commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/orders-outbox/internal/config"
	"github.com/jmehdipour/orders-outbox/internal/db"
	"github.com/jmehdipour/orders-outbox/internal/logger"
	"github.com/jmehdipour/orders-outbox/internal/outbox"
	"github.com/jmehdipour/orders-outbox/internal/pricing"
	"github.com/jmehdipour/orders-outbox/internal/service/orders"
	"github.com/jmehdipour/orders-outbox/internal/uow"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Load reads the config and installs the global logger.
func Load(cfgPath string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Encoding); err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger.Log, nil
}

func OpenDB(cfg config.Config) (*sqlx.DB, error) {
	dbx, err := db.Connect(cfg.Database.Driver, cfg.Database.DSN, poolOpts(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", cfg.Database.Driver, err)
	}
	return dbx, nil
}

func OpenRedis(cfg config.Config) (*redis.Client, error) {
	rdb, err := db.NewRedisClient(db.RedisOpts{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return rdb, nil
}

// OpenClickHouse returns nil, nil when no DSN is configured.
func OpenClickHouse(cfg config.Config) (*sqlx.DB, error) {
	if cfg.ClickHouse.DSN == "" {
		return nil, nil
	}
	ch, err := db.NewClickHouseConnection(cfg.ClickHouse.DSN, poolOpts(cfg.ClickHouse))
	if err != nil {
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}
	return ch, nil
}

func poolOpts(c config.DatabaseConfig) db.PoolOpts {
	return db.PoolOpts{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		PingTimeout:     c.PingTimeout,
	}
}

// NewOrderService builds the use-cases on top of dbx.
func NewOrderService(cfg config.Config, dbx *sqlx.DB, log *zap.Logger) (*orders.Service, error) {
	prices := cfg.Pricing
	if len(prices) == 0 {
		prices = pricing.DefaultPrices
	}
	catalog, err := pricing.NewCatalog(prices)
	if err != nil {
		return nil, err
	}
	return orders.New(uow.New(dbx, log), catalog, log), nil
}

// DispatcherConfig converts the dispatcher section.
func DispatcherConfig(cfg config.Config) outbox.Config {
	return outbox.Config{
		PollInterval:    cfg.Dispatcher.PollInterval(),
		BatchSize:       cfg.Dispatcher.BatchSize,
		DeliveryTimeout: cfg.Dispatcher.DeliveryTimeout(),
	}
}

// Pool is a set of competing dispatchers sharing one database.
type Pool struct {
	ds  []*outbox.Dispatcher
	log *zap.Logger
}

// StartDispatchers starts n dispatchers (at least one) against dbx.
func StartDispatchers(ctx context.Context, dbx *sqlx.DB, h outbox.Handler, cfg outbox.Config, n int, log *zap.Logger) (*Pool, error) {
	if n <= 0 {
		n = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{log: log}
	for i := 0; i < n; i++ {
		d, err := outbox.NewDispatcher(dbx, h, cfg, log.With(zap.Int("dispatcher", i)))
		if err != nil {
			_ = p.Stop(ctx)
			return nil, err
		}
		if err := d.Start(ctx); err != nil {
			_ = p.Stop(ctx)
			return nil, err
		}
		p.ds = append(p.ds, d)
	}
	log.Info("dispatchers started", zap.Int("instances", n))
	return p, nil
}

// StopWithin stops every dispatcher, waiting at most timeout overall.
func (p *Pool) StopWithin(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.Stop(ctx)
}

func (p *Pool) Size() int { return len(p.ds) }

func (p *Pool) Stop(ctx context.Context) error {
	var errs []error
	for _, d := range p.ds {
		if err := d.Stop(ctx); err != nil && !errors.Is(err, outbox.ErrNotRunning) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
