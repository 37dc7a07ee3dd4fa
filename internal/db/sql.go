package db

import (
	"context"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

type PoolOpts struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration // default 5s
}

// Connect opens the primary database for driver "postgres" or "mysql".
func Connect(driver, dsn string, opts PoolOpts) (*sqlx.DB, error) {
	switch Dialect(driver) {
	case Postgres:
		return NewPostgresConnection(dsn, opts)
	case MySQL:
		return NewMySQLConnection(dsn, opts)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// NewPostgresConnection opens Postgres through the pgx stdlib driver.
func NewPostgresConnection(dsn string, opts PoolOpts) (*sqlx.DB, error) {
	return open("pgx", dsn, opts)
}

// NewMySQLConnection opens MySQL 8+. The DSN must carry parseTime=true.
func NewMySQLConnection(dsn string, opts PoolOpts) (*sqlx.DB, error) {
	return open("mysql", dsn, opts)
}

// NewClickHouseConnection opens the delivery log store, e.g.
// clickhouse://default:@localhost:9000/orders?dial_timeout=5s
func NewClickHouseConnection(dsn string, opts PoolOpts) (*sqlx.DB, error) {
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 3 * time.Second
	}
	return open("clickhouse", dsn, opts)
}

func open(driverName, dsn string, opts PoolOpts) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty %s DSN", driverName)
	}
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driverName, err)
	}

	return db, nil
}
