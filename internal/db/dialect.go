package db

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// Dialect selects the SQL flavour for statements that differ between
// Postgres and MySQL. Both support FOR UPDATE SKIP LOCKED.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

// DialectOf maps a sqlx driver name to a Dialect. Anything that is not the
// MySQL driver is treated as Postgres.
func DialectOf(driverName string) Dialect {
	if driverName == "mysql" {
		return MySQL
	}
	return Postgres
}

// Now is the transaction-clock expression used for timestamps.
func (d Dialect) Now() string {
	if d == MySQL {
		return "NOW(6)"
	}
	return "NOW()"
}

// MigrationsDir names the embedded migrations directory for the dialect.
func (d Dialect) MigrationsDir() string { return string(d) }

const (
	pgUniqueViolation   = "23505"
	mysqlDuplicateEntry = 1062
)

// IsUniqueViolation reports whether err is a duplicate-key error from either driver.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}

	return false
}
