package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// runInTx runs fn in tx when one is supplied; otherwise it begins, commits
// or rolls back its own transaction.
func runInTx(ctx context.Context, db *sqlx.DB, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	t, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}

	return t.Commit()
}
