package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed postgres/*.sql mysql/*.sql clickhouse/*.sql
var files embed.FS

// Statements returns the DDL statements for dir ("postgres", "mysql" or
// "clickhouse"), files in name order, one entry per statement.
func Statements(dir string) ([]string, error) {
	names, err := fs.Glob(files, dir+"/*.sql")
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no migrations for %q", dir)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		b, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out = append(out, split(string(b))...)
	}

	return out, nil
}

// Apply runs every statement of dir against db. Statements are idempotent
// (IF NOT EXISTS), so Apply can run on every deploy.
func Apply(ctx context.Context, db *sqlx.DB, dir string) (int, error) {
	stmts, err := Statements(dir)
	if err != nil {
		return 0, err
	}

	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return i, fmt.Errorf("statement %d: %w", i+1, err)
		}
	}

	return len(stmts), nil
}

func split(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}

	return out
}
