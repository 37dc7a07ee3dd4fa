package cmd

import (
	"context"
	"fmt"

	"github.com/jmehdipour/orders-outbox/internal/app"
	"github.com/jmehdipour/orders-outbox/internal/db"
	"github.com/jmehdipour/orders-outbox/internal/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the orders, order_items and outbox tables (and the clickhouse delivery log)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Load(cfgPath)
		if err != nil {
			return err
		}

		sqlDB, err := app.OpenDB(cfg)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		dir := db.DialectOf(sqlDB.DriverName()).MigrationsDir()
		n, err := migrations.Apply(ctx, sqlDB, dir)
		if err != nil {
			return fmt.Errorf("migrate %s: %w", dir, err)
		}
		log.Info("migration complete", zap.String("dialect", dir), zap.Int("statements", n))

		chDB, err := app.OpenClickHouse(cfg)
		if err != nil {
			return err
		}
		if chDB == nil {
			return nil
		}
		defer chDB.Close()

		n, err = migrations.Apply(ctx, chDB, "clickhouse")
		if err != nil {
			return fmt.Errorf("migrate clickhouse: %w", err)
		}
		log.Info("migration complete", zap.String("dialect", "clickhouse"), zap.Int("statements", n))
		return nil
	},
}
