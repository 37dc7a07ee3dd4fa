package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/orders-outbox/internal/app"
	"github.com/jmehdipour/orders-outbox/internal/outbox"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Publish every pending outbox event once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Load(cfgPath)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		sqlDB, err := app.OpenDB(cfg)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		chDB, err := app.OpenClickHouse(cfg)
		if err != nil {
			return err
		}
		if chDB != nil {
			defer chDB.Close()
		}

		redisClient, err := app.OpenRedis(cfg)
		if err != nil {
			log.Warn("redis unavailable", zap.Error(err))
			redisClient = nil
		} else {
			defer func() { _ = redisClient.Close() }()
		}

		pubs, err := app.BuildPublishers(cfg, redisClient, chDB, log)
		if err != nil {
			return fmt.Errorf("publishers: %w", err)
		}
		defer func() { _ = pubs.Close() }()

		d, err := outbox.NewDispatcher(sqlDB, pubs.Publish, app.DispatcherConfig(cfg), log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		total, err := d.Drain(ctx)
		log.Info("drain finished",
			zap.Int("claimed", total.Claimed),
			zap.Int("published", total.Published),
			zap.Int("failed", total.Failed))
		return err
	},
}
