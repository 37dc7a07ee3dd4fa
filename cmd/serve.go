package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/orders-outbox/internal/app"
	httpSrv "github.com/jmehdipour/orders-outbox/internal/http"
	"github.com/jmehdipour/orders-outbox/internal/metrics"
	"github.com/jmehdipour/orders-outbox/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server (and the outbox dispatcher when dispatcher.embedded)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Load(cfgPath)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		sqlDB, err := app.OpenDB(cfg)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		redisClient, err := app.OpenRedis(cfg)
		if err != nil {
			// the rate limiter fails open without redis
			log.Warn("redis unavailable, rate limiting disabled", zap.Error(err))
		} else {
			defer func() { _ = redisClient.Close() }()
		}

		chDB, err := app.OpenClickHouse(cfg)
		if err != nil {
			return err
		}

		svc, err := app.NewOrderService(cfg, sqlDB, log)
		if err != nil {
			return err
		}

		deps := httpSrv.Deps{Orders: svc, Redis: redisClient, Log: log}
		if chDB != nil {
			defer func() { _ = chDB.Close() }()
			deps.Deliveries = repository.NewCHDeliveriesRepository(chDB)
		}
		server := httpSrv.NewServer(cfg, deps)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var pool *app.Pool
		if cfg.Dispatcher.Embedded {
			pubs, err := app.BuildPublishers(cfg, redisClient, chDB, log)
			if err != nil {
				return fmt.Errorf("publishers: %w", err)
			}
			defer func() { _ = pubs.Close() }()

			pool, err = app.StartDispatchers(ctx, sqlDB, pubs.Publish, app.DispatcherConfig(cfg), cfg.Dispatcher.Instances, log)
			if err != nil {
				return fmt.Errorf("start dispatcher: %w", err)
			}
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		select {
		case <-ctx.Done():
			log.Info("signal received, shutting down...")
		case err := <-errCh:
			if err != nil {
				log.Error("http server exited", zap.Error(err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)

		if pool != nil {
			if err := pool.Stop(shutdownCtx); err != nil {
				log.Warn("dispatcher stop", zap.Error(err))
			}
		}
		return nil
	},
}
