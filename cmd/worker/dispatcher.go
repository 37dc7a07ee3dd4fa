package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/orders-outbox/internal/app"
	"github.com/jmehdipour/orders-outbox/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var instances int

var dispatcherCmd = &cobra.Command{
	Use:   "dispatcher",
	Short: "Run competing outbox dispatchers",
	RunE:  runDispatcher,
}

func init() {
	dispatcherCmd.Flags().IntVar(&instances, "instances", 0, "number of dispatchers (overrides dispatcher.instances)")
}

func runDispatcher(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, log, err := app.Load(cfgPath)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) connections
	dbx, err := app.OpenDB(cfg)
	if err != nil {
		return err
	}
	defer dbx.Close()

	rdb, err := app.OpenRedis(cfg)
	if err != nil {
		log.Warn("redis unavailable", zap.Error(err))
		rdb = nil
	} else {
		defer func() { _ = rdb.Close() }()
	}

	chDB, err := app.OpenClickHouse(cfg)
	if err != nil {
		return err
	}
	if chDB != nil {
		defer chDB.Close()
	}

	// 3) publishers
	pubs, err := app.BuildPublishers(cfg, rdb, chDB, log)
	if err != nil {
		return fmt.Errorf("publishers: %w", err)
	}
	defer func() { _ = pubs.Close() }()

	// 4) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveMetrics(ctx, cfg.Dispatcher.MetricsAddr, log)

	n := cfg.Dispatcher.Instances
	if instances > 0 {
		n = instances
	}
	pool, err := app.StartDispatchers(ctx, dbx, pubs.Publish, app.DispatcherConfig(cfg), n, log)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("signal received, stopping dispatchers")
	return pool.StopWithin(10 * time.Second)
}
