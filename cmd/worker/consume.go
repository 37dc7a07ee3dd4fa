package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/orders-outbox/internal/app"
	"github.com/jmehdipour/orders-outbox/internal/consumer"
	"github.com/jmehdipour/orders-outbox/internal/kafka"
	"github.com/jmehdipour/orders-outbox/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Consume order events from kafka, once per event id",
	RunE:  runConsume,
}

func runConsume(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, log, err := app.Load(cfgPath)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	rdb, err := app.OpenRedis(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "orders-consumer"
	}

	src := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.Topic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		Logger:         log,
	})
	defer src.Close()

	c := consumer.NewIdempotent(src, rdb, consumer.LogHandler(log), consumer.Options{
		KeyPrefix: cfg.Consumer.KeyPrefix,
		TTL:       cfg.Consumer.DedupeTTL,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveMetrics(ctx, cfg.Dispatcher.MetricsAddr, log)

	log.Info(">> consumer started",
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group", groupID))

	return c.Run(ctx)
}
