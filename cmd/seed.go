package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmehdipour/orders-outbox/internal/app"
	"github.com/jmehdipour/orders-outbox/internal/apperr"
	"github.com/jmehdipour/orders-outbox/internal/service/orders"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo orders",
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

		svc, err := app.NewOrderService(cfg, sqlDB, log)
		if err != nil {
			return err
		}

		log.Info(">> seeding demo orders...")
		if err := seedOrders(context.Background(), svc, log); err != nil {
			return err
		}
		log.Info(">> seed completed")
		return nil
	},
}

type seedLine struct {
	product string
	qty     int
}

type seedOrder struct {
	sku      string
	lines    []seedLine
	complete bool
}

var demoOrders = []seedOrder{
	{sku: "order-1", lines: []seedLine{{"prod-1", 2}}},
	{sku: "order-2", lines: []seedLine{{"prod-1", 1}, {"prod-2", 3}}, complete: true},
	{sku: "order-3", lines: []seedLine{{"prod-3", 1}, {"prod-1", 4}}},
}

// seedOrders creates the demo orders through the use-cases so every change
// lands in the outbox. Existing orders are skipped.
func seedOrders(ctx context.Context, svc *orders.Service, log *zap.Logger) error {
	for _, o := range demoOrders {
		if _, err := svc.CreateOrder(ctx, o.sku); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				log.Info("order exists, skipping", zap.String("sku", o.sku))
				continue
			}
			return fmt.Errorf("create %s: %w", o.sku, err)
		}
		for _, l := range o.lines {
			if _, err := svc.AddItem(ctx, o.sku, l.product, l.qty); err != nil {
				return fmt.Errorf("add %s to %s: %w", l.product, o.sku, err)
			}
		}
		if o.complete {
			if _, err := svc.CompleteOrder(ctx, o.sku); err != nil {
				return fmt.Errorf("complete %s: %w", o.sku, err)
			}
		}
		log.Info("order seeded", zap.String("sku", o.sku), zap.Int("lines", len(o.lines)))
	}
	return nil
}
