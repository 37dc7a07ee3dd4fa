package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/orders-outbox/internal/config"
	"github.com/jmehdipour/orders-outbox/internal/http/middleware"
	"github.com/jmehdipour/orders-outbox/internal/repository"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps are the collaborators of the API. Deliveries and Redis are optional.
type Deps struct {
	Orders     OrderService
	Deliveries repository.DeliveriesRepository
	Redis      *redis.Client
	Gatherer   prometheus.Gatherer
	Log        *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.Config, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLevel(cfg.Log.Level))
	e.Use(echoMid.Recover(), echoMid.Logger())

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          deps.Redis,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:ip:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", rlMW)
	v1.POST("/orders", createOrderHandler(deps.Orders))
	v1.GET("/orders/:sku", getOrderHandler(deps.Orders))
	v1.POST("/orders/:sku/items", addItemHandler(deps.Orders))
	v1.POST("/orders/:sku/complete", completeOrderHandler(deps.Orders))
	v1.GET("/orders/:sku/events", listEventsHandler(deps.Orders))
	if deps.Deliveries != nil {
		v1.GET("/orders/:sku/deliveries", listDeliveriesHandler(deps.Deliveries))
	}

	return &Server{e: e, log: deps.Log}
}

func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func echoLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}
