package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/jmehdipour/orders-outbox/internal/apperr"
	"github.com/jmehdipour/orders-outbox/internal/service/orders"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// OrderService is implemented by *orders.Service.
type OrderService interface {
	CreateOrder(ctx context.Context, sku string) (orders.Order, error)
	AddItem(ctx context.Context, sku, product string, qty int) (orders.Order, error)
	CompleteOrder(ctx context.Context, sku string) (orders.Order, error)
	GetOrder(ctx context.Context, sku string) (orders.Order, error)
	ListEvents(ctx context.Context, sku string) ([]orders.Event, error)
}

type createOrderReq struct {
	Sku string `json:"sku"`
}

type addItemReq struct {
	ProductSku string `json:"product_sku"`
	Quantity   int    `json:"quantity"`
}

func createOrderHandler(svc OrderService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createOrderReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		o, err := svc.CreateOrder(c.Request().Context(), req.Sku)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, o)
	}
}

func addItemHandler(svc OrderService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req addItemReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		o, err := svc.AddItem(c.Request().Context(), c.Param("sku"), req.ProductSku, req.Quantity)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, o)
	}
}

func completeOrderHandler(svc OrderService) echo.HandlerFunc {
	return func(c echo.Context) error {
		o, err := svc.CompleteOrder(c.Request().Context(), c.Param("sku"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, o)
	}
}

func getOrderHandler(svc OrderService) echo.HandlerFunc {
	return func(c echo.Context) error {
		o, err := svc.GetOrder(c.Request().Context(), c.Param("sku"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, o)
	}
}

func listEventsHandler(svc OrderService) echo.HandlerFunc {
	return func(c echo.Context) error {
		events, err := svc.ListEvents(c.Request().Context(), c.Param("sku"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"count":   len(events),
			"results": events,
		})
	}
}

func writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		log.Errorf("%s %s failed: %v", c.Request().Method, c.Path(), err)
		return c.JSON(status, map[string]string{"error": "internal error"})
	}

	msg := err.Error()
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Msg != "" {
		msg = ae.Msg
	}
	return c.JSON(status, map[string]string{"error": string(apperr.KindOf(err)), "description": msg})
}
