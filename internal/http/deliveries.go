package http

import (
	"net/http"
	"strconv"

	"github.com/jmehdipour/orders-outbox/internal/domain"
	"github.com/jmehdipour/orders-outbox/internal/repository"
	echo "github.com/labstack/echo/v4"
)

func listDeliveriesHandler(chRepo repository.DeliveriesRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		sku, err := domain.ParseSku(c.Param("sku"))
		if err != nil {
			return writeError(c, err)
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		ds, err := chRepo.ListByAggregate(c.Request().Context(), sku.String(), limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(ds),
			"results": ds,
		})
	}
}
