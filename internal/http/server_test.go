package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jmehdipour/orders-outbox/internal/apperr"
	"github.com/jmehdipour/orders-outbox/internal/config"
	"github.com/jmehdipour/orders-outbox/internal/model"
	"github.com/jmehdipour/orders-outbox/internal/service/orders"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrders struct {
	err       error
	gotSku    string
	gotProd   string
	gotQty    int
	completed bool
}

func (s *stubOrders) CreateOrder(_ context.Context, sku string) (orders.Order, error) {
	s.gotSku = sku
	return orders.Order{Sku: sku, Status: "open"}, s.err
}

func (s *stubOrders) AddItem(_ context.Context, sku, product string, qty int) (orders.Order, error) {
	s.gotSku, s.gotProd, s.gotQty = sku, product, qty
	return orders.Order{Sku: sku, Status: "open"}, s.err
}

func (s *stubOrders) CompleteOrder(_ context.Context, sku string) (orders.Order, error) {
	s.gotSku, s.completed = sku, true
	return orders.Order{Sku: sku, Status: "completed"}, s.err
}

func (s *stubOrders) GetOrder(_ context.Context, sku string) (orders.Order, error) {
	s.gotSku = sku
	return orders.Order{Sku: sku, Status: "open"}, s.err
}

func (s *stubOrders) ListEvents(_ context.Context, sku string) ([]orders.Event, error) {
	s.gotSku = sku
	if s.err != nil {
		return nil, s.err
	}
	return []orders.Event{{ID: 1, Type: "OrderCreated"}, {ID: 2, Type: "ItemAdded"}}, nil
}

type stubDeliveries struct {
	limit, offset int
}

func (s *stubDeliveries) Record(context.Context, []model.Delivery) error { return nil }

func (s *stubDeliveries) ListByAggregate(_ context.Context, sku string, limit, offset int) ([]model.Delivery, error) {
	s.limit, s.offset = limit, offset
	return []model.Delivery{{EventID: "e1", AggregateSku: sku, Publisher: "kafka"}}, nil
}

func newTestServer(t *testing.T, svc OrderService, deliveries *stubDeliveries) *Server {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	deps := Deps{Orders: svc, Gatherer: prometheus.NewRegistry()}
	if deliveries != nil {
		deps.Deliveries = deliveries
	}
	return NewServer(cfg, deps)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestOrderRoutes(t *testing.T) {
	svc := &stubOrders{}
	s := newTestServer(t, svc, nil)

	rec := do(t, s, http.MethodPost, "/v1/orders", `{"sku":"order-1"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "order-1", svc.gotSku)

	rec = do(t, s, http.MethodPost, "/v1/orders/order-1/items", `{"product_sku":"prod-1","quantity":2}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "prod-1", svc.gotProd)
	assert.Equal(t, 2, svc.gotQty)

	rec = do(t, s, http.MethodPost, "/v1/orders/order-1/complete", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.completed)

	rec = do(t, s, http.MethodGet, "/v1/orders/order-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sku":"order-1","status":"open","items":null,"totals":null,"created_at":"0001-01-01T00:00:00Z"}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/v1/orders/order-1/events", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{apperr.Validation("quantity must be positive"), http.StatusBadRequest},
		{apperr.NotFound("order x not found"), http.StatusNotFound},
		{apperr.Conflict("order x already exists"), http.StatusConflict},
		{apperr.Infra(assert.AnError, "save"), http.StatusInternalServerError},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		s := newTestServer(t, &stubOrders{err: tc.err}, nil)
		rec := do(t, s, http.MethodGet, "/v1/orders/x", "")
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
	}

	s := newTestServer(t, &stubOrders{err: apperr.Conflict("order x already exists")}, nil)
	rec := do(t, s, http.MethodPost, "/v1/orders", `{"sku":"x"}`)
	assert.JSONEq(t, `{"error":"conflict","description":"order x already exists"}`, rec.Body.String())
}

func TestBadJSON(t *testing.T) {
	s := newTestServer(t, &stubOrders{}, nil)
	rec := do(t, s, http.MethodPost, "/v1/orders", `{"sku":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeliveriesRoute(t *testing.T) {
	s := newTestServer(t, &stubOrders{}, nil)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/orders/order-1/deliveries", "").Code)

	d := &stubDeliveries{}
	s = newTestServer(t, &stubOrders{}, d)
	rec := do(t, s, http.MethodGet, "/v1/orders/order-1/deliveries?limit=5000&offset=3", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, d.limit)
	assert.Equal(t, 3, d.offset)
	assert.Contains(t, rec.Body.String(), `"publisher":"kafka"`)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/orders/bad%20sku/deliveries", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, &stubOrders{}, nil)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/metrics", "").Code)
}
