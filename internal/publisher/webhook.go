package publisher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmehdipour/orders-outbox/internal/model"
)

// Webhook POSTs the event payload to a URL. Any non-2xx answer is a failure.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Webhook{url: url, client: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Publish(ctx context.Context, e model.OutboxEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(e.Payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", e.EventID)
	req.Header.Set("X-Event-Type", e.EventType)
	req.Header.Set("X-Aggregate-Sku", e.AggregateSku)

	res, err := w.client.Do(req)
	if err != nil {
		return err
	}

	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return fmt.Errorf("webhook url=%s event=%s status=%d", w.url, e.EventID, res.StatusCode)
	}

	return nil
}
