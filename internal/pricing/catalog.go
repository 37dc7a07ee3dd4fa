package pricing

import (
	"fmt"
	"strings"

	"github.com/jmehdipour/orders-outbox/internal/apperr"
	"github.com/jmehdipour/orders-outbox/internal/domain"
	"github.com/shopspring/decimal"
)

// Price is a configured list price in major units, e.g. {"9.99", "EUR"}.
type Price struct {
	Amount   string `mapstructure:"amount"`
	Currency string `mapstructure:"currency"`
}

// DefaultPrices is the built-in catalog.
var DefaultPrices = map[string]Price{
	"prod-1": {Amount: "9.99", Currency: "EUR"},
	"prod-2": {Amount: "19.50", Currency: "EUR"},
	"prod-3": {Amount: "15.00", Currency: "USD"},
}

// Catalog is a static product price list. Product skus are matched
// case-insensitively.
type Catalog struct {
	prices map[string]domain.Money
}

func NewCatalog(prices map[string]Price) (*Catalog, error) {
	c := &Catalog{prices: make(map[string]domain.Money, len(prices))}
	for sku, p := range prices {
		if _, err := domain.ParseSku(sku); err != nil {
			return nil, fmt.Errorf("pricing: %w", err)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(p.Amount))
		if err != nil {
			return nil, fmt.Errorf("pricing: %s amount %q: %w", sku, p.Amount, err)
		}
		currency, err := domain.ParseCurrency(p.Currency)
		if err != nil {
			return nil, fmt.Errorf("pricing: %s: %w", sku, err)
		}
		m, err := domain.MoneyFromDecimal(amount, currency)
		if err != nil {
			return nil, fmt.Errorf("pricing: %s: %w", sku, err)
		}
		c.prices[strings.ToLower(sku)] = m
	}
	return c, nil
}

func (c *Catalog) PriceOf(product domain.Sku) (domain.Money, error) {
	m, ok := c.prices[strings.ToLower(product.String())]
	if !ok {
		return domain.Money{}, apperr.NotFound("no price for product %s", product)
	}
	return m, nil
}
