package domain

import (
	"regexp"
	"strings"

	"github.com/jmehdipour/orders-outbox/internal/apperr"
	"github.com/shopspring/decimal"
)

const maxSkuLen = 64

var skuPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Sku is a business key for orders and products.
type Sku string

func ParseSku(raw string) (Sku, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", apperr.Validation("sku is required")
	}
	if len(s) > maxSkuLen {
		return "", apperr.Validation("sku %q longer than %d characters", s, maxSkuLen)
	}
	if !skuPattern.MatchString(s) {
		return "", apperr.Validation("sku %q has invalid characters", s)
	}

	return Sku(s), nil
}

func (s Sku) String() string { return string(s) }

type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
)

func ParseCurrency(raw string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", apperr.Validation("unsupported currency %q", raw)
	}

	return c, nil
}

func (c Currency) Valid() bool {
	switch c {
	case USD, EUR, GBP:
		return true
	default:
		return false
	}
}

// Money is an amount in minor units (cents). All supported currencies have
// two fraction digits.
type Money struct {
	Cents    int64
	Currency Currency
}

const minorUnitExp = -2

func NewMoney(cents int64, currency Currency) (Money, error) {
	if cents < 0 {
		return Money{}, apperr.Validation("amount must not be negative, got %d", cents)
	}
	if !currency.Valid() {
		return Money{}, apperr.Validation("unsupported currency %q", currency)
	}

	return Money{Cents: cents, Currency: currency}, nil
}

// MoneyFromDecimal converts a decimal major-unit amount ("9.99") into minor
// units. More than two fraction digits is rejected instead of rounded.
func MoneyFromDecimal(amount decimal.Decimal, currency Currency) (Money, error) {
	cents := amount.Shift(-minorUnitExp)
	if !cents.Equal(cents.Truncate(0)) {
		return Money{}, apperr.Validation("amount %s has more than 2 fraction digits", amount)
	}

	return NewMoney(cents.IntPart(), currency)
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, apperr.Validation("cannot add %s to %s", other.Currency, m.Currency)
	}

	return Money{Cents: m.Cents + other.Cents, Currency: m.Currency}, nil
}

func (m Money) Multiply(q Quantity) Money {
	return Money{Cents: m.Cents * int64(q), Currency: m.Currency}
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, minorUnitExp)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(2) + " " + string(m.Currency)
}

type Quantity int

func NewQuantity(n int) (Quantity, error) {
	if n <= 0 {
		return 0, apperr.Validation("quantity must be positive, got %d", n)
	}

	return Quantity(n), nil
}
