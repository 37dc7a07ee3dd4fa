package model

import "time"

type Order struct {
	Sku       string    `db:"sku"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type OrderItem struct {
	ID             int64     `db:"id"`
	OrderSku       string    `db:"order_sku"`
	ProductSku     string    `db:"product_sku"`
	UnitPriceCents int64     `db:"unit_price_cents"`
	Currency       string    `db:"unit_price_currency"`
	Quantity       int       `db:"quantity"`
	CreatedAt      time.Time `db:"created_at"`
}
