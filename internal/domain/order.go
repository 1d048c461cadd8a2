package domain

import "time"

// OrderLine is one (product, quantity) pair of an order. UnitPriceCents is
// the product price captured at placement time; later price changes do not
// affect committed orders.
type OrderLine struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// Order is created exclusively by order placement and never mutated
// afterward. TotalCents always equals the sum of its lines.
type Order struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customer_id"`
	Lines      []OrderLine `json:"lines"`
	TotalCents int64       `json:"total_cents"`
	CreatedAt  time.Time   `json:"created_at"`
}
