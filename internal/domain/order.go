package domain

import (
	"slices"
	"time"
)

const (
	OrderStatusOpen      = "open"
	OrderStatusCancelled = "cancelled"
)

// Order is written by the CREATING_ORDER phase, one per checkout lock.
type Order struct {
	ID              string        `json:"id"`
	LockID          string        `json:"lockId"`
	CartID          string        `json:"cartId"`
	CustomerID      *string       `json:"customerId,omitempty"`
	Currency        string        `json:"currency"`
	GrandTotalCents int64         `json:"grandTotalCents"`
	PriceHash       string        `json:"priceHash"`
	PricingSnapshot PricingResult `json:"pricingSnapshot"`
	Status          string        `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// StockItem is a quantity of one variant held for a checkout.
type StockItem struct {
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

// StockItems sums the cart's positive line quantities per variant, ordered by variant id.
func (c *Cart) StockItems() []StockItem {
	totals := map[string]int{}
	var order []string
	for _, l := range c.Lines {
		if l.Quantity <= 0 {
			continue
		}
		if _, ok := totals[l.VariantID]; !ok {
			order = append(order, l.VariantID)
		}
		totals[l.VariantID] += l.Quantity
	}
	slices.Sort(order)
	out := make([]StockItem, 0, len(order))
	for _, v := range order {
		out = append(out, StockItem{VariantID: v, Quantity: totals[v]})
	}
	return out
}
