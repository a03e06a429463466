package domain

import "time"

const (
	CartStatusActive    = "active"
	CartStatusCompleted = "completed"
)

type Address struct {
	Country    string `json:"country"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

type Cart struct {
	ID              string         `json:"id"`
	CustomerID      *string        `json:"customerId,omitempty"`
	CompanyID       *string        `json:"companyId,omitempty"`
	Currency        string         `json:"currency"`
	Channel         string         `json:"channel"`
	ShippingAddress *Address       `json:"shippingAddress,omitempty"`
	CouponCodes     []string       `json:"couponCodes,omitempty"`
	Status          string         `json:"status"`
	RequiresReprice bool           `json:"requiresReprice"`
	LastRepricedAt  *time.Time     `json:"lastRepricedAt,omitempty"`
	PricingSnapshot *PricingResult `json:"pricingSnapshot,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	Lines           []CartLine     `json:"lineItems,omitempty"`
}

type CartLine struct {
	ID        string    `json:"id"`
	CartID    string    `json:"cartId"`
	ProductID string    `json:"productId"`
	VariantID string    `json:"variantId"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c *Cart) IsEmpty() bool {
	for _, l := range c.Lines {
		if l.Quantity > 0 {
			return false
		}
	}
	return true
}

func (c *Cart) IsCompleted() bool {
	return c.Status == CartStatusCompleted
}

// PricingVersion is the version of the stored snapshot, zero when never priced.
func (c *Cart) PricingVersion() int64 {
	if c.PricingSnapshot == nil {
		return 0
	}
	return c.PricingSnapshot.PricingVersion
}
