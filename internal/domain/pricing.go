package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource names the input that produced a line's final unit price.
type PriceSource string

const (
	PriceSourceBase     PriceSource = "base"
	PriceSourceContract PriceSource = "contract"
	PriceSourcePromo    PriceSource = "promo"
	PriceSourceMatrix   PriceSource = "matrix"
)

// PricingResult is the computed pricing of a cart, stored on the cart as its snapshot.
type PricingResult struct {
	CartID             string              `json:"cartId"`
	Currency           string              `json:"currency"`
	Channel            string              `json:"channel"`
	SubtotalCents      int64               `json:"subtotalCents"`
	DiscountTotalCents int64               `json:"discountTotalCents"`
	TaxTotalCents      int64               `json:"taxTotalCents"`
	ShippingTotalCents int64               `json:"shippingTotalCents"`
	GrandTotalCents    int64               `json:"grandTotalCents"`
	Lines              []LineItemPricing   `json:"lines"`
	DiscountBreakdown  []DiscountBreakdown `json:"discountBreakdown,omitempty"`
	TaxBreakdown       []TaxBreakdown      `json:"taxBreakdown,omitempty"`
	ShippingBreakdown  *ShippingBreakdown  `json:"shippingBreakdown,omitempty"`
	AppliedRules       []AppliedRule       `json:"appliedRules,omitempty"`
	Warnings           []string            `json:"warnings,omitempty"`
	PriceHash          string              `json:"priceHash"`
	PricingVersion     int64               `json:"pricingVersion"`
	CalculatedAt       time.Time           `json:"calculatedAt"`
}

type LineItemPricing struct {
	LineID                 string              `json:"lineId"`
	VariantID              string              `json:"variantId"`
	OriginalUnitPriceCents int64               `json:"originalUnitPriceCents"`
	FinalUnitPriceCents    int64               `json:"finalUnitPriceCents"`
	Quantity               int                 `json:"quantity"`
	LineTotalCents         int64               `json:"lineTotalCents"`
	Discounts              []DiscountBreakdown `json:"discounts,omitempty"`
	TaxBaseCents           int64               `json:"taxBaseCents"`
	TaxAmountCents         int64               `json:"taxAmountCents"`
	TaxRate                decimal.Decimal     `json:"taxRate"`
	PriceSource            PriceSource         `json:"priceSource"`
	TierName               *string             `json:"tierName,omitempty"`
	TierPriceCents         *int64              `json:"tierPriceCents,omitempty"`
	MAPProtected           bool                `json:"mapProtected,omitempty"`
}

type DiscountBreakdown struct {
	RuleID      string `json:"ruleId"`
	Code        string `json:"code,omitempty"`
	Label       string `json:"label"`
	AmountCents int64  `json:"amountCents"`
}

type TaxBreakdown struct {
	Rate        decimal.Decimal `json:"rate"`
	Kind        string          `json:"kind"`
	BaseCents   int64           `json:"baseCents"`
	AmountCents int64           `json:"amountCents"`
}

type ShippingBreakdown struct {
	MethodID    string          `json:"methodId"`
	Label       string          `json:"label"`
	AmountCents int64           `json:"amountCents"`
	TaxRate     decimal.Decimal `json:"taxRate"`
	TaxCents    int64           `json:"taxCents"`
}

// AppliedRule is one entry of the audit ledger: which rule at which version touched the result.
type AppliedRule struct {
	RuleID  string `json:"ruleId"`
	Version int    `json:"version"`
	Kind    string `json:"kind"`
}

// PriceTier is a quantity break on a base price.
type PriceTier struct {
	Name        string `json:"name"`
	MinQuantity int    `json:"minQuantity"`
	AmountCents int64  `json:"amountCents"`
}

type BasePrice struct {
	VariantID   string      `json:"variantId"`
	Currency    string      `json:"currency"`
	AmountCents int64       `json:"amountCents"`
	Tiers       []PriceTier `json:"tiers,omitempty"`
}

type ContractPrice struct {
	ContractID  string     `json:"contractId"`
	Version     int        `json:"version"`
	VariantID   string     `json:"variantId"`
	AmountCents int64      `json:"amountCents"`
	ValidFrom   *time.Time `json:"validFrom,omitempty"`
	ValidTo     *time.Time `json:"validTo,omitempty"`
}

func (c ContractPrice) ActiveAt(now time.Time) bool {
	return withinWindow(c.ValidFrom, c.ValidTo, now)
}

type PromotionType string

const (
	PromotionPercentage PromotionType = "percentage"
	PromotionFixed      PromotionType = "fixed"
)

// Promotion is a discount rule. A promotion with VariantIDs applies per unit on those lines;
// without them it applies to the cart. A non-empty Code makes it a manual coupon.
type Promotion struct {
	ID               string          `json:"id"`
	Version          int             `json:"version"`
	Name             string          `json:"name"`
	Code             string          `json:"code,omitempty"`
	Type             PromotionType   `json:"type"`
	Percent          decimal.Decimal `json:"percent"`
	AmountCents      int64           `json:"amountCents"`
	VariantIDs       []string        `json:"variantIds,omitempty"`
	Priority         int             `json:"priority"`
	Stackable        bool            `json:"stackable"`
	MinSubtotalCents int64           `json:"minSubtotalCents"`
	StartsAt         *time.Time      `json:"startsAt,omitempty"`
	EndsAt           *time.Time      `json:"endsAt,omitempty"`
}

func (p Promotion) IsCoupon() bool {
	return p.Code != ""
}

func (p Promotion) IsLineLevel() bool {
	return len(p.VariantIDs) > 0
}

func (p Promotion) ActiveAt(now time.Time) bool {
	return withinWindow(p.StartsAt, p.EndsAt, now)
}

func (p Promotion) AppliesToVariant(variantID string) bool {
	for _, v := range p.VariantIDs {
		if v == variantID {
			return true
		}
	}
	return false
}

// DiscountOn returns the discount this promotion grants on baseCents, never more than baseCents.
func (p Promotion) DiscountOn(baseCents int64) int64 {
	if baseCents <= 0 {
		return 0
	}
	var amount int64
	switch p.Type {
	case PromotionPercentage:
		amount = decimal.NewFromInt(baseCents).Mul(p.Percent).Round(0).IntPart()
	case PromotionFixed:
		amount = p.AmountCents
	}
	if amount < 0 {
		return 0
	}
	if amount > baseCents {
		return baseCents
	}
	return amount
}

type TaxRate struct {
	ID       string          `json:"id"`
	Country  string          `json:"country"`
	Region   string          `json:"region,omitempty"`
	TaxClass string          `json:"taxClass"`
	Rate     decimal.Decimal `json:"rate"`
}

type ShippingRate struct {
	ID               string `json:"id"`
	Label            string `json:"label"`
	Country          string `json:"country"`
	Currency         string `json:"currency"`
	AmountCents      int64  `json:"amountCents"`
	FreeAboveCents   int64  `json:"freeAboveCents"`
	MinSubtotalCents int64  `json:"minSubtotalCents"`
}

// CurrencyRates maps a target currency to the multiplier from Base.
type CurrencyRates struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

type AttributeMetadata struct {
	ProductID    string            `json:"productId"`
	TaxClass     string            `json:"taxClass"`
	MAPProtected bool              `json:"mapProtected"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// VariantAvailability says which variants of a product are sellable. It never carries stock counts.
type VariantAvailability struct {
	ProductID string          `json:"productId"`
	Sellable  map[string]bool `json:"sellable"`
}

type MAPEnforcement string

const (
	MAPStrict  MAPEnforcement = "strict"
	MAPWarning MAPEnforcement = "warning"
)

type MapPrice struct {
	ID               string         `json:"id"`
	VariantID        string         `json:"variantId"`
	Currency         string         `json:"currency"`
	Channel          *string        `json:"channel,omitempty"`
	MinPriceCents    int64          `json:"minPriceCents"`
	EnforcementLevel MAPEnforcement `json:"enforcementLevel"`
	ValidFrom        *time.Time     `json:"validFrom,omitempty"`
	ValidTo          *time.Time     `json:"validTo,omitempty"`
}

func (m MapPrice) ActiveAt(now time.Time) bool {
	return withinWindow(m.ValidFrom, m.ValidTo, now)
}

func withinWindow(from, to *time.Time, now time.Time) bool {
	if from != nil && now.Before(*from) {
		return false
	}
	if to != nil && now.After(*to) {
		return false
	}
	return true
}
