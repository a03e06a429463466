package pricing

import (
	"context"

	"commerce-checkout/internal/domain"
)

// ShippingResolver quotes the shipping charge for an address and a discounted subtotal.
// A nil breakdown means nothing ships to the address.
type ShippingResolver interface {
	Quote(ctx context.Context, addr domain.Address, currency string, subtotalCents int64) (*domain.ShippingBreakdown, error)
}

// TaxResolver returns the rate for an address and tax class, domain.ErrNotFound when none applies.
type TaxResolver interface {
	TaxRate(ctx context.Context, addr domain.Address, taxClass string) (domain.TaxRate, error)
}

type shippingRateSource interface {
	ShippingRates(ctx context.Context, country, currency string) ([]domain.ShippingRate, error)
}

// RateTable quotes the cheapest eligible rate from a flat rate table.
type RateTable struct {
	rates shippingRateSource
}

func NewRateTable(rates shippingRateSource) *RateTable {
	return &RateTable{rates: rates}
}

func (t *RateTable) Quote(ctx context.Context, addr domain.Address, currency string, subtotalCents int64) (*domain.ShippingBreakdown, error) {
	rates, err := t.rates.ShippingRates(ctx, addr.Country, currency)
	if err != nil {
		return nil, err
	}
	var best *domain.ShippingBreakdown
	for _, r := range rates {
		if subtotalCents < r.MinSubtotalCents {
			continue
		}
		amount := r.AmountCents
		if r.FreeAboveCents > 0 && subtotalCents >= r.FreeAboveCents {
			amount = 0
		}
		if best == nil || amount < best.AmountCents || (amount == best.AmountCents && r.ID < best.MethodID) {
			best = &domain.ShippingBreakdown{MethodID: r.ID, Label: r.Label, AmountCents: amount}
		}
	}
	return best, nil
}
