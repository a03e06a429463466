package pricing

import (
	"context"

	"commerce-checkout/internal/domain"
)

// Repository reads the pricing rules the engine and the pricing cache consume, and owns the
// global pricing version counter.
type Repository interface {
	AttributeMetadata(ctx context.Context, productID string) (domain.AttributeMetadata, error)
	VariantAvailability(ctx context.Context, productID string) (domain.VariantAvailability, error)
	BasePrice(ctx context.Context, variantID, currency string) (domain.BasePrice, error)
	ContractPrices(ctx context.Context, companyID, currency string) ([]domain.ContractPrice, error)
	Promotions(ctx context.Context, currency, channel string) ([]domain.Promotion, error)
	CurrencyRates(ctx context.Context, base string) (domain.CurrencyRates, error)

	// TaxRate returns the most specific rate for the address and class: region over country.
	TaxRate(ctx context.Context, addr domain.Address, taxClass string) (domain.TaxRate, error)
	ShippingRates(ctx context.Context, country, currency string) ([]domain.ShippingRate, error)
	// MapPrices returns every MAP rule for the variant and currency, across channels and windows.
	MapPrices(ctx context.Context, variantID, currency string) ([]domain.MapPrice, error)

	// UpsertBasePrice replaces the list price and tiers for a variant in one currency.
	UpsertBasePrice(ctx context.Context, bp domain.BasePrice) error

	CurrentVersion(ctx context.Context) (int64, error)
	Bump(ctx context.Context) (int64, error)
}
