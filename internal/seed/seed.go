package seed

import (
	"context"
	"fmt"

	"commerce-checkout/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

type stockLevels interface {
	SetLevel(ctx context.Context, variantID string, onHand int) error
}

type variantSeed struct {
	ProductID   string
	VariantID   string
	TaxClass    string
	PriceCents  int64
	Tiers       []domain.PriceTier
	OnHand      int
	MAPCents    int64
	MAPStrict   bool
	MAPProtects bool
}

var variants = []variantSeed{
	{
		ProductID:  "demo-shirt",
		VariantID:  "demo-shirt-m",
		TaxClass:   "standard",
		PriceCents: 1999,
		OnHand:     100,
	},
	{
		ProductID:  "demo-mug",
		VariantID:  "demo-mug-white",
		TaxClass:   "standard",
		PriceCents: 1299,
		Tiers: []domain.PriceTier{
			{Name: "6-pack", MinQuantity: 6, AmountCents: 1099},
			{Name: "12-pack", MinQuantity: 12, AmountCents: 999},
		},
		OnHand: 250,
	},
	{
		ProductID:   "demo-headphones",
		VariantID:   "demo-headphones-black",
		TaxClass:    "standard",
		PriceCents:  19900,
		OnHand:      20,
		MAPCents:    17900,
		MAPStrict:   true,
		MAPProtects: true,
	},
	{
		ProductID:  "demo-book",
		VariantID:  "demo-book-paperback",
		TaxClass:   "reduced",
		PriceCents: 2450,
		OnHand:     40,
		MAPCents:   2200,
	},
}

// Apply inserts demo pricing rules and stock for manual testing. It is idempotent via
// ON CONFLICT.
func Apply(ctx context.Context, pool *pgxpool.Pool, stock stockLevels) error {
	for _, v := range variants {
		if err := upsertVariant(ctx, pool, v); err != nil {
			return fmt.Errorf("upsert variant %s: %w", v.VariantID, err)
		}
		if err := stock.SetLevel(ctx, v.VariantID, v.OnHand); err != nil {
			return fmt.Errorf("stock level %s: %w", v.VariantID, err)
		}
	}
	if err := upsertPromotions(ctx, pool); err != nil {
		return fmt.Errorf("upsert promotions: %w", err)
	}
	if err := upsertTaxAndShipping(ctx, pool); err != nil {
		return fmt.Errorf("upsert tax and shipping: %w", err)
	}
	if err := upsertCurrencyRates(ctx, pool); err != nil {
		return fmt.Errorf("upsert currency rates: %w", err)
	}
	return nil
}

func upsertVariant(ctx context.Context, pool *pgxpool.Pool, v variantSeed) error {
	tiers := v.Tiers
	if tiers == nil {
		tiers = []domain.PriceTier{}
	}
	if _, err := pool.Exec(ctx, `
INSERT INTO base_prices (variant_id, currency, amount_cents, tiers)
VALUES ($1, 'USD', $2, $3)
ON CONFLICT (variant_id, currency) DO UPDATE
SET amount_cents = EXCLUDED.amount_cents,
    tiers = EXCLUDED.tiers
`, v.VariantID, v.PriceCents, tiers); err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, `
INSERT INTO product_attributes (product_id, tax_class, map_protected)
VALUES ($1, $2, $3)
ON CONFLICT (product_id) DO UPDATE
SET tax_class = EXCLUDED.tax_class,
    map_protected = EXCLUDED.map_protected
`, v.ProductID, v.TaxClass, v.MAPProtects); err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, `
INSERT INTO variant_availability (product_id, variant_id, sellable)
VALUES ($1, $2, true)
ON CONFLICT (product_id, variant_id) DO NOTHING
`, v.ProductID, v.VariantID); err != nil {
		return err
	}

	if v.MAPCents == 0 {
		return nil
	}
	level := "warning"
	if v.MAPStrict {
		level = "strict"
	}
	// map_prices has a surrogate key, so replace rather than upsert.
	if _, err := pool.Exec(ctx, `DELETE FROM map_prices WHERE variant_id = $1 AND currency = 'USD'`, v.VariantID); err != nil {
		return err
	}
	_, err := pool.Exec(ctx, `
INSERT INTO map_prices (variant_id, currency, min_price_cents, enforcement_level)
VALUES ($1, 'USD', $2, $3)
`, v.VariantID, v.MAPCents, level)
	return err
}

func upsertPromotions(ctx context.Context, pool *pgxpool.Pool) error {
	const q = `
INSERT INTO promotions (id, name, code, type, percent, amount_cents, variant_ids, priority, stackable, min_subtotal_cents, currency)
VALUES
    ('promo-mug-10', 'Mugs 10% off', NULL, 'percentage', 0.10, 0, ARRAY['demo-mug-white'], 10, false, 0, 'USD'),
    ('promo-welcome', 'Welcome coupon', 'WELCOME5', 'fixed', 0, 500, '{}', 5, true, 3000, 'USD')
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name,
    code = EXCLUDED.code,
    type = EXCLUDED.type,
    percent = EXCLUDED.percent,
    amount_cents = EXCLUDED.amount_cents,
    variant_ids = EXCLUDED.variant_ids,
    priority = EXCLUDED.priority,
    stackable = EXCLUDED.stackable,
    min_subtotal_cents = EXCLUDED.min_subtotal_cents,
    archived = false
`
	_, err := pool.Exec(ctx, q)
	return err
}

func upsertTaxAndShipping(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `
INSERT INTO tax_rates (id, country, region, tax_class, rate)
VALUES
    ('us-standard', 'US', '', 'standard', 0.0700),
    ('us-ca-standard', 'US', 'CA', 'standard', 0.0725),
    ('us-reduced', 'US', '', 'reduced', 0.0000),
    ('us-shipping', 'US', '', 'shipping', 0.0700)
ON CONFLICT (id) DO UPDATE
SET rate = EXCLUDED.rate
`); err != nil {
		return err
	}
	_, err := pool.Exec(ctx, `
INSERT INTO shipping_rates (id, label, country, currency, amount_cents, free_above_cents, min_subtotal_cents)
VALUES
    ('us-ground', 'Ground', 'US', 'USD', 599, 5000, 0),
    ('us-express', 'Express', 'US', 'USD', 1999, 0, 0)
ON CONFLICT (id) DO UPDATE
SET amount_cents = EXCLUDED.amount_cents,
    free_above_cents = EXCLUDED.free_above_cents,
    min_subtotal_cents = EXCLUDED.min_subtotal_cents
`)
	return err
}

func upsertCurrencyRates(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
INSERT INTO currency_rates (base, quote, rate)
VALUES
    ('USD', 'EUR', 0.92000000),
    ('USD', 'GBP', 0.79000000)
ON CONFLICT (base, quote) DO UPDATE
SET rate = EXCLUDED.rate
`)
	return err
}
