package pricing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"commerce-checkout/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) Repository {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &postgresRepo{pool: pool, logger: logger}
}

func (r *postgresRepo) AttributeMetadata(ctx context.Context, productID string) (domain.AttributeMetadata, error) {
	const q = `
SELECT product_id, tax_class, map_protected, attributes
FROM product_attributes
WHERE product_id = $1
`
	meta := domain.AttributeMetadata{ProductID: productID}
	err := r.pool.QueryRow(ctx, q, productID).Scan(&meta.ProductID, &meta.TaxClass, &meta.MAPProtected, &meta.Attributes)
	if errors.Is(err, pgx.ErrNoRows) {
		meta.TaxClass = "standard"
		return meta, nil
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "pricing repo: attribute metadata", "product_id", productID, "error", err)
		return domain.AttributeMetadata{}, err
	}
	return meta, nil
}

func (r *postgresRepo) VariantAvailability(ctx context.Context, productID string) (domain.VariantAvailability, error) {
	const q = `
SELECT variant_id, sellable
FROM variant_availability
WHERE product_id = $1
`
	rows, err := r.pool.Query(ctx, q, productID)
	if err != nil {
		return domain.VariantAvailability{}, err
	}
	defer rows.Close()

	out := domain.VariantAvailability{ProductID: productID, Sellable: map[string]bool{}}
	for rows.Next() {
		var variantID string
		var sellable bool
		if err := rows.Scan(&variantID, &sellable); err != nil {
			return domain.VariantAvailability{}, err
		}
		out.Sellable[variantID] = sellable
	}
	return out, rows.Err()
}

func (r *postgresRepo) BasePrice(ctx context.Context, variantID, currency string) (domain.BasePrice, error) {
	const q = `
SELECT variant_id, currency, amount_cents, tiers
FROM base_prices
WHERE variant_id = $1 AND currency = $2
`
	var bp domain.BasePrice
	err := r.pool.QueryRow(ctx, q, variantID, currency).Scan(&bp.VariantID, &bp.Currency, &bp.AmountCents, &bp.Tiers)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BasePrice{}, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "pricing repo: base price", "variant_id", variantID, "currency", currency, "error", err)
		return domain.BasePrice{}, err
	}
	return bp, nil
}

func (r *postgresRepo) ContractPrices(ctx context.Context, companyID, currency string) ([]domain.ContractPrice, error) {
	const q = `
SELECT contract_id, version, variant_id, amount_cents, valid_from, valid_to
FROM contract_prices
WHERE company_id = $1 AND currency = $2
ORDER BY variant_id, version DESC
`
	rows, err := r.pool.Query(ctx, q, companyID, currency)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ContractPrice
	for rows.Next() {
		var cp domain.ContractPrice
		if err := rows.Scan(&cp.ContractID, &cp.Version, &cp.VariantID, &cp.AmountCents, &cp.ValidFrom, &cp.ValidTo); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (r *postgresRepo) Promotions(ctx context.Context, currency, channel string) ([]domain.Promotion, error) {
	const q = `
SELECT id, version, name, COALESCE(code, ''), type, percent::text, amount_cents, variant_ids,
       priority, stackable, min_subtotal_cents, starts_at, ends_at
FROM promotions
WHERE currency = $1 AND (channel IS NULL OR channel = $2) AND NOT archived
ORDER BY priority DESC, id
`
	rows, err := r.pool.Query(ctx, q, currency, channel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Promotion
	for rows.Next() {
		var p domain.Promotion
		var percent string
		if err := rows.Scan(&p.ID, &p.Version, &p.Name, &p.Code, &p.Type, &percent, &p.AmountCents, &p.VariantIDs,
			&p.Priority, &p.Stackable, &p.MinSubtotalCents, &p.StartsAt, &p.EndsAt); err != nil {
			return nil, err
		}
		if p.Percent, err = decimal.NewFromString(percent); err != nil {
			return nil, fmt.Errorf("promotion %s percent: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *postgresRepo) CurrencyRates(ctx context.Context, base string) (domain.CurrencyRates, error) {
	const q = `
SELECT quote, rate::text
FROM currency_rates
WHERE base = $1
`
	rows, err := r.pool.Query(ctx, q, base)
	if err != nil {
		return domain.CurrencyRates{}, err
	}
	defer rows.Close()

	out := domain.CurrencyRates{Base: base, Rates: map[string]decimal.Decimal{}}
	for rows.Next() {
		var quote, rate string
		if err := rows.Scan(&quote, &rate); err != nil {
			return domain.CurrencyRates{}, err
		}
		d, err := decimal.NewFromString(rate)
		if err != nil {
			return domain.CurrencyRates{}, fmt.Errorf("rate %s/%s: %w", base, quote, err)
		}
		out.Rates[quote] = d
	}
	return out, rows.Err()
}

func (r *postgresRepo) TaxRate(ctx context.Context, addr domain.Address, taxClass string) (domain.TaxRate, error) {
	const q = `
SELECT id, country, region, tax_class, rate::text
FROM tax_rates
WHERE country = $1 AND tax_class = $2 AND (region = '' OR region = $3)
ORDER BY (region = $3) DESC
LIMIT 1
`
	var tr domain.TaxRate
	var rate string
	err := r.pool.QueryRow(ctx, q, addr.Country, taxClass, addr.Region).Scan(&tr.ID, &tr.Country, &tr.Region, &tr.TaxClass, &rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TaxRate{}, domain.ErrNotFound
		}
		return domain.TaxRate{}, err
	}
	if tr.Rate, err = decimal.NewFromString(rate); err != nil {
		return domain.TaxRate{}, fmt.Errorf("tax rate %s: %w", tr.ID, err)
	}
	return tr, nil
}

func (r *postgresRepo) ShippingRates(ctx context.Context, country, currency string) ([]domain.ShippingRate, error) {
	const q = `
SELECT id, label, country, currency, amount_cents, free_above_cents, min_subtotal_cents
FROM shipping_rates
WHERE country = $1 AND currency = $2
ORDER BY amount_cents, id
`
	rows, err := r.pool.Query(ctx, q, country, currency)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ShippingRate
	for rows.Next() {
		var s domain.ShippingRate
		if err := rows.Scan(&s.ID, &s.Label, &s.Country, &s.Currency, &s.AmountCents, &s.FreeAboveCents, &s.MinSubtotalCents); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *postgresRepo) MapPrices(ctx context.Context, variantID, currency string) ([]domain.MapPrice, error) {
	const q = `
SELECT id::text, variant_id, currency, channel, min_price_cents, enforcement_level, valid_from, valid_to
FROM map_prices
WHERE variant_id = $1 AND currency = $2
`
	rows, err := r.pool.Query(ctx, q, variantID, currency)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MapPrice
	for rows.Next() {
		var m domain.MapPrice
		if err := rows.Scan(&m.ID, &m.VariantID, &m.Currency, &m.Channel, &m.MinPriceCents, &m.EnforcementLevel, &m.ValidFrom, &m.ValidTo); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *postgresRepo) UpsertBasePrice(ctx context.Context, bp domain.BasePrice) error {
	const q = `
INSERT INTO base_prices (variant_id, currency, amount_cents, tiers)
VALUES ($1, $2, $3, $4)
ON CONFLICT (variant_id, currency) DO UPDATE
SET amount_cents = EXCLUDED.amount_cents,
    tiers = EXCLUDED.tiers
`
	tiers := bp.Tiers
	if tiers == nil {
		tiers = []domain.PriceTier{}
	}
	if _, err := r.pool.Exec(ctx, q, bp.VariantID, bp.Currency, bp.AmountCents, tiers); err != nil {
		r.logger.ErrorContext(ctx, "pricing repo: upsert base price", "variant_id", bp.VariantID, "currency", bp.Currency, "error", err)
		return err
	}
	return nil
}

func (r *postgresRepo) CurrentVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := r.pool.QueryRow(ctx, `SELECT version FROM pricing_versions WHERE id = 1`).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}

func (r *postgresRepo) Bump(ctx context.Context) (int64, error) {
	const q = `
INSERT INTO pricing_versions (id, version) VALUES (1, 1)
ON CONFLICT (id) DO UPDATE SET version = pricing_versions.version + 1
RETURNING version
`
	var v int64
	if err := r.pool.QueryRow(ctx, q).Scan(&v); err != nil {
		r.logger.ErrorContext(ctx, "pricing repo: bump version", "error", err)
		return 0, err
	}
	return v, nil
}
