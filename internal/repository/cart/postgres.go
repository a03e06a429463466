package cart

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"commerce-checkout/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
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

const cartColumns = `id::text, customer_id, company_id, currency, channel, shipping_address, coupon_codes, status,
       requires_reprice, last_repriced_at, pricing_snapshot, created_at, updated_at`

func (r *postgresRepo) Create(ctx context.Context, in CreateCartInput) (*domain.Cart, error) {
	channel := in.Channel
	if channel == "" {
		channel = "web"
	}
	q := `
INSERT INTO carts (customer_id, company_id, currency, channel)
VALUES ($1, $2, $3, $4)
RETURNING ` + cartColumns
	cart, err := scanCart(r.pool.QueryRow(ctx, q, in.CustomerID, in.CompanyID, in.Currency, channel))
	if err != nil {
		r.logger.ErrorContext(ctx, "cart repo: create", "error", err)
		return nil, err
	}
	return cart, nil
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*domain.Cart, error) {
	q := `SELECT ` + cartColumns + ` FROM carts WHERE id = $1`
	cart, err := scanCart(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	const linesQuery = `
SELECT id::text, cart_id::text, product_id, variant_id, quantity, created_at
FROM cart_lines
WHERE cart_id = $1
ORDER BY created_at ASC, id ASC
`
	rows, err := r.pool.Query(ctx, linesQuery, cart.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.ID, &line.CartID, &line.ProductID, &line.VariantID, &line.Quantity, &line.CreatedAt); err != nil {
			return nil, err
		}
		cart.Lines = append(cart.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cart, nil
}

func (r *postgresRepo) AddLine(ctx context.Context, cartID, productID, variantID string, quantity int) (*domain.CartLine, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	line := domain.CartLine{CartID: cartID, ProductID: productID, VariantID: variantID}
	err = tx.QueryRow(ctx, `
UPDATE cart_lines
SET quantity = quantity + $3
WHERE cart_id = $1 AND variant_id = $2
RETURNING id::text, quantity, created_at
`, cartID, variantID, quantity).Scan(&line.ID, &line.Quantity, &line.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		err = tx.QueryRow(ctx, `
INSERT INTO cart_lines (cart_id, product_id, variant_id, quantity)
VALUES ($1, $2, $3, $4)
RETURNING id::text, quantity, created_at
`, cartID, productID, variantID, quantity).Scan(&line.ID, &line.Quantity, &line.CreatedAt)
	}
	if err != nil {
		return nil, err
	}
	if err := touch(ctx, tx, cartID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &line, nil
}

func (r *postgresRepo) ChangeLineQuantity(ctx context.Context, cartID, lineID string, quantity int) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var q string
	args := []any{lineID, cartID}
	if quantity <= 0 {
		q = `DELETE FROM cart_lines WHERE id = $1 AND cart_id = $2`
	} else {
		q = `UPDATE cart_lines SET quantity = $3 WHERE id = $1 AND cart_id = $2`
		args = append(args, quantity)
	}
	cmd, err := tx.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	if err := touch(ctx, tx, cartID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *postgresRepo) ChangeLineVariant(ctx context.Context, cartID, lineID, variantID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx, `UPDATE cart_lines SET variant_id = $3 WHERE id = $1 AND cart_id = $2`, lineID, cartID, variantID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	if err := touch(ctx, tx, cartID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *postgresRepo) SetAddress(ctx context.Context, cartID string, addr domain.Address) error {
	return r.updateCart(ctx, `UPDATE carts SET shipping_address = $2, requires_reprice = true, updated_at = now() WHERE id = $1`, cartID, addr)
}

func (r *postgresRepo) SetCurrency(ctx context.Context, cartID, currency string) error {
	return r.updateCart(ctx, `UPDATE carts SET currency = $2, requires_reprice = true, updated_at = now() WHERE id = $1`, cartID, currency)
}

func (r *postgresRepo) SetCustomer(ctx context.Context, cartID string, customerID, companyID *string) error {
	return r.updateCart(ctx, `
UPDATE carts
SET customer_id = $2, company_id = $3, requires_reprice = true, updated_at = now()
WHERE id = $1
`, cartID, customerID, companyID)
}

func (r *postgresRepo) ApplyCoupon(ctx context.Context, cartID, code string) error {
	return r.updateCart(ctx, `
UPDATE carts
SET coupon_codes = CASE WHEN $2 = ANY(coupon_codes) THEN coupon_codes ELSE array_append(coupon_codes, $2) END,
    requires_reprice = true,
    updated_at = now()
WHERE id = $1
`, cartID, code)
}

func (r *postgresRepo) MarkRequiresReprice(ctx context.Context, cartID string) error {
	return r.updateCart(ctx, `UPDATE carts SET requires_reprice = true WHERE id = $1`, cartID)
}

func (r *postgresRepo) SaveSnapshot(ctx context.Context, cartID string, snap domain.PricingResult, repricedAt, basedOn time.Time) (bool, error) {
	const q = `
UPDATE carts
SET pricing_snapshot = $2,
    pricing_version = $3,
    price_hash = $4,
    last_repriced_at = $5,
    requires_reprice = updated_at > $6
WHERE id = $1 AND pricing_version <= $3
`
	cmd, err := r.pool.Exec(ctx, q, cartID, snap, snap.PricingVersion, snap.PriceHash, repricedAt, basedOn)
	if err != nil {
		r.logger.ErrorContext(ctx, "cart repo: save snapshot", "cart_id", cartID, "error", err)
		return false, err
	}
	if cmd.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM carts WHERE id = $1)`, cartID).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, domain.ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (r *postgresRepo) MarkCompleted(ctx context.Context, cartID string) error {
	return r.updateCart(ctx, `UPDATE carts SET status = 'completed', updated_at = now() WHERE id = $1`, cartID)
}

func (r *postgresRepo) updateCart(ctx context.Context, q string, args ...any) error {
	cmd, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// touch flags the cart for reprice after a line change.
func touch(ctx context.Context, tx pgx.Tx, cartID string) error {
	cmd, err := tx.Exec(ctx, `UPDATE carts SET requires_reprice = true, updated_at = now() WHERE id = $1`, cartID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanCart(row pgx.Row) (*domain.Cart, error) {
	var cart domain.Cart
	if err := row.Scan(
		&cart.ID,
		&cart.CustomerID,
		&cart.CompanyID,
		&cart.Currency,
		&cart.Channel,
		&cart.ShippingAddress,
		&cart.CouponCodes,
		&cart.Status,
		&cart.RequiresReprice,
		&cart.LastRepricedAt,
		&cart.PricingSnapshot,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &cart, nil
}
