package order

import (
	"context"
	"errors"
	"io"
	"log/slog"

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

const orderColumns = `id::text, lock_id::text, cart_id::text, customer_id, currency, grand_total_cents, price_hash,
       pricing_snapshot, status, created_at, updated_at`

func (r *postgresRepo) Create(ctx context.Context, lockID string, cart *domain.Cart, snapshot domain.PricingResult) (*domain.Order, error) {
	const q = `
INSERT INTO orders (lock_id, cart_id, customer_id, currency, grand_total_cents, price_hash, pricing_snapshot)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (lock_id) DO NOTHING
`
	if _, err := r.pool.Exec(ctx, q, lockID, cart.ID, cart.CustomerID, snapshot.Currency,
		snapshot.GrandTotalCents, snapshot.PriceHash, snapshot); err != nil {
		r.logger.ErrorContext(ctx, "order repo: create", "lock_id", lockID, "error", err)
		return nil, err
	}
	return r.GetByLockID(ctx, lockID)
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.one(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *postgresRepo) GetByLockID(ctx context.Context, lockID string) (*domain.Order, error) {
	return r.one(ctx, `SELECT `+orderColumns+` FROM orders WHERE lock_id = $1`, lockID)
}

func (r *postgresRepo) Cancel(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `
UPDATE orders SET status = 'cancelled', updated_at = now()
WHERE id = $1
`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *postgresRepo) one(ctx context.Context, q string, arg string) (*domain.Order, error) {
	var o domain.Order
	err := r.pool.QueryRow(ctx, q, arg).Scan(&o.ID, &o.LockID, &o.CartID, &o.CustomerID, &o.Currency,
		&o.GrandTotalCents, &o.PriceHash, &o.PricingSnapshot, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}
