package stock

import (
	"context"
	"errors"
	"fmt"
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

func (r *postgresRepo) Reserve(ctx context.Context, lockID string, items []domain.StockItem) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, item := range items {
		var held bool
		err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_reservations WHERE lock_id = $1 AND variant_id = $2)`,
			lockID, item.VariantID).Scan(&held)
		if err != nil {
			return err
		}
		if held {
			continue
		}

		cmd, err := tx.Exec(ctx, `
UPDATE stock_levels
SET reserved = reserved + $2
WHERE variant_id = $1 AND on_hand - reserved >= $2
`, item.VariantID, item.Quantity)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return fmt.Errorf("variant %s: %w", item.VariantID, domain.ErrInsufficientStock)
		}

		if _, err := tx.Exec(ctx, `
INSERT INTO stock_reservations (lock_id, variant_id, quantity, status)
VALUES ($1, $2, $3, 'reserved')
`, lockID, item.VariantID, item.Quantity); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *postgresRepo) Release(ctx context.Context, lockID string) error {
	const q = `
WITH released AS (
    UPDATE stock_reservations
    SET status = 'released', updated_at = now()
    WHERE lock_id = $1 AND status = 'reserved'
    RETURNING variant_id, quantity
)
UPDATE stock_levels s
SET reserved = s.reserved - released.quantity
FROM released
WHERE s.variant_id = released.variant_id
`
	cmd, err := r.pool.Exec(ctx, q, lockID)
	if err != nil {
		r.logger.ErrorContext(ctx, "stock repo: release", "lock_id", lockID, "error", err)
		return err
	}
	r.logger.DebugContext(ctx, "stock repo: released", "lock_id", lockID, "variants", cmd.RowsAffected())
	return nil
}

func (r *postgresRepo) Commit(ctx context.Context, lockID string) error {
	const q = `
WITH committed AS (
    UPDATE stock_reservations
    SET status = 'committed', updated_at = now()
    WHERE lock_id = $1 AND status = 'reserved'
    RETURNING variant_id, quantity
)
UPDATE stock_levels s
SET on_hand = s.on_hand - committed.quantity,
    reserved = s.reserved - committed.quantity
FROM committed
WHERE s.variant_id = committed.variant_id
`
	if _, err := r.pool.Exec(ctx, q, lockID); err != nil {
		r.logger.ErrorContext(ctx, "stock repo: commit", "lock_id", lockID, "error", err)
		return err
	}
	return nil
}

func (r *postgresRepo) SetLevel(ctx context.Context, variantID string, onHand int) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO stock_levels (variant_id, on_hand) VALUES ($1, $2)
ON CONFLICT (variant_id) DO UPDATE SET on_hand = EXCLUDED.on_hand
`, variantID, onHand)
	return err
}

func (r *postgresRepo) Available(ctx context.Context, variantID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT on_hand - reserved FROM stock_levels WHERE variant_id = $1`, variantID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	return n, err
}
