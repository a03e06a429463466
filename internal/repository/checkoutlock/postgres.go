package checkoutlock

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

const lockColumns = `id::text, cart_id::text, user_id, state, locked_at, expires_at, completed_at, failed_at,
       failure_reason, pricing_snapshot, price_hash, authorization_id, order_id, updated_at`

const nonTerminal = `state NOT IN ('COMPLETED', 'FAILED')`

// releasable matches the states an expired lock may be failed from. Captured checkouts only
// move forward.
const releasable = `state NOT IN ('COMPLETED', 'FAILED', 'CAPTURING', 'COMMITTING')`

func (r *postgresRepo) Acquire(ctx context.Context, lock domain.CheckoutLock, preventConcurrent bool) (*domain.CheckoutLock, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// the cart row lock serializes concurrent acquires for the same cart
	var cartID string
	if err := tx.QueryRow(ctx, `SELECT id::text FROM carts WHERE id = $1 FOR UPDATE`, lock.CartID).Scan(&cartID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	now := lock.LockedAt
	released, err := tx.Exec(ctx, `
UPDATE checkout_locks
SET state = 'FAILED', failed_at = $2, failure_reason = 'expired', updated_at = $2
WHERE cart_id = $1 AND `+releasable+` AND expires_at < $2
`, lock.CartID, now)
	if err != nil {
		return nil, err
	}
	if n := released.RowsAffected(); n > 0 {
		r.logger.InfoContext(ctx, "checkout lock repo: expired locks released", "cart_id", lock.CartID, "count", n)
	}

	if preventConcurrent {
		var live bool
		err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM checkout_locks WHERE cart_id = $1 AND `+nonTerminal+`)`, lock.CartID).Scan(&live)
		if err != nil {
			return nil, err
		}
		if live {
			return nil, domain.ErrLockConflict
		}
	}

	const insert = `
INSERT INTO checkout_locks (id, cart_id, user_id, state, locked_at, expires_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + lockColumns
	created, err := scanLock(tx.QueryRow(ctx, insert, lock.ID, lock.CartID, lock.UserID, lock.State, lock.LockedAt, lock.ExpiresAt, lock.UpdatedAt))
	if err != nil {
		r.logger.ErrorContext(ctx, "checkout lock repo: insert", "cart_id", lock.CartID, "error", err)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*domain.CheckoutLock, error) {
	lock, err := scanLock(r.pool.QueryRow(ctx, `SELECT `+lockColumns+` FROM checkout_locks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return lock, err
}

func (r *postgresRepo) ActiveForCart(ctx context.Context, cartID string) (*domain.CheckoutLock, error) {
	q := `SELECT ` + lockColumns + ` FROM checkout_locks WHERE cart_id = $1 AND ` + nonTerminal + ` ORDER BY locked_at DESC LIMIT 1`
	lock, err := scanLock(r.pool.QueryRow(ctx, q, cartID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return lock, err
}

func (r *postgresRepo) Save(ctx context.Context, lock *domain.CheckoutLock, from domain.CheckoutState) error {
	const q = `
UPDATE checkout_locks
SET state = $3,
    expires_at = $4,
    completed_at = $5,
    failed_at = $6,
    failure_reason = $7,
    pricing_snapshot = $8,
    price_hash = $9,
    authorization_id = $10,
    order_id = $11,
    updated_at = $12
WHERE id = $1 AND state = $2
`
	cmd, err := r.pool.Exec(ctx, q, lock.ID, from, lock.State, lock.ExpiresAt, lock.CompletedAt, lock.FailedAt,
		lock.FailureReason, lock.PricingSnapshot, lock.PriceHash, lock.AuthorizationID, lock.OrderID, lock.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM checkout_locks WHERE id = $1)`, lock.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrLockConflict
}

func (r *postgresRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.CheckoutLock, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + lockColumns + ` FROM checkout_locks WHERE ` + nonTerminal + ` AND expires_at < $1 ORDER BY expires_at ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CheckoutLock
	for rows.Next() {
		lock, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *lock)
	}
	return out, rows.Err()
}

func (r *postgresRepo) CountExpired(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM checkout_locks WHERE `+nonTerminal+` AND expires_at < $1`, now).Scan(&n)
	return n, err
}

func (r *postgresRepo) CountStuck(ctx context.Context, lockedBefore time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM checkout_locks WHERE `+nonTerminal+` AND locked_at < $1`, lockedBefore).Scan(&n)
	return n, err
}

func scanLock(row pgx.Row) (*domain.CheckoutLock, error) {
	var l domain.CheckoutLock
	if err := row.Scan(
		&l.ID,
		&l.CartID,
		&l.UserID,
		&l.State,
		&l.LockedAt,
		&l.ExpiresAt,
		&l.CompletedAt,
		&l.FailedAt,
		&l.FailureReason,
		&l.PricingSnapshot,
		&l.PriceHash,
		&l.AuthorizationID,
		&l.OrderID,
		&l.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &l, nil
}
