// Package checkoutlock stores checkout locks. Acquire is linearized per cart and every state
// change is a compare-and-set on the previous state.
package checkoutlock

import (
	"context"
	"time"

	"commerce-checkout/internal/domain"
)

type Repository interface {
	// Acquire inserts lock unless the cart already has a live lock and preventConcurrent is
	// set, in which case it returns domain.ErrLockConflict. Expired locks of the cart are failed
	// first unless payment was captured; those still count as live. The cart must exist.
	Acquire(ctx context.Context, lock domain.CheckoutLock, preventConcurrent bool) (*domain.CheckoutLock, error)
	GetByID(ctx context.Context, id string) (*domain.CheckoutLock, error)
	// ActiveForCart returns the newest non-terminal lock of the cart, expired or not.
	ActiveForCart(ctx context.Context, cartID string) (*domain.CheckoutLock, error)
	// Save writes lock if its stored state is still from. A lost race returns domain.ErrLockConflict.
	Save(ctx context.Context, lock *domain.CheckoutLock, from domain.CheckoutState) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.CheckoutLock, error)
	CountExpired(ctx context.Context, now time.Time) (int, error)
	// CountStuck counts non-terminal locks acquired before lockedBefore.
	CountStuck(ctx context.Context, lockedBefore time.Time) (int, error)
}
