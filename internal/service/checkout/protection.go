package checkout

import (
	"context"
	"errors"

	"commerce-checkout/internal/domain"
)

// EnsureCartMutable returns domain.ErrCartLocked while a live checkout holds the cart.
// It always passes when cart protection is off.
func (o *Orchestrator) EnsureCartMutable(ctx context.Context, cartID string) error {
	if !o.cfg.EnableCartProtection {
		return nil
	}
	lock, err := o.deps.Locks.ActiveForCart(ctx, cartID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if lock.IsActive(o.now()) {
		return domain.ErrCartLocked
	}
	return nil
}
