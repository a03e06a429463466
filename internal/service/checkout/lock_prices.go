package checkout

import (
	"context"
	"fmt"

	"commerce-checkout/internal/domain"
)

type lockPricesPhase struct{ o *Orchestrator }

func (lockPricesPhase) State() domain.CheckoutState { return domain.CheckoutLockingPrices }

// Execute copies the validated snapshot onto the lock together with the hash the engine
// stamped on it. A snapshot whose hash does not verify is never locked. The state commit
// persists both.
func (p lockPricesPhase) Execute(_ context.Context, at *attempt) error {
	snap := at.cart.PricingSnapshot
	if snap == nil {
		return fmt.Errorf("cart has no pricing: %w", ErrValidation)
	}
	if !p.o.deps.Integrity.VerifyPriceHash(at.cart) {
		return fmt.Errorf("lock prices for cart %s: %w", at.cart.ID, domain.ErrPriceMismatch)
	}
	locked := *snap
	at.lock.PricingSnapshot = &locked
	at.lock.PriceHash = locked.PriceHash
	return nil
}

func (lockPricesPhase) Compensate(context.Context, *attempt) error { return nil }
