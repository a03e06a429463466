package checkout

import (
	"context"

	"commerce-checkout/internal/domain"
)

// phase is one saga step. Execute runs the side effect that earns State; Compensate undoes
// it and must tolerate a side effect that never happened.
type phase interface {
	State() domain.CheckoutState
	Execute(ctx context.Context, at *attempt) error
	Compensate(ctx context.Context, at *attempt) error
}

// attempt is the working set of one run.
type attempt struct {
	lock               *domain.CheckoutLock
	cart               *domain.Cart
	expectedTotalCents int64
}

// snapshot is the pricing the attempt charges for: the locked one once prices are locked,
// the cart's stored snapshot before that.
func (a *attempt) snapshot() *domain.PricingResult {
	if a.lock.PricingSnapshot != nil {
		return a.lock.PricingSnapshot
	}
	return a.cart.PricingSnapshot
}
