package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"commerce-checkout/internal/domain"
)

var ErrValidation = errors.New("cart validation failed")

type validatePhase struct{ o *Orchestrator }

func (validatePhase) State() domain.CheckoutState { return domain.CheckoutValidating }

// Execute validates the stored snapshot, reprices when it is stale or tampered with and
// rejects a grand total that drifted from the confirmed one.
func (p validatePhase) Execute(ctx context.Context, at *attempt) error {
	cart := at.cart
	if cart.IsCompleted() {
		return ErrCartCompleted
	}
	if cart.IsEmpty() {
		return domain.ErrEmptyCart
	}

	// an unverified stored total is not something the shopper confirmed
	expected := at.expectedTotalCents
	if expected == 0 && p.o.deps.Integrity.VerifyPriceHash(cart) {
		expected = cart.PricingSnapshot.GrandTotalCents
	}

	res := p.o.deps.Integrity.ValidateCartPrices(ctx, cart)
	if res.RequiresReprice || cart.RequiresReprice {
		fresh, err := p.o.deps.Pricer.RepriceAndStore(ctx, cart, domain.TriggerCheckout)
		if err != nil {
			return fmt.Errorf("reprice: %w", err)
		}
		// The store keeps whichever snapshot wins last-writer-wins; checkout continues with
		// the one just computed either way.
		repricedAt := fresh.CalculatedAt
		cart.PricingSnapshot = fresh
		cart.LastRepricedAt = &repricedAt
		cart.RequiresReprice = false
		res = p.o.deps.Integrity.ValidateCartPrices(ctx, cart)
	}
	if !res.IsValid {
		return fmt.Errorf("%s: %w", strings.Join(res.Errors, "; "), ErrValidation)
	}
	if cart.PricingSnapshot == nil {
		return fmt.Errorf("cart has no pricing: %w", ErrValidation)
	}
	if !p.o.deps.Integrity.VerifyPriceHash(cart) {
		return fmt.Errorf("cart %s: %w", cart.ID, domain.ErrPriceMismatch)
	}

	actual := cart.PricingSnapshot.GrandTotalCents
	if expected != 0 && abs(actual-expected) > p.o.cfg.PriceDriftToleranceCents {
		return &domain.PriceChangedError{ExpectedCents: expected, ActualCents: actual}
	}
	return nil
}

func (validatePhase) Compensate(context.Context, *attempt) error { return nil }

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
