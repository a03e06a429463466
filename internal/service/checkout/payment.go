package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commerce-checkout/internal/domain"
)

// withPaymentTimeout runs call under timeout and reports a hit deadline as a payment timeout.
func withPaymentTimeout(ctx context.Context, timeout time.Duration, call func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := call(ctx)
	if err != nil && !errors.Is(err, domain.ErrPaymentTimeout) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, domain.ErrPaymentTimeout)
	}
	return err
}

type authorizePhase struct{ o *Orchestrator }

func (authorizePhase) State() domain.CheckoutState { return domain.CheckoutAuthorizing }

func (p authorizePhase) Execute(ctx context.Context, at *attempt) error {
	snap := at.snapshot()
	if snap == nil {
		return fmt.Errorf("no locked pricing: %w", ErrValidation)
	}
	return withPaymentTimeout(ctx, p.o.cfg.AuthorizationTimeout, func(ctx context.Context) error {
		id, err := p.o.deps.Payments.Authorize(ctx, at.lock.ID, snap.GrandTotalCents, snap.Currency)
		if err != nil {
			return err
		}
		at.lock.AuthorizationID = id
		return nil
	})
}

func (p authorizePhase) Compensate(ctx context.Context, at *attempt) error {
	return p.o.deps.Payments.Void(ctx, at.lock.ID)
}

type capturePhase struct{ o *Orchestrator }

func (capturePhase) State() domain.CheckoutState { return domain.CheckoutCapturing }

func (p capturePhase) Execute(ctx context.Context, at *attempt) error {
	return withPaymentTimeout(ctx, p.o.cfg.CaptureTimeout, func(ctx context.Context) error {
		return p.o.deps.Payments.Capture(ctx, at.lock.ID)
	})
}

func (p capturePhase) Compensate(ctx context.Context, at *attempt) error {
	return p.o.deps.Payments.Refund(ctx, at.lock.ID)
}
