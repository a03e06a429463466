package checkout

import (
	"context"
	"errors"
	"fmt"

	"commerce-checkout/internal/domain"
)

type createOrderPhase struct{ o *Orchestrator }

func (createOrderPhase) State() domain.CheckoutState { return domain.CheckoutCreatingOrder }

func (p createOrderPhase) Execute(ctx context.Context, at *attempt) error {
	snap := at.snapshot()
	if snap == nil {
		return fmt.Errorf("no locked pricing: %w", ErrValidation)
	}
	order, err := p.o.deps.Orders.Create(ctx, at.lock.ID, at.cart, *snap)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	at.lock.OrderID = order.ID
	return nil
}

// Compensate cancels the order of the lock, looking it up when the lock never recorded it.
func (p createOrderPhase) Compensate(ctx context.Context, at *attempt) error {
	orderID := at.lock.OrderID
	if orderID == "" {
		order, err := p.o.deps.Orders.GetByLockID(ctx, at.lock.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		orderID = order.ID
	}
	return p.o.deps.Orders.Cancel(ctx, orderID)
}
