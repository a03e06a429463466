package checkout

import (
	"context"

	"commerce-checkout/internal/domain"
)

type reservePhase struct{ o *Orchestrator }

func (reservePhase) State() domain.CheckoutState { return domain.CheckoutReserving }

func (p reservePhase) Execute(ctx context.Context, at *attempt) error {
	return p.o.deps.Stock.Reserve(ctx, at.lock.ID, at.cart.StockItems())
}

func (p reservePhase) Compensate(ctx context.Context, at *attempt) error {
	return p.o.deps.Stock.Release(ctx, at.lock.ID)
}
