package checkout

import (
	"context"
	"fmt"

	"commerce-checkout/internal/domain"
)

type commitPhase struct{ o *Orchestrator }

func (commitPhase) State() domain.CheckoutState { return domain.CheckoutCommitting }

// Execute turns reserved stock into sold stock, closes the cart and announces the stock
// change for every variant sold.
func (p commitPhase) Execute(ctx context.Context, at *attempt) error {
	if err := p.o.deps.Stock.Commit(ctx, at.lock.ID); err != nil {
		return fmt.Errorf("commit stock: %w", err)
	}
	if err := p.o.deps.Carts.MarkCompleted(ctx, at.cart.ID); err != nil {
		return fmt.Errorf("complete cart: %w", err)
	}
	if p.o.deps.Events == nil {
		return nil
	}
	for _, item := range at.cart.StockItems() {
		evt := domain.CartEvent{
			Trigger:    domain.TriggerStockChanged,
			Context:    map[string]string{"variant_id": item.VariantID, "lock_id": at.lock.ID},
			OccurredAt: p.o.now().UTC(),
		}
		if err := p.o.deps.Events.Dispatch(ctx, evt); err != nil {
			p.o.logger.WarnContext(ctx, "checkout: dispatch stock change", "variant_id", item.VariantID, "error", err)
		}
	}
	return nil
}

func (commitPhase) Compensate(context.Context, *attempt) error { return nil }
