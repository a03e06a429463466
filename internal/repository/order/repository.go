package order

import (
	"context"

	"commerce-checkout/internal/domain"
)

type Repository interface {
	// Create writes the order of a checkout. A second call with the same lockID returns the
	// existing order.
	Create(ctx context.Context, lockID string, cart *domain.Cart, snapshot domain.PricingResult) (*domain.Order, error)
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByLockID(ctx context.Context, lockID string) (*domain.Order, error)
	// Cancel marks the order cancelled. Cancelling a cancelled order is a no-op.
	Cancel(ctx context.Context, id string) error
}
