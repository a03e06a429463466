// Package stock holds inventory for checkouts. Every operation is keyed by the checkout
// lock id and is safe to repeat.
package stock

import (
	"context"

	"commerce-checkout/internal/domain"
)

type Repository interface {
	// Reserve holds items for lockID. Items already reserved under lockID are skipped.
	// It returns domain.ErrInsufficientStock when a variant cannot cover its quantity and
	// then holds nothing new.
	Reserve(ctx context.Context, lockID string, items []domain.StockItem) error
	// Release returns everything still reserved under lockID.
	Release(ctx context.Context, lockID string) error
	// Commit turns the reservations of lockID into sold stock.
	Commit(ctx context.Context, lockID string) error
	SetLevel(ctx context.Context, variantID string, onHand int) error
	Available(ctx context.Context, variantID string) (int, error)
}
