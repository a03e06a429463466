package cart

import (
	"context"
	"time"

	"commerce-checkout/internal/domain"
)

type CreateCartInput struct {
	CustomerID *string
	CompanyID  *string
	Currency   string
	Channel    string
}

type Repository interface {
	Create(ctx context.Context, in CreateCartInput) (*domain.Cart, error)
	GetByID(ctx context.Context, id string) (*domain.Cart, error)

	AddLine(ctx context.Context, cartID, productID, variantID string, quantity int) (*domain.CartLine, error)
	ChangeLineQuantity(ctx context.Context, cartID, lineID string, quantity int) error
	ChangeLineVariant(ctx context.Context, cartID, lineID, variantID string) error
	SetAddress(ctx context.Context, cartID string, addr domain.Address) error
	SetCurrency(ctx context.Context, cartID, currency string) error
	SetCustomer(ctx context.Context, cartID string, customerID, companyID *string) error
	ApplyCoupon(ctx context.Context, cartID, code string) error

	MarkRequiresReprice(ctx context.Context, cartID string) error
	// SaveSnapshot stores a pricing snapshot unless a snapshot with a higher pricing version
	// is already stored. basedOn is the cart's UpdatedAt the snapshot was computed from; a cart
	// mutated since then stays flagged for reprice. It reports whether the write won.
	SaveSnapshot(ctx context.Context, cartID string, snap domain.PricingResult, repricedAt, basedOn time.Time) (bool, error)
	MarkCompleted(ctx context.Context, cartID string) error
}
