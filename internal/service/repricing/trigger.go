// Package repricing decides when a cart mutation or catalog change invalidates a cart's
// pricing snapshot, and reprices it when auto reprice is on.
package repricing

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"commerce-checkout/internal/domain"
)

type cartStore interface {
	GetByID(ctx context.Context, id string) (*domain.Cart, error)
	MarkRequiresReprice(ctx context.Context, cartID string) error
}

type repricer interface {
	RepriceAndStore(ctx context.Context, cart *domain.Cart, trigger domain.RepriceTrigger) (*domain.PricingResult, error)
}

type expiryChecker interface {
	CheckPriceExpiration(cart *domain.Cart) bool
}

type Trigger struct {
	carts       cartStore
	engine      repricer
	expiry      expiryChecker
	autoReprice bool
	logger      *slog.Logger
}

func New(carts cartStore, engine repricer, expiry expiryChecker, autoReprice bool, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Trigger{carts: carts, engine: engine, expiry: expiry, autoReprice: autoReprice, logger: logger}
}

// ShouldReprice reports whether trigger invalidates cart's snapshot. Cart edits, promotion
// changes and explicit requests always do; address, stock and contract changes only once
// the snapshot has expired.
func (t *Trigger) ShouldReprice(cart *domain.Cart, trigger domain.RepriceTrigger) bool {
	if cart == nil || cart.IsEmpty() || cart.IsCompleted() {
		return false
	}
	switch trigger {
	case domain.TriggerQuantityChanged,
		domain.TriggerVariantChanged,
		domain.TriggerCustomerChanged,
		domain.TriggerCurrencyChanged,
		domain.TriggerPromotionActivated,
		domain.TriggerPromotionExpired,
		domain.TriggerManual,
		domain.TriggerCheckout:
		return true
	default:
		return t.expiry.CheckPriceExpiration(cart)
	}
}

// TriggerReprice marks cart for reprice and, with auto reprice on, reprices and stores the
// snapshot right away. A successful store clears the flag again. It returns the new result,
// or nil when nothing was repriced.
func (t *Trigger) TriggerReprice(ctx context.Context, cart *domain.Cart, trigger domain.RepriceTrigger) (*domain.PricingResult, error) {
	if !t.ShouldReprice(cart, trigger) {
		return nil, nil
	}
	cart.RequiresReprice = true
	if err := t.carts.MarkRequiresReprice(ctx, cart.ID); err != nil {
		return nil, fmt.Errorf("mark cart %s for reprice: %w", cart.ID, err)
	}
	if !t.autoReprice {
		t.logger.DebugContext(ctx, "repricing: cart marked", "cart_id", cart.ID, "trigger", trigger)
		return nil, nil
	}
	res, err := t.engine.RepriceAndStore(ctx, cart, trigger)
	if err != nil {
		return nil, fmt.Errorf("reprice cart %s: %w", cart.ID, err)
	}
	t.logger.InfoContext(ctx, "repricing: cart repriced", "cart_id", cart.ID, "trigger", trigger,
		"pricing_version", res.PricingVersion, "grand_total_cents", res.GrandTotalCents)
	return res, nil
}

// HandleEvent loads the event's cart and runs TriggerReprice. Catalog events without a
// cart are ignored here; they bump the pricing version, which integrity validation checks.
func (t *Trigger) HandleEvent(ctx context.Context, evt domain.CartEvent) error {
	if evt.CartID == "" {
		return nil
	}
	cart, err := t.carts.GetByID(ctx, evt.CartID)
	if err != nil {
		return fmt.Errorf("load cart %s: %w", evt.CartID, err)
	}
	_, err = t.TriggerReprice(ctx, cart, evt.Trigger)
	return err
}
