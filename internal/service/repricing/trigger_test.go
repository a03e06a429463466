package repricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"commerce-checkout/internal/cache"
	"commerce-checkout/internal/config"
	"commerce-checkout/internal/domain"
	"commerce-checkout/internal/pricingcache"
	cartrepo "commerce-checkout/internal/repository/cart"
	pricingrepo "commerce-checkout/internal/repository/pricing"
	"commerce-checkout/internal/service/integrity"
	"commerce-checkout/internal/service/pricing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingCarts struct {
	*cartrepo.Memory
	marked []string
}

func (r *recordingCarts) MarkRequiresReprice(ctx context.Context, cartID string) error {
	r.marked = append(r.marked, cartID)
	return r.Memory.MarkRequiresReprice(ctx, cartID)
}

type env struct {
	rules   *pricingrepo.Memory
	carts   *recordingCarts
	guard   *integrity.Service
	trigger *Trigger
}

func newEnv(t *testing.T, autoReprice bool) *env {
	t.Helper()
	rules := pricingrepo.NewMemory()
	rules.SetBasePrice(domain.BasePrice{VariantID: "v1", Currency: "USD", AmountCents: 1000})
	carts := &recordingCarts{Memory: cartrepo.NewMemory().WithClock(func() time.Time { return testNow })}
	guard := integrity.New(rules, integrity.Options{Expiration: 24 * time.Hour}, nil).WithClock(func() time.Time { return testNow })
	engine, err := pricing.New(pricing.Deps{
		Inputs:    pricingcache.New(cache.NewMemoryStore(), rules, pricingcache.Options{Versioning: true}, nil, nil),
		Taxes:     rules,
		Shipping:  pricing.NewRateTable(rules),
		Versions:  rules,
		Guard:     guard,
		Snapshots: carts,
	}, pricing.Options{Discounts: config.Discounts{}}, nil)
	require.NoError(t, err)
	engine.WithClock(func() time.Time { return testNow })
	return &env{rules: rules, carts: carts, guard: guard, trigger: New(carts, engine, guard, autoReprice, nil)}
}

// pricedCart stores a cart whose snapshot is fresh and clean at pricing version 1.
func (e *env) pricedCart(t *testing.T) *domain.Cart {
	t.Helper()
	ctx := context.Background()
	created, err := e.carts.Create(ctx, cartrepo.CreateCartInput{Currency: "USD"})
	require.NoError(t, err)
	_, err = e.carts.AddLine(ctx, created.ID, "p1", "v1", 1)
	require.NoError(t, err)
	_, err = e.rules.Bump(ctx)
	require.NoError(t, err)

	cart, err := e.carts.GetByID(ctx, created.ID)
	require.NoError(t, err)
	_, err = e.trigger.engine.RepriceAndStore(ctx, cart, domain.TriggerManual)
	require.NoError(t, err)

	cart, err = e.carts.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, cart.RequiresReprice)
	require.Equal(t, int64(1), cart.PricingVersion())
	e.carts.marked = nil
	return cart
}

func TestShouldReprice(t *testing.T) {
	e := newEnv(t, false)
	fresh := testNow.Add(-time.Hour)
	stale := testNow.Add(-48 * time.Hour)
	cart := func(repriced time.Time) *domain.Cart {
		return &domain.Cart{ID: "c", Status: domain.CartStatusActive, LastRepricedAt: &repriced,
			Lines: []domain.CartLine{{ID: "l1", VariantID: "v1", Quantity: 1}}}
	}

	always := []domain.RepriceTrigger{
		domain.TriggerQuantityChanged, domain.TriggerVariantChanged, domain.TriggerCustomerChanged,
		domain.TriggerCurrencyChanged, domain.TriggerPromotionActivated, domain.TriggerPromotionExpired,
	}
	for _, tr := range always {
		assert.True(t, e.trigger.ShouldReprice(cart(fresh), tr), tr)
	}

	onlyWhenExpired := []domain.RepriceTrigger{
		domain.TriggerAddressChanged, domain.TriggerStockChanged, domain.TriggerContractValidityChanged,
	}
	for _, tr := range onlyWhenExpired {
		assert.False(t, e.trigger.ShouldReprice(cart(fresh), tr), tr)
		assert.True(t, e.trigger.ShouldReprice(cart(stale), tr), tr)
	}

	assert.False(t, e.trigger.ShouldReprice(&domain.Cart{ID: "empty"}, domain.TriggerQuantityChanged))
	done := cart(fresh)
	done.Status = domain.CartStatusCompleted
	assert.False(t, e.trigger.ShouldReprice(done, domain.TriggerQuantityChanged))
}

func TestQuantityChangedMarksCartWithoutAutoReprice(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	cart := e.pricedCart(t)

	res, err := e.trigger.TriggerReprice(ctx, cart, domain.TriggerQuantityChanged)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.True(t, cart.RequiresReprice)

	stored, err := e.carts.GetByID(ctx, cart.ID)
	require.NoError(t, err)
	assert.True(t, stored.RequiresReprice)
	assert.Equal(t, int64(1), stored.PricingVersion())
}

func TestQuantityChangedRepricesWithAutoReprice(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	cart := e.pricedCart(t)

	line := cart.Lines[0]
	require.NoError(t, e.carts.ChangeLineQuantity(ctx, cart.ID, line.ID, 3))
	_, err := e.rules.Bump(ctx)
	require.NoError(t, err)
	cart, err = e.carts.GetByID(ctx, cart.ID)
	require.NoError(t, err)

	require.NoError(t, e.trigger.HandleEvent(ctx, domain.CartEvent{Trigger: domain.TriggerQuantityChanged, CartID: cart.ID}))
	assert.Equal(t, []string{cart.ID}, e.carts.marked)

	stored, err := e.carts.GetByID(ctx, cart.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PricingSnapshot)
	assert.Equal(t, int64(2), stored.PricingVersion())
	assert.Equal(t, int64(3000), stored.PricingSnapshot.GrandTotalCents)
	assert.True(t, e.guard.VerifyPriceHash(stored))
}

func TestAddressChangedOnFreshCartIsIgnored(t *testing.T) {
	e := newEnv(t, true)
	cart := e.pricedCart(t)

	res, err := e.trigger.TriggerReprice(context.Background(), cart, domain.TriggerAddressChanged)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, e.carts.marked)
}

func TestHandleEventSkipsEventsWithoutCart(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	cart := e.pricedCart(t)

	// catalog events reach carts through the pricing version, not through this handler
	_, err := e.rules.Bump(ctx)
	require.NoError(t, err)
	require.NoError(t, e.trigger.HandleEvent(ctx, domain.CartEvent{Trigger: domain.TriggerPriceChanged}))
	assert.Empty(t, e.carts.marked)

	stored, err := e.carts.GetByID(ctx, cart.ID)
	require.NoError(t, err)
	res := e.guard.ValidateCartPrices(ctx, stored)
	assert.True(t, res.RequiresReprice, "snapshot at v1 is outdated once the catalog moves to v2")

	err = e.trigger.HandleEvent(ctx, domain.CartEvent{Trigger: domain.TriggerQuantityChanged, CartID: "nope"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
