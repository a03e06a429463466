package events

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
	"commerce-checkout/internal/service/repricing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// wiring mirrors cmd/api: cache invalidation runs before cart repricing.
type wiring struct {
	rules      *pricingrepo.Memory
	carts      *cartrepo.Memory
	engine     *pricing.Engine
	dispatcher *Dispatcher
}

func newWiring(t *testing.T, autoReprice bool) *wiring {
	t.Helper()
	now := func() time.Time { return testNow }
	rules := pricingrepo.NewMemory()
	rules.SetBasePrice(domain.BasePrice{VariantID: "v1", Currency: "USD", AmountCents: 1000})
	carts := cartrepo.NewMemory().WithClock(now)
	guard := integrity.New(rules, integrity.Options{Expiration: 24 * time.Hour}, nil).WithClock(now)
	pc := pricingcache.New(cache.NewMemoryStore(), rules, pricingcache.Options{Versioning: true}, nil, nil)
	engine, err := pricing.New(pricing.Deps{
		Inputs:    pc,
		Taxes:     rules,
		Shipping:  pricing.NewRateTable(rules),
		Versions:  rules,
		Guard:     guard,
		Snapshots: carts,
	}, pricing.Options{Discounts: config.Discounts{}}, nil)
	require.NoError(t, err)
	engine.WithClock(now)

	inv := pricingcache.NewInvalidator(pc, rules, nil)
	trigger := repricing.New(carts, engine, guard, autoReprice, nil)
	d := NewDispatcher(16, nil).
		On("pricing-cache", func(ctx context.Context, evt domain.CartEvent) error {
			_, err := inv.Handle(ctx, evt)
			return err
		}).
		On("repricing", trigger.HandleEvent)
	return &wiring{rules: rules, carts: carts, engine: engine, dispatcher: d}
}

func (w *wiring) pricedCart(t *testing.T) *domain.Cart {
	t.Helper()
	ctx := context.Background()
	created, err := w.carts.Create(ctx, cartrepo.CreateCartInput{Currency: "USD"})
	require.NoError(t, err)
	_, err = w.carts.AddLine(ctx, created.ID, "p1", "v1", 1)
	require.NoError(t, err)
	cart, err := w.carts.GetByID(ctx, created.ID)
	require.NoError(t, err)
	_, err = w.engine.RepriceAndStore(ctx, cart, domain.TriggerManual)
	require.NoError(t, err)
	cart, err = w.carts.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, cart.RequiresReprice)
	return cart
}

// drain runs the dispatcher until every queued event is handled.
func (w *wiring) drain(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		w.dispatcher.Run(context.Background())
		close(done)
	}()
	w.dispatcher.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not drain")
	}
}

func TestQuantityChangeAfterPromotionRepricesAtNewVersion(t *testing.T) {
	w := newWiring(t, true)
	ctx := context.Background()
	cart := w.pricedCart(t)
	require.Equal(t, int64(0), cart.PricingVersion())

	require.NoError(t, w.carts.ChangeLineQuantity(ctx, cart.ID, cart.Lines[0].ID, 4))
	require.NoError(t, w.dispatcher.Dispatch(ctx, domain.CartEvent{Trigger: domain.TriggerPromotionActivated, OccurredAt: testNow}))
	require.NoError(t, w.dispatcher.Dispatch(ctx, domain.CartEvent{Trigger: domain.TriggerQuantityChanged, CartID: cart.ID, OccurredAt: testNow}))
	w.drain(t)

	stored, err := w.carts.GetByID(ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.PricingVersion())
	assert.Equal(t, int64(4000), stored.PricingSnapshot.GrandTotalCents)
	assert.False(t, stored.RequiresReprice)
}

func TestQuantityChangeWithoutAutoRepriceMarksCart(t *testing.T) {
	w := newWiring(t, false)
	ctx := context.Background()
	cart := w.pricedCart(t)

	require.NoError(t, w.dispatcher.Dispatch(ctx, domain.CartEvent{Trigger: domain.TriggerQuantityChanged, CartID: cart.ID}))
	w.drain(t)

	stored, err := w.carts.GetByID(ctx, cart.ID)
	require.NoError(t, err)
	assert.True(t, stored.RequiresReprice)
	assert.Equal(t, int64(1000), stored.PricingSnapshot.GrandTotalCents)
}

func TestHandleRunsHandlersInOrderAndJoinsErrors(t *testing.T) {
	var order []string
	boom := errors.New("boom")
	d := NewDispatcher(0, nil).
		On("first", func(context.Context, domain.CartEvent) error {
			order = append(order, "first")
			return boom
		}).
		On("second", func(context.Context, domain.CartEvent) error {
			order = append(order, "second")
			return nil
		})

	err := d.Handle(context.Background(), domain.CartEvent{Trigger: domain.TriggerManual})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDispatchAfterClose(t *testing.T) {
	d := NewDispatcher(1, nil)
	d.Close()
	d.Close()
	err := d.Dispatch(context.Background(), domain.CartEvent{Trigger: domain.TriggerManual})
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatchHonoursContextWhenFull(t *testing.T) {
	d := NewDispatcher(0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := d.Dispatch(ctx, domain.CartEvent{Trigger: domain.TriggerManual})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseDoesNotWaitForBlockedDispatch(t *testing.T) {
	d := NewDispatcher(1, nil)
	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, domain.CartEvent{Trigger: domain.TriggerManual}))

	blocked := make(chan error, 1)
	go func() {
		blocked <- d.Dispatch(ctx, domain.CartEvent{Trigger: domain.TriggerManual})
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked behind a full queue")
	}

	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, ErrDispatcherClosed)
	case <-time.After(time.Second):
		t.Fatal("Dispatch did not return after Close")
	}

	var handled int
	d.On("count", func(context.Context, domain.CartEvent) error {
		handled++
		return nil
	})
	d.Run(ctx)
	assert.Equal(t, 1, handled, "events queued before Close are still handled")
}
