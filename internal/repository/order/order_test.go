package order

import (
	"context"
	"testing"

	"commerce-checkout/internal/domain"
	cartrepo "commerce-checkout/internal/repository/cart"
	"commerce-checkout/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseOrders(t *testing.T, repo Repository, cart *domain.Cart) {
	t.Helper()
	ctx := context.Background()
	snap := domain.PricingResult{CartID: cart.ID, Currency: "USD", GrandTotalCents: 4200, PriceHash: "abc", PricingVersion: 3}

	lockID := uuid.NewString()
	first, err := repo.Create(ctx, lockID, cart, snap)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, first.Status)
	assert.Equal(t, int64(4200), first.GrandTotalCents)
	assert.Equal(t, int64(3), first.PricingSnapshot.PricingVersion)

	again, err := repo.Create(ctx, lockID, cart, snap)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	require.NoError(t, repo.Cancel(ctx, first.ID))
	require.NoError(t, repo.Cancel(ctx, first.ID))
	got, err := repo.GetByLockID(ctx, lockID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)

	_, err = repo.GetByLockID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repo.Cancel(ctx, uuid.NewString()), domain.ErrNotFound)
}

func TestMemory_Orders(t *testing.T) {
	repo := NewMemory()
	exerciseOrders(t, repo, &domain.Cart{ID: uuid.NewString(), Currency: "USD"})
	assert.Equal(t, 1, repo.Len())
}

func TestPostgres_Orders(t *testing.T) {
	pool := testutil.Postgres(t)
	cart, err := cartrepo.NewPostgres(pool, nil).Create(context.Background(), cartrepo.CreateCartInput{Currency: "USD"})
	require.NoError(t, err)
	exerciseOrders(t, NewPostgres(pool, nil), cart)
}
