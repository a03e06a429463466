package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"commerce-checkout/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_GetSetMiss(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "pricing:base_price:v=1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, store.Set(ctx, "pricing:base_price:v=1", []byte(`{"amountCents":100}`), time.Minute))
	got, err := store.Get(ctx, "pricing:base_price:v=1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"amountCents":100}`, string(got))

	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, "pricing:base_price:v=1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStore_IncrAndDeletePattern(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	n, err := store.Incr(ctx, "pricing:version:promotions")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = store.Incr(ctx, "pricing:version:promotions")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, k := range []string{"pricing:promotions:a", "pricing:promotions:b", "pricing:currency_rates:a"} {
		require.NoError(t, store.Set(ctx, k, []byte("x"), time.Hour))
	}
	deleted, err := store.DeletePattern(ctx, "pricing:promotions:*")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = store.Get(ctx, "pricing:currency_rates:a")
	assert.NoError(t, err)
}

func TestRedisStore_BackendDown(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()
	_, err := store.Get(context.Background(), "k")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCacheMiss))
}

func TestMemoryStore_TTLAndPattern(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "p:a:1", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "p:b:1", []byte("2"), 0))
	assert.Equal(t, 2, store.Len())

	now = now.Add(61 * time.Second)
	_, err := store.Get(ctx, "p:a:1")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = store.Get(ctx, "p:b:1")
	assert.NoError(t, err)

	n, err := store.Incr(ctx, "p:version:a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	deleted, err := store.DeletePattern(ctx, "p:b:*")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestNoopStore(t *testing.T) {
	var store NoopStore
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = store.DeletePattern(ctx, "*")
	assert.ErrorIs(t, err, ErrScanUnsupported)
}

type failingStore struct {
	NoopStore
	calls atomic.Int32
}

func (f *failingStore) Get(context.Context, string) ([]byte, error) {
	f.calls.Add(1)
	return nil, errors.New("connection refused")
}

func TestBreakerStore_OpensAfterThreshold(t *testing.T) {
	backend := &failingStore{}
	store := NewBreakerStore(backend, BreakerSettings{FailureThreshold: 3, Timeout: time.Hour}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Get(ctx, "k")
		require.Error(t, err)
	}
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrCacheUnavailable)
	assert.Equal(t, int32(3), backend.calls.Load())
	assert.Equal(t, "open", store.State())
}

func TestBreakerStore_MissesDoNotTrip(t *testing.T) {
	store := NewBreakerStore(NewMemoryStore(), BreakerSettings{FailureThreshold: 1, Timeout: time.Hour}, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrCacheMiss)
	}
	assert.Equal(t, "closed", store.State())

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}
