package checkoutlock

import (
	"context"
	"sort"
	"sync"
	"time"

	"commerce-checkout/internal/domain"
)

type cartChecker interface {
	GetByID(ctx context.Context, id string) (*domain.Cart, error)
}

// Memory is an in-process Repository. A single mutex plays the role of the cart row lock.
type Memory struct {
	mu    sync.Mutex
	locks map[string]domain.CheckoutLock
	carts cartChecker
}

// NewMemory builds a Memory repository. carts may be nil to skip the cart existence check.
func NewMemory(carts cartChecker) *Memory {
	return &Memory{locks: map[string]domain.CheckoutLock{}, carts: carts}
}

func (m *Memory) Acquire(ctx context.Context, lock domain.CheckoutLock, preventConcurrent bool) (*domain.CheckoutLock, error) {
	if m.carts != nil {
		if _, err := m.carts.GetByID(ctx, lock.CartID); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := lock.LockedAt
	live := false
	for id, l := range m.locks {
		if l.CartID != lock.CartID || l.IsTerminal() {
			continue
		}
		if l.ExpiresAt.Before(now) && l.Release("expired", now) {
			m.locks[id] = l
			continue
		}
		live = true
	}
	if preventConcurrent && live {
		return nil, domain.ErrLockConflict
	}
	m.locks[lock.ID] = lock
	out := lock
	return &out, nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*domain.CheckoutLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &l, nil
}

func (m *Memory) ActiveForCart(_ context.Context, cartID string) (*domain.CheckoutLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *domain.CheckoutLock
	for _, l := range m.locks {
		if l.CartID != cartID || l.IsTerminal() {
			continue
		}
		if newest == nil || l.LockedAt.After(newest.LockedAt) {
			l := l
			newest = &l
		}
	}
	if newest == nil {
		return nil, domain.ErrNotFound
	}
	return newest, nil
}

func (m *Memory) Save(_ context.Context, lock *domain.CheckoutLock, from domain.CheckoutState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.locks[lock.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.State != from {
		return domain.ErrLockConflict
	}
	m.locks[lock.ID] = *lock
	return nil
}

func (m *Memory) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.CheckoutLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CheckoutLock
	for _, l := range m.locks {
		if !l.IsTerminal() && l.ExpiresAt.Before(now) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := m.ListExpired(ctx, now, 0)
	return len(expired), err
}

func (m *Memory) CountStuck(_ context.Context, lockedBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.locks {
		if !l.IsTerminal() && l.LockedAt.Before(lockedBefore) {
			n++
		}
	}
	return n, nil
}
