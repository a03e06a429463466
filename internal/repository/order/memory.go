package order

import (
	"context"
	"sync"
	"time"

	"commerce-checkout/internal/domain"

	"github.com/google/uuid"
)

// Memory is an in-process Repository.
type Memory struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	byLock map[string]string
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{orders: map[string]domain.Order{}, byLock: map[string]string{}, now: time.Now}
}

func (m *Memory) Create(_ context.Context, lockID string, cart *domain.Cart, snapshot domain.PricingResult) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byLock[lockID]; ok {
		o := m.orders[id]
		return &o, nil
	}
	now := m.now().UTC()
	o := domain.Order{
		ID:              uuid.NewString(),
		LockID:          lockID,
		CartID:          cart.ID,
		CustomerID:      cart.CustomerID,
		Currency:        snapshot.Currency,
		GrandTotalCents: snapshot.GrandTotalCents,
		PriceHash:       snapshot.PriceHash,
		PricingSnapshot: snapshot,
		Status:          domain.OrderStatusOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.orders[o.ID] = o
	m.byLock[lockID] = o.ID
	return &o, nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &o, nil
}

func (m *Memory) GetByLockID(ctx context.Context, lockID string) (*domain.Order, error) {
	m.mu.Lock()
	id, ok := m.byLock[lockID]
	m.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *Memory) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = m.now().UTC()
	m.orders[id] = o
	return nil
}

// Len returns the number of stored orders.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}
