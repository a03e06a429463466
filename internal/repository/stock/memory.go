package stock

import (
	"context"
	"fmt"
	"sync"

	"commerce-checkout/internal/domain"
)

type level struct {
	onHand   int
	reserved int
}

type reservation struct {
	quantity int
	status   string
}

// Memory is an in-process Repository used by tests and the local seed.
type Memory struct {
	mu           sync.Mutex
	levels       map[string]*level
	reservations map[string]map[string]*reservation
}

func NewMemory() *Memory {
	return &Memory{levels: map[string]*level{}, reservations: map[string]map[string]*reservation{}}
}

func (m *Memory) Reserve(_ context.Context, lockID string, items []domain.StockItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	held := m.reservations[lockID]
	var pending []domain.StockItem
	for _, item := range items {
		if _, ok := held[item.VariantID]; ok {
			continue
		}
		lv, ok := m.levels[item.VariantID]
		if !ok || lv.onHand-lv.reserved < item.Quantity {
			return fmt.Errorf("variant %s: %w", item.VariantID, domain.ErrInsufficientStock)
		}
		pending = append(pending, item)
	}

	if held == nil {
		held = map[string]*reservation{}
		m.reservations[lockID] = held
	}
	for _, item := range pending {
		m.levels[item.VariantID].reserved += item.Quantity
		held[item.VariantID] = &reservation{quantity: item.Quantity, status: "reserved"}
	}
	return nil
}

func (m *Memory) Release(_ context.Context, lockID string) error {
	m.settle(lockID, "released", func(lv *level, q int) { lv.reserved -= q })
	return nil
}

func (m *Memory) Commit(_ context.Context, lockID string) error {
	m.settle(lockID, "committed", func(lv *level, q int) {
		lv.reserved -= q
		lv.onHand -= q
	})
	return nil
}

func (m *Memory) settle(lockID, status string, apply func(lv *level, q int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for variant, res := range m.reservations[lockID] {
		if res.status != "reserved" {
			continue
		}
		apply(m.levels[variant], res.quantity)
		res.status = status
	}
}

func (m *Memory) SetLevel(_ context.Context, variantID string, onHand int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lv, ok := m.levels[variantID]; ok {
		lv.onHand = onHand
		return nil
	}
	m.levels[variantID] = &level{onHand: onHand}
	return nil
}

func (m *Memory) Available(_ context.Context, variantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lv, ok := m.levels[variantID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return lv.onHand - lv.reserved, nil
}

// Reserved returns the quantity currently held for lockID.
func (m *Memory) Reserved(lockID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, res := range m.reservations[lockID] {
		if res.status == "reserved" {
			n += res.quantity
		}
	}
	return n
}
