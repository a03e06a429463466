package cart

import (
	"context"
	"slices"
	"sync"
	"time"

	"commerce-checkout/internal/domain"

	"github.com/google/uuid"
)

// Memory is an in-process Repository used by tests and the local seed.
type Memory struct {
	mu       sync.Mutex
	carts    map[string]*domain.Cart
	versions map[string]int64
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		carts:    map[string]*domain.Cart{},
		versions: map[string]int64{},
		now:      time.Now,
	}
}

// WithClock replaces the clock used for created and updated timestamps.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Put stores a copy of cart as is, replacing any cart with the same id.
func (m *Memory) Put(cart *domain.Cart) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cloneCart(cart)
	if c.Status == "" {
		c.Status = domain.CartStatusActive
	}
	m.carts[c.ID] = c
	m.versions[c.ID] = c.PricingVersion()
}

func (m *Memory) Create(_ context.Context, in CreateCartInput) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channel := in.Channel
	if channel == "" {
		channel = "web"
	}
	now := m.now()
	c := &domain.Cart{
		ID:              uuid.NewString(),
		CustomerID:      in.CustomerID,
		CompanyID:       in.CompanyID,
		Currency:        in.Currency,
		Channel:         channel,
		Status:          domain.CartStatusActive,
		RequiresReprice: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.carts[c.ID] = c
	return cloneCart(c), nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneCart(c), nil
}

func (m *Memory) AddLine(_ context.Context, cartID, productID, variantID string, quantity int) (*domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[cartID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	m.touch(c)
	for i := range c.Lines {
		if c.Lines[i].VariantID == variantID {
			c.Lines[i].Quantity += quantity
			line := c.Lines[i]
			return &line, nil
		}
	}
	line := domain.CartLine{
		ID:        uuid.NewString(),
		CartID:    cartID,
		ProductID: productID,
		VariantID: variantID,
		Quantity:  quantity,
		CreatedAt: m.now(),
	}
	c.Lines = append(c.Lines, line)
	return &line, nil
}

func (m *Memory) ChangeLineQuantity(_ context.Context, cartID, lineID string, quantity int) error {
	return m.mutateLine(cartID, lineID, func(c *domain.Cart, i int) {
		if quantity <= 0 {
			c.Lines = slices.Delete(c.Lines, i, i+1)
			return
		}
		c.Lines[i].Quantity = quantity
	})
}

func (m *Memory) ChangeLineVariant(_ context.Context, cartID, lineID, variantID string) error {
	return m.mutateLine(cartID, lineID, func(c *domain.Cart, i int) {
		c.Lines[i].VariantID = variantID
	})
}

func (m *Memory) SetAddress(_ context.Context, cartID string, addr domain.Address) error {
	return m.mutate(cartID, func(c *domain.Cart) { c.ShippingAddress = &addr })
}

func (m *Memory) SetCurrency(_ context.Context, cartID, currency string) error {
	return m.mutate(cartID, func(c *domain.Cart) { c.Currency = currency })
}

func (m *Memory) SetCustomer(_ context.Context, cartID string, customerID, companyID *string) error {
	return m.mutate(cartID, func(c *domain.Cart) {
		c.CustomerID = customerID
		c.CompanyID = companyID
	})
}

func (m *Memory) ApplyCoupon(_ context.Context, cartID, code string) error {
	return m.mutate(cartID, func(c *domain.Cart) {
		if !slices.Contains(c.CouponCodes, code) {
			c.CouponCodes = append(c.CouponCodes, code)
		}
	})
}

func (m *Memory) MarkRequiresReprice(_ context.Context, cartID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[cartID]
	if !ok {
		return domain.ErrNotFound
	}
	c.RequiresReprice = true
	return nil
}

func (m *Memory) SaveSnapshot(_ context.Context, cartID string, snap domain.PricingResult, repricedAt, basedOn time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[cartID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if m.versions[cartID] > snap.PricingVersion {
		return false, nil
	}
	m.versions[cartID] = snap.PricingVersion
	s := snap
	c.PricingSnapshot = &s
	at := repricedAt
	c.LastRepricedAt = &at
	c.RequiresReprice = c.UpdatedAt.After(basedOn)
	return true, nil
}

func (m *Memory) MarkCompleted(_ context.Context, cartID string) error {
	return m.mutate(cartID, func(c *domain.Cart) { c.Status = domain.CartStatusCompleted })
}

func (m *Memory) mutate(cartID string, fn func(c *domain.Cart)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[cartID]
	if !ok {
		return domain.ErrNotFound
	}
	fn(c)
	m.touch(c)
	return nil
}

func (m *Memory) mutateLine(cartID, lineID string, fn func(c *domain.Cart, i int)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[cartID]
	if !ok {
		return domain.ErrNotFound
	}
	for i := range c.Lines {
		if c.Lines[i].ID == lineID {
			fn(c, i)
			m.touch(c)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *Memory) touch(c *domain.Cart) {
	c.RequiresReprice = true
	now := m.now()
	// keep updated_at strictly increasing so snapshot guards see every mutation
	if !now.After(c.UpdatedAt) {
		now = c.UpdatedAt.Add(time.Nanosecond)
	}
	c.UpdatedAt = now
}

func cloneCart(c *domain.Cart) *domain.Cart {
	out := *c
	out.Lines = slices.Clone(c.Lines)
	out.CouponCodes = slices.Clone(c.CouponCodes)
	if c.ShippingAddress != nil {
		addr := *c.ShippingAddress
		out.ShippingAddress = &addr
	}
	if c.PricingSnapshot != nil {
		snap := *c.PricingSnapshot
		snap.Lines = slices.Clone(c.PricingSnapshot.Lines)
		out.PricingSnapshot = &snap
	}
	return &out
}
