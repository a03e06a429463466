package pricing

import (
	"context"
	"sync"

	"commerce-checkout/internal/domain"
)

// Memory is an in-process Repository used by tests and single-node demos.
type Memory struct {
	mu sync.RWMutex

	Attributes    map[string]domain.AttributeMetadata
	Availability  map[string]domain.VariantAvailability
	BasePrices    map[string]domain.BasePrice // keyed by variant|currency
	Contracts     map[string][]domain.ContractPrice
	PromotionList []domain.Promotion
	Rates         map[string]domain.CurrencyRates
	TaxRates      []domain.TaxRate
	Shipping      []domain.ShippingRate
	MAP           []domain.MapPrice

	version int64
}

var _ Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		Attributes:   map[string]domain.AttributeMetadata{},
		Availability: map[string]domain.VariantAvailability{},
		BasePrices:   map[string]domain.BasePrice{},
		Contracts:    map[string][]domain.ContractPrice{},
		Rates:        map[string]domain.CurrencyRates{},
	}
}

func (m *Memory) SetBasePrice(bp domain.BasePrice) {
	m.mu.Lock()
	m.BasePrices[bp.VariantID+"|"+bp.Currency] = bp
	m.mu.Unlock()
}

func (m *Memory) AddPromotion(p domain.Promotion) {
	m.mu.Lock()
	m.PromotionList = append(m.PromotionList, p)
	m.mu.Unlock()
}

func (m *Memory) AddMapPrice(mp domain.MapPrice) {
	m.mu.Lock()
	m.MAP = append(m.MAP, mp)
	m.mu.Unlock()
}

func (m *Memory) AttributeMetadata(_ context.Context, productID string) (domain.AttributeMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.Attributes[productID]; ok {
		return a, nil
	}
	return domain.AttributeMetadata{ProductID: productID, TaxClass: "standard"}, nil
}

func (m *Memory) VariantAvailability(_ context.Context, productID string) (domain.VariantAvailability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.Availability[productID]; ok {
		return a, nil
	}
	return domain.VariantAvailability{ProductID: productID, Sellable: map[string]bool{}}, nil
}

func (m *Memory) BasePrice(_ context.Context, variantID, currency string) (domain.BasePrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bp, ok := m.BasePrices[variantID+"|"+currency]
	if !ok {
		return domain.BasePrice{}, domain.ErrNotFound
	}
	return bp, nil
}

func (m *Memory) ContractPrices(_ context.Context, companyID, currency string) ([]domain.ContractPrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ContractPrice(nil), m.Contracts[companyID+"|"+currency]...), nil
}

func (m *Memory) Promotions(_ context.Context, _, _ string) ([]domain.Promotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Promotion(nil), m.PromotionList...), nil
}

func (m *Memory) CurrencyRates(_ context.Context, base string) (domain.CurrencyRates, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.Rates[base]; ok {
		return r, nil
	}
	return domain.CurrencyRates{}, domain.ErrNotFound
}

func (m *Memory) TaxRate(_ context.Context, addr domain.Address, taxClass string) (domain.TaxRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var fallback *domain.TaxRate
	for i := range m.TaxRates {
		tr := m.TaxRates[i]
		if tr.Country != addr.Country || tr.TaxClass != taxClass {
			continue
		}
		if tr.Region != "" && tr.Region == addr.Region {
			return tr, nil
		}
		if tr.Region == "" && fallback == nil {
			fallback = &m.TaxRates[i]
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return domain.TaxRate{}, domain.ErrNotFound
}

func (m *Memory) ShippingRates(_ context.Context, country, currency string) ([]domain.ShippingRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ShippingRate
	for _, s := range m.Shipping {
		if s.Country == country && s.Currency == currency {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) MapPrices(_ context.Context, variantID, currency string) ([]domain.MapPrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.MapPrice
	for _, mp := range m.MAP {
		if mp.VariantID == variantID && mp.Currency == currency {
			out = append(out, mp)
		}
	}
	return out, nil
}

func (m *Memory) UpsertBasePrice(_ context.Context, bp domain.BasePrice) error {
	m.SetBasePrice(bp)
	return nil
}

func (m *Memory) CurrentVersion(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version, nil
}

func (m *Memory) Bump(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	return m.version, nil
}
