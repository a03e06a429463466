package pricing

import (
	"fmt"
	"sort"

	"commerce-checkout/internal/domain"
)

const (
	StackingPriority        = "priority"
	StackingBestForCustomer = "best_for_customer"
	StackingStackAll        = "stack_all"
)

// Application is one promotion's share of a discount.
type Application struct {
	Promotion   domain.Promotion
	AmountCents int64
}

// Stacker decides which of the eligible promotions apply to baseCents and for how much.
// Promotions are applied in sequence, each on what the previous ones left.
type Stacker interface {
	Name() string
	Resolve(promos []domain.Promotion, baseCents int64) []Application
}

func NewStacker(mode string) (Stacker, error) {
	switch mode {
	case "", StackingPriority:
		return priorityStacker{}, nil
	case StackingBestForCustomer:
		return bestForCustomerStacker{}, nil
	case StackingStackAll:
		return stackAllStacker{}, nil
	default:
		return nil, fmt.Errorf("unknown stacking mode %q", mode)
	}
}

// priorityStacker applies the highest-priority promotion. A non-stackable winner applies
// alone; a stackable winner is followed by the remaining stackable promotions.
type priorityStacker struct{}

func (priorityStacker) Name() string { return StackingPriority }

func (priorityStacker) Resolve(promos []domain.Promotion, baseCents int64) []Application {
	ordered := byPriority(promos)
	if len(ordered) == 0 {
		return nil
	}
	if !ordered[0].Stackable {
		return applySequence(ordered[:1], baseCents)
	}
	return applySequence(stackableOnly(ordered), baseCents)
}

// bestForCustomerStacker picks whichever is larger: the single best promotion or every
// stackable promotion combined. Ties go to the single promotion.
type bestForCustomerStacker struct{}

func (bestForCustomerStacker) Name() string { return StackingBestForCustomer }

func (bestForCustomerStacker) Resolve(promos []domain.Promotion, baseCents int64) []Application {
	ordered := byPriority(promos)
	if len(ordered) == 0 {
		return nil
	}

	var best []Application
	var bestTotal int64
	for _, p := range ordered {
		if amount := p.DiscountOn(baseCents); amount > bestTotal {
			best = []Application{{Promotion: p, AmountCents: amount}}
			bestTotal = amount
		}
	}

	stacked := applySequence(stackableOnly(ordered), baseCents)
	if total(stacked) > bestTotal {
		return stacked
	}
	return best
}

type stackAllStacker struct{}

func (stackAllStacker) Name() string { return StackingStackAll }

func (stackAllStacker) Resolve(promos []domain.Promotion, baseCents int64) []Application {
	return applySequence(byPriority(promos), baseCents)
}

func applySequence(promos []domain.Promotion, baseCents int64) []Application {
	var out []Application
	remaining := baseCents
	for _, p := range promos {
		if remaining <= 0 {
			break
		}
		amount := p.DiscountOn(remaining)
		if amount <= 0 {
			continue
		}
		out = append(out, Application{Promotion: p, AmountCents: amount})
		remaining -= amount
	}
	return out
}

// byPriority orders by priority descending, then id, without touching the input.
func byPriority(promos []domain.Promotion) []domain.Promotion {
	out := append([]domain.Promotion(nil), promos...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func stackableOnly(promos []domain.Promotion) []domain.Promotion {
	var out []domain.Promotion
	for _, p := range promos {
		if p.Stackable {
			out = append(out, p)
		}
	}
	return out
}

func total(apps []Application) int64 {
	var sum int64
	for _, a := range apps {
		sum += a.AmountCents
	}
	return sum
}
