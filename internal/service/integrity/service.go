// Package integrity validates computed and stored cart prices: the zero floor, MAP rules,
// snapshot staleness and the tamper hash.
package integrity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"commerce-checkout/internal/domain"
)

type ruleSource interface {
	MapPrices(ctx context.Context, variantID, currency string) ([]domain.MapPrice, error)
	CurrentVersion(ctx context.Context) (int64, error)
}

type Options struct {
	// Expiration is how long a snapshot stays fresh after the last reprice.
	Expiration time.Duration
	HashSecret string
}

type Service struct {
	rules  ruleSource
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func New(rules ruleSource, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Expiration <= 0 {
		opts.Expiration = 24 * time.Hour
	}
	return &Service{rules: rules, opts: opts, logger: logger, now: time.Now}
}

// WithClock replaces the clock used for expiry and MAP validity windows.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type ValidationResult struct {
	IsValid         bool     `json:"isValid"`
	Errors          []string `json:"errors,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	RequiresReprice bool     `json:"requiresReprice"`
	Corrections     int      `json:"corrections"`
}

type MAPCheck struct {
	Violation         bool                  `json:"violation"`
	Level             domain.MAPEnforcement `json:"level,omitempty"`
	Message           string                `json:"message,omitempty"`
	MapPriceCents     *int64                `json:"mapPriceCents,omitempty"`
	CurrentPriceCents *int64                `json:"currentPriceCents,omitempty"`
}

// ValidateCartPrices checks the cart's stored snapshot and collects every problem in one pass.
// Line corrections are applied to the snapshot in place. Anything that makes the snapshot
// untrustworthy sets RequiresReprice on both the result and the cart.
func (s *Service) ValidateCartPrices(ctx context.Context, cart *domain.Cart) ValidationResult {
	res := ValidationResult{}
	snap := cart.PricingSnapshot
	if snap == nil {
		res.Warnings = append(res.Warnings, "cart has not been priced")
		res.RequiresReprice = true
	} else {
		// hash first: corrections below change the snapshot
		if s.DetectPriceMismatch(cart) {
			res.Warnings = append(res.Warnings, "price hash does not match snapshot")
			res.RequiresReprice = true
		}
		for i := range snap.Lines {
			line := &snap.Lines[i]
			if line.FinalUnitPriceCents < 0 {
				res.Errors = append(res.Errors, fmt.Sprintf("line %s: negative price %d corrected to 0", line.LineID, line.FinalUnitPriceCents))
				s.EnforceMinimumPrice(ctx, line)
				res.Corrections++
			}
			check, err := s.EnforceMAP(ctx, line, snap.Currency, snap.Channel)
			if err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("line %s: map lookup failed", line.LineID))
				continue
			}
			if !check.Violation {
				continue
			}
			if check.Level == domain.MAPStrict {
				res.Errors = append(res.Errors, check.Message)
				res.Corrections++
			} else {
				res.Warnings = append(res.Warnings, check.Message)
			}
		}
		if res.Corrections > 0 {
			res.RequiresReprice = true
		}
	}
	if snap != nil && s.CheckPriceExpiration(cart) {
		res.Warnings = append(res.Warnings, "pricing snapshot expired")
		res.RequiresReprice = true
	}
	if snap != nil {
		if msg := s.checkPricingVersion(ctx, snap); msg != "" {
			res.Warnings = append(res.Warnings, msg)
			res.RequiresReprice = true
		}
	}
	if res.RequiresReprice {
		cart.RequiresReprice = true
	}
	res.IsValid = len(res.Errors) == 0
	return res
}

// EnforceMinimumPrice clamps a negative unit price to zero. It reports whether it changed the line.
func (s *Service) EnforceMinimumPrice(ctx context.Context, line *domain.LineItemPricing) bool {
	if line.FinalUnitPriceCents >= 0 {
		return false
	}
	s.logger.WarnContext(ctx, "price integrity: negative price clamped", "line_id", line.LineID, "price_cents", line.FinalUnitPriceCents)
	line.FinalUnitPriceCents = 0
	line.LineTotalCents = 0
	return true
}

// EnforceMAP applies the most specific active MAP rule to line. A strict rule raises the
// price to the floor; a warning rule only logs.
func (s *Service) EnforceMAP(ctx context.Context, line *domain.LineItemPricing, currency, channel string) (MAPCheck, error) {
	rule, err := s.lookupMAP(ctx, line.VariantID, currency, channel)
	if err != nil || rule == nil {
		return MAPCheck{}, err
	}
	if rule.EnforcementLevel == domain.MAPStrict {
		line.MAPProtected = true
	}
	current := line.FinalUnitPriceCents
	if current >= rule.MinPriceCents {
		return MAPCheck{Level: rule.EnforcementLevel}, nil
	}

	floor := rule.MinPriceCents
	check := MAPCheck{
		Violation:         true,
		Level:             rule.EnforcementLevel,
		MapPriceCents:     &floor,
		CurrentPriceCents: &current,
		Message:           fmt.Sprintf("line %s: price %d below MAP %d for variant %s", line.LineID, current, floor, line.VariantID),
	}
	if rule.EnforcementLevel == domain.MAPStrict {
		line.FinalUnitPriceCents = floor
		line.LineTotalCents = floor * int64(line.Quantity)
		s.logger.WarnContext(ctx, "price integrity: strict MAP enforced", "line_id", line.LineID, "variant_id", line.VariantID,
			"from_cents", current, "to_cents", floor, "error", domain.ErrMAPViolation)
	} else {
		s.logger.InfoContext(ctx, "price integrity: MAP warning", "line_id", line.LineID, "variant_id", line.VariantID,
			"price_cents", current, "map_cents", floor)
	}
	return check, nil
}

// lookupMAP prefers an active rule for the exact channel over a channel-less one.
func (s *Service) lookupMAP(ctx context.Context, variantID, currency, channel string) (*domain.MapPrice, error) {
	if s.rules == nil {
		return nil, nil
	}
	rules, err := s.rules.MapPrices(ctx, variantID, currency)
	if err != nil {
		s.logger.ErrorContext(ctx, "price integrity: map lookup", "variant_id", variantID, "error", err)
		return nil, err
	}
	now := s.now()
	var generic *domain.MapPrice
	for i := range rules {
		r := rules[i]
		if !r.ActiveAt(now) {
			continue
		}
		if r.Channel != nil {
			if *r.Channel == channel {
				return &r, nil
			}
			continue
		}
		if generic == nil {
			generic = &r
		}
	}
	return generic, nil
}

// checkPricingVersion describes why snap is older than the current pricing rules, or
// returns "" when it is current. An unreadable version counts as outdated.
func (s *Service) checkPricingVersion(ctx context.Context, snap *domain.PricingResult) string {
	if s.rules == nil {
		return ""
	}
	current, err := s.rules.CurrentVersion(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "price integrity: pricing version lookup", "cart_id", snap.CartID, "error", err)
		return "pricing version unavailable"
	}
	if snap.PricingVersion < current {
		return fmt.Sprintf("pricing snapshot predates pricing version %d", current)
	}
	return ""
}

// CheckPriceExpiration reports whether the cart was never priced or its snapshot is older
// than the configured expiration.
func (s *Service) CheckPriceExpiration(cart *domain.Cart) bool {
	if cart.LastRepricedAt == nil {
		return true
	}
	return s.now().After(cart.LastRepricedAt.Add(s.opts.Expiration))
}
