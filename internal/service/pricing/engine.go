// Package pricing computes cart prices from the cached pricing inputs: base and tier prices,
// B2B contracts, promotions and coupons, MAP floors, tax and shipping.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"commerce-checkout/internal/config"
	"commerce-checkout/internal/domain"
	"commerce-checkout/internal/pricingcache"
	"commerce-checkout/internal/service/integrity"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	taxKindGoods    = "goods"
	taxKindShipping = "shipping"

	// ShippingTaxClass is the tax class looked up for taxable shipping.
	ShippingTaxClass = "shipping"
)

type inputCache interface {
	GetAttributeMetadata(ctx context.Context, productID string) (domain.AttributeMetadata, error)
	GetVariantAvailabilityMatrix(ctx context.Context, productID string) (domain.VariantAvailability, error)
	GetBasePrice(ctx context.Context, variantID, currency string) (domain.BasePrice, error)
	GetContractPriceList(ctx context.Context, companyID, currency string) ([]domain.ContractPrice, error)
	GetPromotionDefinitions(ctx context.Context, currency, channel string) ([]domain.Promotion, error)
	GetCurrencyRates(ctx context.Context, base string) (domain.CurrencyRates, error)
}

// VersionSource returns the global pricing version stamped on every result.
type VersionSource interface {
	CurrentVersion(ctx context.Context) (int64, error)
}

type priceGuard interface {
	EnforceMAP(ctx context.Context, line *domain.LineItemPricing, currency, channel string) (integrity.MAPCheck, error)
	EnforceMinimumPrice(ctx context.Context, line *domain.LineItemPricing) bool
	Stamp(cart *domain.Cart, result *domain.PricingResult)
}

// SnapshotStore persists a result on its cart; see cart.Repository.SaveSnapshot.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, cartID string, snap domain.PricingResult, repricedAt, basedOn time.Time) (bool, error)
}

type Recorder interface {
	Repriced(trigger string, took time.Duration)
}

type Deps struct {
	Inputs    inputCache
	Taxes     TaxResolver
	Shipping  ShippingResolver
	Versions  VersionSource
	Guard     priceGuard
	Snapshots SnapshotStore
	Recorder  Recorder
}

type Options struct {
	Discounts       config.Discounts
	ShippingTaxable bool
	DefaultCurrency string
}

type Engine struct {
	deps    Deps
	opts    Options
	stacker Stacker
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

func New(deps Deps, opts Options, logger *slog.Logger) (*Engine, error) {
	stacker, err := NewStacker(opts.Discounts.StackingMode)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		deps:    deps,
		opts:    opts,
		stacker: stacker,
		logger:  logger,
		tracer:  otel.Tracer("commerce-checkout/pricing"),
		now:     time.Now,
	}, nil
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// RepriceCart prices every line of cart from current inputs. It does not persist anything;
// the same inputs always produce the same result apart from CalculatedAt.
func (e *Engine) RepriceCart(ctx context.Context, cart *domain.Cart, trigger domain.RepriceTrigger) (*domain.PricingResult, error) {
	if cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}
	start := time.Now()
	ctx = pricingcache.WithRequestScope(ctx)
	ctx, span := e.tracer.Start(ctx, "pricing.RepriceCart", trace.WithAttributes(
		attribute.String("cart.id", cart.ID),
		attribute.String("reprice.trigger", string(trigger)),
	))
	defer span.End()

	result, err := e.compute(ctx, cart)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.ErrorContext(ctx, "pricing: reprice failed", "cart_id", cart.ID, "trigger", trigger, "error", err)
		return nil, err
	}
	if e.deps.Recorder != nil {
		e.deps.Recorder.Repriced(string(trigger), time.Since(start))
	}
	e.logger.DebugContext(ctx, "pricing: cart repriced", "cart_id", cart.ID, "trigger", trigger,
		"grand_total_cents", result.GrandTotalCents, "pricing_version", result.PricingVersion)
	return result, nil
}

// RepriceAndStore reprices cart and stores the snapshot. When a snapshot with a higher
// pricing version is already stored the fresh result is returned but cart is left as is.
func (e *Engine) RepriceAndStore(ctx context.Context, cart *domain.Cart, trigger domain.RepriceTrigger) (*domain.PricingResult, error) {
	result, err := e.RepriceCart(ctx, cart, trigger)
	if err != nil {
		return nil, err
	}
	saved, err := e.deps.Snapshots.SaveSnapshot(ctx, cart.ID, *result, result.CalculatedAt, cart.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	if !saved {
		e.logger.InfoContext(ctx, "pricing: newer snapshot already stored", "cart_id", cart.ID, "pricing_version", result.PricingVersion)
		return result, nil
	}
	cart.PricingSnapshot = result
	at := result.CalculatedAt
	cart.LastRepricedAt = &at
	cart.RequiresReprice = false
	return result, nil
}

// pricedLine carries per-line facts the cart-level passes need.
type pricedLine struct {
	pricing    domain.LineItemPricing
	meta       domain.AttributeMetadata
	listCents  int64
	discounted bool
	contracted bool
}

func (e *Engine) compute(ctx context.Context, cart *domain.Cart) (*domain.PricingResult, error) {
	now := e.now()
	version, err := e.deps.Versions.CurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("pricing version: %w", err)
	}

	promos, err := e.deps.Inputs.GetPromotionDefinitions(ctx, cart.Currency, cart.Channel)
	if err != nil {
		return nil, fmt.Errorf("promotions: %w", err)
	}
	promos = activePromotions(promos, now, cart.CouponCodes)

	contracts := map[string]domain.ContractPrice{}
	if cart.CompanyID != nil && *cart.CompanyID != "" {
		list, err := e.deps.Inputs.GetContractPriceList(ctx, *cart.CompanyID, cart.Currency)
		if err != nil {
			return nil, fmt.Errorf("contract prices: %w", err)
		}
		contracts = activeContracts(list, now)
	}

	b := newBuilder(cart, version, now)
	var lines []pricedLine
	for _, l := range cart.Lines {
		if l.Quantity <= 0 {
			continue
		}
		pl, err := e.priceLine(ctx, cart, l, contracts, promos, b)
		if err != nil {
			return nil, err
		}
		lines = append(lines, pl)
	}

	cartDiscounts := e.cartDiscounts(lines, promos, b)
	if err := e.applyTax(ctx, cart, lines, cartDiscounts, b); err != nil {
		return nil, err
	}
	if err := e.applyShipping(ctx, cart, b); err != nil {
		return nil, err
	}

	result := b.finish()
	e.deps.Guard.Stamp(cart, result)
	return result, nil
}

func (e *Engine) priceLine(
	ctx context.Context,
	cart *domain.Cart,
	l domain.CartLine,
	contracts map[string]domain.ContractPrice,
	promos []domain.Promotion,
	b *builder,
) (pricedLine, error) {
	meta, err := e.deps.Inputs.GetAttributeMetadata(ctx, l.ProductID)
	if err != nil {
		return pricedLine{}, fmt.Errorf("line %s attributes: %w", l.ID, err)
	}
	avail, err := e.deps.Inputs.GetVariantAvailabilityMatrix(ctx, l.ProductID)
	if err != nil {
		return pricedLine{}, fmt.Errorf("line %s availability: %w", l.ID, err)
	}
	if sellable, ok := avail.Sellable[l.VariantID]; ok && !sellable {
		b.warn(fmt.Sprintf("variant %s is not sellable", l.VariantID))
	}

	base, err := e.basePrice(ctx, l.VariantID, cart.Currency, b)
	if err != nil {
		return pricedLine{}, fmt.Errorf("line %s: %w", l.ID, err)
	}

	pl := pricedLine{meta: meta}
	lp := domain.LineItemPricing{
		LineID:                 l.ID,
		VariantID:              l.VariantID,
		Quantity:               l.Quantity,
		OriginalUnitPriceCents: base.AmountCents,
		FinalUnitPriceCents:    base.AmountCents,
		PriceSource:            domain.PriceSourceBase,
		MAPProtected:           meta.MAPProtected,
	}
	if tier := tierFor(base.Tiers, l.Quantity); tier != nil {
		name, amount := tier.Name, tier.AmountCents
		lp.TierName = &name
		lp.TierPriceCents = &amount
		lp.FinalUnitPriceCents = amount
		lp.PriceSource = domain.PriceSourceMatrix
	}
	if c, ok := contracts[l.VariantID]; ok {
		lp.FinalUnitPriceCents = c.AmountCents
		lp.PriceSource = domain.PriceSourceContract
		pl.contracted = true
		b.rule(c.ContractID, c.Version, "contract")
	}
	unitList := lp.FinalUnitPriceCents

	var applied []Application
	if e.linePromotionsAllowed(pl) {
		candidates := e.couponOverride(linePromotions(promos, l.VariantID))
		applied = e.stacker.Resolve(candidates, unitList)
		for _, a := range applied {
			lp.FinalUnitPriceCents -= a.AmountCents
		}
		if len(applied) > 0 && !pl.contracted {
			lp.PriceSource = domain.PriceSourcePromo
		}
	}

	lp.LineTotalCents = lp.FinalUnitPriceCents * int64(l.Quantity)
	if _, err := e.deps.Guard.EnforceMAP(ctx, &lp, cart.Currency, cart.Channel); err != nil {
		return pricedLine{}, fmt.Errorf("line %s map: %w", l.ID, err)
	}
	e.deps.Guard.EnforceMinimumPrice(ctx, &lp)

	// a MAP floor can eat into or exceed the promotional discount
	if lp.FinalUnitPriceCents > unitList {
		unitList = lp.FinalUnitPriceCents
	}
	lineDiscount := (unitList - lp.FinalUnitPriceCents) * int64(l.Quantity)
	lp.Discounts = lineBreakdown(applied, l.Quantity, lineDiscount)
	for _, d := range lp.Discounts {
		b.discount(d)
		for _, a := range applied {
			if a.Promotion.ID == d.RuleID {
				b.rule(a.Promotion.ID, a.Promotion.Version, "promotion")
			}
		}
	}
	pl.discounted = lineDiscount > 0
	pl.listCents = unitList * int64(l.Quantity)
	pl.pricing = lp

	b.result.SubtotalCents += pl.listCents
	b.result.DiscountTotalCents += lineDiscount
	return pl, nil
}

func (e *Engine) linePromotionsAllowed(pl pricedLine) bool {
	if pl.contracted && e.opts.Discounts.B2BContractsOverridePromotions {
		return false
	}
	if pl.meta.MAPProtected && e.opts.Discounts.MAPProtectedBlockDiscounts {
		return false
	}
	return true
}

// cartDiscounts resolves cart-wide promotions and coupons and returns each line's share.
func (e *Engine) cartDiscounts(lines []pricedLine, promos []domain.Promotion, b *builder) []int64 {
	weights := make([]int64, len(lines))
	var itemsTotal int64
	for i, pl := range lines {
		itemsTotal += pl.pricing.LineTotalCents
		if e.cartDiscountEligible(pl) {
			weights[i] = pl.pricing.LineTotalCents
		}
	}

	var candidates []domain.Promotion
	for _, p := range promos {
		if !p.IsLineLevel() && itemsTotal >= p.MinSubtotalCents {
			candidates = append(candidates, p)
		}
	}
	candidates = e.couponOverride(candidates)

	var base int64
	for _, w := range weights {
		base += w
	}
	applied := e.stacker.Resolve(candidates, base)
	amount := total(applied)
	for _, a := range applied {
		b.discount(domain.DiscountBreakdown{RuleID: a.Promotion.ID, Code: a.Promotion.Code, Label: a.Promotion.Name, AmountCents: a.AmountCents})
		b.rule(a.Promotion.ID, a.Promotion.Version, "promotion")
	}
	b.result.DiscountTotalCents += amount
	return allocate(amount, weights)
}

func (e *Engine) cartDiscountEligible(pl pricedLine) bool {
	d := e.opts.Discounts
	switch {
	case pl.pricing.MAPProtected && d.MAPProtectedBlockDiscounts:
		return false
	case pl.discounted && d.PreventDoubleDiscount:
		return false
	case pl.contracted && d.B2BContractsOverridePromotions:
		return false
	}
	return pl.pricing.LineTotalCents > 0
}

func (e *Engine) applyTax(ctx context.Context, cart *domain.Cart, lines []pricedLine, shares []int64, b *builder) error {
	for i := range lines {
		lp := lines[i].pricing
		lp.TaxBaseCents = lp.LineTotalCents - shares[i]
		if lp.TaxBaseCents < 0 {
			lp.TaxBaseCents = 0
		}
		rate, err := e.taxRate(ctx, cart.ShippingAddress, lines[i].meta.TaxClass)
		if err != nil {
			return fmt.Errorf("line %s tax: %w", lp.LineID, err)
		}
		lp.TaxRate = rate
		lp.TaxAmountCents = applyRate(lp.TaxBaseCents, rate)
		b.tax(taxKindGoods, rate, lp.TaxBaseCents, lp.TaxAmountCents)
		b.result.Lines = append(b.result.Lines, lp)
	}
	return nil
}

func (e *Engine) applyShipping(ctx context.Context, cart *domain.Cart, b *builder) error {
	if cart.ShippingAddress == nil || e.deps.Shipping == nil {
		return nil
	}
	net := b.result.SubtotalCents - b.result.DiscountTotalCents
	quote, err := e.deps.Shipping.Quote(ctx, *cart.ShippingAddress, cart.Currency, net)
	if err != nil {
		return fmt.Errorf("shipping: %w", err)
	}
	if quote == nil {
		b.warn("no shipping method available for address")
		return nil
	}
	q := *quote
	if e.opts.ShippingTaxable && q.AmountCents > 0 {
		rate, err := e.taxRate(ctx, cart.ShippingAddress, ShippingTaxClass)
		if err != nil {
			return fmt.Errorf("shipping tax: %w", err)
		}
		q.TaxRate = rate
		q.TaxCents = applyRate(q.AmountCents, rate)
		b.tax(taxKindShipping, rate, q.AmountCents, q.TaxCents)
	}
	b.result.ShippingBreakdown = &q
	b.result.ShippingTotalCents = q.AmountCents
	return nil
}

// taxRate returns zero without an address or a matching rate.
func (e *Engine) taxRate(ctx context.Context, addr *domain.Address, taxClass string) (decimal.Decimal, error) {
	if addr == nil || e.deps.Taxes == nil {
		return decimal.Zero, nil
	}
	if taxClass == "" {
		taxClass = "standard"
	}
	tr, err := e.deps.Taxes.TaxRate(ctx, *addr, taxClass)
	if errors.Is(err, domain.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return tr.Rate, nil
}

// basePrice falls back to converting the default-currency price when the cart currency
// has none.
func (e *Engine) basePrice(ctx context.Context, variantID, currency string, b *builder) (domain.BasePrice, error) {
	bp, err := e.deps.Inputs.GetBasePrice(ctx, variantID, currency)
	if err == nil {
		return bp, nil
	}
	fallback := e.opts.DefaultCurrency
	if !errors.Is(err, domain.ErrNotFound) || fallback == "" || strings.EqualFold(fallback, currency) {
		return domain.BasePrice{}, fmt.Errorf("base price %s/%s: %w", variantID, currency, err)
	}

	src, err := e.deps.Inputs.GetBasePrice(ctx, variantID, fallback)
	if err != nil {
		return domain.BasePrice{}, fmt.Errorf("base price %s/%s: %w", variantID, fallback, err)
	}
	rates, err := e.deps.Inputs.GetCurrencyRates(ctx, fallback)
	if err != nil {
		return domain.BasePrice{}, fmt.Errorf("currency rates %s: %w", fallback, err)
	}
	rate, ok := rates.Rates[currency]
	if !ok {
		return domain.BasePrice{}, fmt.Errorf("rate %s->%s: %w", fallback, currency, domain.ErrNotFound)
	}

	converted := domain.BasePrice{VariantID: variantID, Currency: currency, AmountCents: applyRate(src.AmountCents, rate)}
	for _, t := range src.Tiers {
		converted.Tiers = append(converted.Tiers, domain.PriceTier{Name: t.Name, MinQuantity: t.MinQuantity, AmountCents: applyRate(t.AmountCents, rate)})
	}
	b.warn(fmt.Sprintf("variant %s converted from %s at %s", variantID, fallback, rate.String()))
	return converted, nil
}

// couponOverride keeps only coupons when any coupon is eligible and manual coupons override
// automatic promotions.
func (e *Engine) couponOverride(promos []domain.Promotion) []domain.Promotion {
	if !e.opts.Discounts.ManualCouponsOverrideAuto {
		return promos
	}
	var coupons []domain.Promotion
	for _, p := range promos {
		if p.IsCoupon() {
			coupons = append(coupons, p)
		}
	}
	if len(coupons) > 0 {
		return coupons
	}
	return promos
}

// activePromotions drops promotions outside their window and coupons the cart has not entered.
func activePromotions(promos []domain.Promotion, now time.Time, codes []string) []domain.Promotion {
	var out []domain.Promotion
	for _, p := range promos {
		if !p.ActiveAt(now) {
			continue
		}
		if p.IsCoupon() && !hasCode(codes, p.Code) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func hasCode(codes []string, code string) bool {
	for _, c := range codes {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

func linePromotions(promos []domain.Promotion, variantID string) []domain.Promotion {
	var out []domain.Promotion
	for _, p := range promos {
		if p.IsLineLevel() && p.AppliesToVariant(variantID) {
			out = append(out, p)
		}
	}
	return out
}

// activeContracts indexes active contract prices by variant, the highest contract version winning.
func activeContracts(list []domain.ContractPrice, now time.Time) map[string]domain.ContractPrice {
	out := make(map[string]domain.ContractPrice, len(list))
	for _, c := range list {
		if !c.ActiveAt(now) {
			continue
		}
		cur, ok := out[c.VariantID]
		if !ok || c.Version > cur.Version || (c.Version == cur.Version && c.ContractID < cur.ContractID) {
			out[c.VariantID] = c
		}
	}
	return out
}

// tierFor returns the tier with the highest minimum quantity not above qty.
func tierFor(tiers []domain.PriceTier, qty int) *domain.PriceTier {
	var best *domain.PriceTier
	for i := range tiers {
		t := &tiers[i]
		if t.MinQuantity > qty {
			continue
		}
		if best == nil || t.MinQuantity > best.MinQuantity {
			best = t
		}
	}
	return best
}

// lineBreakdown spreads the effective line discount over the applied promotions in order,
// trimming the later ones when a MAP floor reduced the discount.
func lineBreakdown(applied []Application, qty int, lineDiscount int64) []domain.DiscountBreakdown {
	var out []domain.DiscountBreakdown
	left := lineDiscount
	for _, a := range applied {
		if left <= 0 {
			break
		}
		amount := a.AmountCents * int64(qty)
		if amount > left {
			amount = left
		}
		left -= amount
		out = append(out, domain.DiscountBreakdown{RuleID: a.Promotion.ID, Code: a.Promotion.Code, Label: a.Promotion.Name, AmountCents: amount})
	}
	return out
}

type builder struct {
	result   *domain.PricingResult
	rules    map[string]domain.AppliedRule
	taxes    map[string]*domain.TaxBreakdown
	discIdx  map[string]int
	warnSeen map[string]bool
}

func newBuilder(cart *domain.Cart, version int64, now time.Time) *builder {
	return &builder{
		result: &domain.PricingResult{
			CartID:         cart.ID,
			Currency:       cart.Currency,
			Channel:        cart.Channel,
			PricingVersion: version,
			CalculatedAt:   now,
			Lines:          []domain.LineItemPricing{},
		},
		rules:    map[string]domain.AppliedRule{},
		taxes:    map[string]*domain.TaxBreakdown{},
		discIdx:  map[string]int{},
		warnSeen: map[string]bool{},
	}
}

func (b *builder) warn(msg string) {
	if b.warnSeen[msg] {
		return
	}
	b.warnSeen[msg] = true
	b.result.Warnings = append(b.result.Warnings, msg)
}

func (b *builder) rule(id string, version int, kind string) {
	b.rules[kind+"|"+id] = domain.AppliedRule{RuleID: id, Version: version, Kind: kind}
}

// discount merges entries of the same rule into one breakdown row.
func (b *builder) discount(d domain.DiscountBreakdown) {
	if i, ok := b.discIdx[d.RuleID]; ok {
		b.result.DiscountBreakdown[i].AmountCents += d.AmountCents
		return
	}
	b.discIdx[d.RuleID] = len(b.result.DiscountBreakdown)
	b.result.DiscountBreakdown = append(b.result.DiscountBreakdown, d)
}

func (b *builder) tax(kind string, rate decimal.Decimal, base, amount int64) {
	key := kind + "|" + rate.String()
	if t, ok := b.taxes[key]; ok {
		t.BaseCents += base
		t.AmountCents += amount
	} else {
		b.taxes[key] = &domain.TaxBreakdown{Rate: rate, Kind: kind, BaseCents: base, AmountCents: amount}
	}
	b.result.TaxTotalCents += amount
}

func (b *builder) finish() *domain.PricingResult {
	r := b.result
	for _, t := range b.taxes {
		r.TaxBreakdown = append(r.TaxBreakdown, *t)
	}
	sort.Slice(r.TaxBreakdown, func(i, j int) bool {
		if r.TaxBreakdown[i].Kind != r.TaxBreakdown[j].Kind {
			return r.TaxBreakdown[i].Kind < r.TaxBreakdown[j].Kind
		}
		return r.TaxBreakdown[i].Rate.LessThan(r.TaxBreakdown[j].Rate)
	})
	for _, rule := range b.rules {
		r.AppliedRules = append(r.AppliedRules, rule)
	}
	sort.Slice(r.AppliedRules, func(i, j int) bool {
		if r.AppliedRules[i].Kind != r.AppliedRules[j].Kind {
			return r.AppliedRules[i].Kind < r.AppliedRules[j].Kind
		}
		return r.AppliedRules[i].RuleID < r.AppliedRules[j].RuleID
	})

	r.GrandTotalCents = r.SubtotalCents - r.DiscountTotalCents + r.TaxTotalCents + r.ShippingTotalCents
	if r.GrandTotalCents < 0 {
		r.GrandTotalCents = 0
	}
	return r
}
