package pricingcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"commerce-checkout/internal/domain"
)

// VersionBumper advances the global pricing version stamped onto every snapshot.
type VersionBumper interface {
	Bump(ctx context.Context) (int64, error)
}

// Invalidator maps catalog-side domain events to cache version bumps.
type Invalidator struct {
	cache    *Cache
	versions VersionBumper
	logger   *slog.Logger
}

func NewInvalidator(cache *Cache, versions VersionBumper, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Invalidator{cache: cache, versions: versions, logger: logger}
}

// TypesFor reports which cache types an event invalidates. Cart-scoped events return nil.
func TypesFor(trigger domain.RepriceTrigger) []Type {
	switch trigger {
	case domain.TriggerPriceChanged:
		return []Type{TypeBasePrice}
	case domain.TriggerPromotionActivated, domain.TriggerPromotionExpired:
		return []Type{TypePromotions}
	case domain.TriggerContractValidityChanged:
		return []Type{TypeContractPrices}
	case domain.TriggerStockChanged:
		return []Type{TypeVariantAvailability}
	case domain.TriggerCurrencyRatesChanged:
		return []Type{TypeCurrencyRates}
	case domain.TriggerAttributeChanged:
		return []Type{TypeAttributeMetadata}
	}
	return nil
}

// Handle invalidates the cache types touched by evt and bumps the global pricing version.
// A product_id in the event context additionally drops that product's entries by tag.
// It reports whether the event changed any priced input.
func (i *Invalidator) Handle(ctx context.Context, evt domain.CartEvent) (bool, error) {
	types := TypesFor(evt.Trigger)
	if len(types) == 0 {
		return false, nil
	}
	var errs []error
	for _, t := range types {
		if _, err := i.cache.InvalidateByVersion(ctx, t); err != nil {
			i.logger.WarnContext(ctx, "cache invalidation: version bump failed", "type", string(t), "trigger", string(evt.Trigger), "error", err)
			errs = append(errs, err)
		}
	}
	if pid := evt.Context["product_id"]; pid != "" {
		if err := i.cache.InvalidateByTag(ctx, "product_id="+pid); err != nil {
			errs = append(errs, err)
		}
	}
	if i.versions != nil {
		v, err := i.versions.Bump(ctx)
		if err != nil {
			return true, fmt.Errorf("bump pricing version: %w", err)
		}
		i.logger.InfoContext(ctx, "cache invalidation: pricing version bumped", "trigger", string(evt.Trigger), "pricing_version", v)
	}
	// Cache bump failures leave entries to age out by TTL; they are not fatal.
	if err := errors.Join(errs...); err != nil {
		i.logger.DebugContext(ctx, "cache invalidation: partial", "error", err)
	}
	return true, nil
}
