// Package pricingcache is a versioned read-through cache for pricing inputs. It never holds
// final totals or stock counts. Store failures fall back to the backing source.
package pricingcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"commerce-checkout/internal/cache"
	"commerce-checkout/internal/domain"

	"golang.org/x/sync/singleflight"
)

// Source is the backing data store the cache reads through to.
type Source interface {
	AttributeMetadata(ctx context.Context, productID string) (domain.AttributeMetadata, error)
	VariantAvailability(ctx context.Context, productID string) (domain.VariantAvailability, error)
	BasePrice(ctx context.Context, variantID, currency string) (domain.BasePrice, error)
	ContractPrices(ctx context.Context, companyID, currency string) ([]domain.ContractPrice, error)
	Promotions(ctx context.Context, currency, channel string) ([]domain.Promotion, error)
	CurrencyRates(ctx context.Context, base string) (domain.CurrencyRates, error)
}

// Recorder receives lookup outcomes. result is one of scope, hit, miss or bypass.
type Recorder interface {
	CacheLookup(cacheType, result string)
}

type Options struct {
	Prefix     string
	Versioning bool
	TTLs       TTLs
}

type Cache struct {
	store    cache.Store
	source   Source
	opts     Options
	logger   *slog.Logger
	recorder Recorder
	group    singleflight.Group
	now      func() time.Time
}

func New(store cache.Store, source Source, opts Options, logger *slog.Logger, recorder Recorder) *Cache {
	if store == nil {
		store = cache.NoopStore{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Prefix == "" {
		opts.Prefix = "pricing"
	}
	if opts.TTLs == nil {
		opts.TTLs = DefaultTTLs()
	}
	return &Cache{store: store, source: source, opts: opts, logger: logger, recorder: recorder, now: time.Now}
}

// WithClock replaces the clock that seeds version counters.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func (c *Cache) GetAttributeMetadata(ctx context.Context, productID string) (domain.AttributeMetadata, error) {
	return readThrough(ctx, c, TypeAttributeMetadata, params{"product_id": productID},
		func(ctx context.Context) (domain.AttributeMetadata, error) {
			return c.source.AttributeMetadata(ctx, productID)
		})
}

func (c *Cache) GetVariantAvailabilityMatrix(ctx context.Context, productID string) (domain.VariantAvailability, error) {
	return readThrough(ctx, c, TypeVariantAvailability, params{"product_id": productID},
		func(ctx context.Context) (domain.VariantAvailability, error) {
			return c.source.VariantAvailability(ctx, productID)
		})
}

func (c *Cache) GetBasePrice(ctx context.Context, variantID, currency string) (domain.BasePrice, error) {
	return readThrough(ctx, c, TypeBasePrice, params{"variant_id": variantID, "currency": currency},
		func(ctx context.Context) (domain.BasePrice, error) {
			return c.source.BasePrice(ctx, variantID, currency)
		})
}

func (c *Cache) GetContractPriceList(ctx context.Context, companyID, currency string) ([]domain.ContractPrice, error) {
	return readThrough(ctx, c, TypeContractPrices, params{"company_id": companyID, "currency": currency},
		func(ctx context.Context) ([]domain.ContractPrice, error) {
			return c.source.ContractPrices(ctx, companyID, currency)
		})
}

func (c *Cache) GetPromotionDefinitions(ctx context.Context, currency, channel string) ([]domain.Promotion, error) {
	return readThrough(ctx, c, TypePromotions, params{"currency": currency, "channel": channel},
		func(ctx context.Context) ([]domain.Promotion, error) {
			return c.source.Promotions(ctx, currency, channel)
		})
}

func (c *Cache) GetCurrencyRates(ctx context.Context, base string) (domain.CurrencyRates, error) {
	return readThrough(ctx, c, TypeCurrencyRates, params{"base": base},
		func(ctx context.Context) (domain.CurrencyRates, error) {
			return c.source.CurrencyRates(ctx, base)
		})
}

// readThrough checks the request scope, then the shared store, then the source.
// Values served from the scope are shared; callers must not mutate them.
func readThrough[T any](ctx context.Context, c *Cache, t Type, p params, load func(context.Context) (T, error)) (T, error) {
	var zero T
	scope := scopeFrom(ctx)
	sk := scopeKey(t, p)
	if v, ok := scope.load(sk); ok {
		c.record(t, "scope")
		return v.(T), nil
	}

	version, cacheable := c.version(ctx, t)
	key := entryKey(c.opts.Prefix, t, p, version)
	if cacheable {
		data, err := c.store.Get(ctx, key)
		switch {
		case err == nil:
			var v T
			uerr := json.Unmarshal(data, &v)
			if uerr == nil {
				c.record(t, "hit")
				scope.store(sk, v)
				return v, nil
			}
			c.logger.WarnContext(ctx, "pricing cache: decode failed", "key", key, "error", uerr)
		case errors.Is(err, cache.ErrCacheMiss):
		default:
			c.logger.DebugContext(ctx, "pricing cache: store get failed", "key", key, "error", err)
			cacheable = false
		}
	}

	if cacheable {
		c.record(t, "miss")
	} else {
		c.record(t, "bypass")
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		return load(ctx)
	})
	if err != nil {
		return zero, fmt.Errorf("load %s: %w", t, err)
	}
	v := res.(T)

	if cacheable {
		if data, merr := json.Marshal(v); merr == nil {
			if serr := c.store.Set(ctx, key, data, c.opts.TTLs[t]); serr != nil {
				c.logger.DebugContext(ctx, "pricing cache: store set failed", "key", key, "error", serr)
			}
		}
	}
	scope.store(sk, v)
	return v, nil
}

// version returns the current version of t and whether the shared store can be used.
func (c *Cache) version(ctx context.Context, t Type) (int64, bool) {
	if !c.opts.Versioning {
		return 0, true
	}
	scope := scopeFrom(ctx)
	vk := versionKey(c.opts.Prefix, t)
	if v, ok := scope.load(vk); ok {
		return v.(int64), true
	}
	data, err := c.store.Get(ctx, vk)
	var n int64
	switch {
	case err == nil:
		parsed, perr := strconv.ParseInt(string(data), 10, 64)
		if perr != nil {
			c.logger.WarnContext(ctx, "pricing cache: bad version counter", "key", vk, "error", perr)
			return 0, false
		}
		n = parsed
	case errors.Is(err, cache.ErrCacheMiss):
		seeded, serr := c.seedVersion(ctx, vk)
		if serr != nil {
			c.logger.DebugContext(ctx, "pricing cache: version seed failed", "key", vk, "error", serr)
			return 0, false
		}
		n = seeded
	default:
		c.logger.DebugContext(ctx, "pricing cache: version read failed", "key", vk, "error", err)
		return 0, false
	}
	scope.store(vk, n)
	return n, true
}

// seedVersion starts a missing counter at the clock in nanoseconds, which keeps a restarted
// counter above every version the lost one reached.
func (c *Cache) seedVersion(ctx context.Context, vk string) (int64, error) {
	n := c.now().UnixNano()
	if err := c.store.Set(ctx, vk, []byte(strconv.FormatInt(n, 10)), 0); err != nil {
		return 0, err
	}
	return n, nil
}

// InvalidateByVersion bumps the version of t. Existing entries become unreachable and age out.
func (c *Cache) InvalidateByVersion(ctx context.Context, t Type) (int64, error) {
	if !t.Valid() {
		return 0, fmt.Errorf("unknown cache type %q", t)
	}
	if !c.opts.Versioning {
		_, err := c.deletePatterns(ctx, tagPatterns(c.opts.Prefix, string(t)))
		return 0, err
	}
	vk := versionKey(c.opts.Prefix, t)
	n, err := c.store.Incr(ctx, vk)
	if err != nil {
		return 0, fmt.Errorf("bump %s version: %w", t, err)
	}
	if n == 1 {
		// The counter was missing, so 1 may name entries written before it was lost.
		if n, err = c.seedVersion(ctx, vk); err != nil {
			return 0, fmt.Errorf("seed %s version: %w", t, err)
		}
	}
	c.logger.InfoContext(ctx, "pricing cache: version bumped", "type", string(t), "version", n)
	return n, nil
}

// InvalidateByTag bumps every type the tag can appear in and then deletes the matching
// entries when the store supports pattern scan. Deletion is best effort.
func (c *Cache) InvalidateByTag(ctx context.Context, tag string) error {
	types := typesForTag(tag)
	if len(types) == 0 {
		return fmt.Errorf("unknown cache tag %q", tag)
	}
	var errs []error
	if c.opts.Versioning {
		for _, t := range types {
			if _, err := c.InvalidateByVersion(ctx, t); err != nil {
				errs = append(errs, err)
			}
		}
	}
	deleted, err := c.deletePatterns(ctx, tagPatterns(c.opts.Prefix, tag))
	if err != nil && !errors.Is(err, cache.ErrScanUnsupported) {
		c.logger.WarnContext(ctx, "pricing cache: tag delete failed", "tag", tag, "error", err)
	}
	c.logger.InfoContext(ctx, "pricing cache: tag invalidated", "tag", tag, "deleted", deleted)
	return errors.Join(errs...)
}

func (c *Cache) deletePatterns(ctx context.Context, patterns []string) (int, error) {
	total := 0
	for _, p := range patterns {
		n, err := c.store.DeletePattern(ctx, p)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *Cache) record(t Type, result string) {
	if c.recorder != nil {
		c.recorder.CacheLookup(string(t), result)
	}
}
