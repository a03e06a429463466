package pricingcache

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"commerce-checkout/internal/config"
)

// Type names a family of cached pricing inputs. Each type has its own TTL and version counter.
type Type string

const (
	TypeAttributeMetadata   Type = "attribute_metadata"
	TypeVariantAvailability Type = "variant_availability"
	TypeBasePrice           Type = "base_price"
	TypeContractPrices      Type = "contract_prices"
	TypePromotions          Type = "promotions"
	TypeCurrencyRates       Type = "currency_rates"
)

// Types lists every cached type.
func Types() []Type {
	return []Type{
		TypeAttributeMetadata,
		TypeVariantAvailability,
		TypeBasePrice,
		TypeContractPrices,
		TypePromotions,
		TypeCurrencyRates,
	}
}

func (t Type) Valid() bool {
	for _, known := range Types() {
		if known == t {
			return true
		}
	}
	return false
}

// TTLs maps each type to its shared-store TTL.
type TTLs map[Type]time.Duration

// DefaultTTLs are the stock lifetimes per type.
func DefaultTTLs() TTLs {
	return TTLs{
		TypeAttributeMetadata:   2 * time.Hour,
		TypeVariantAvailability: 30 * time.Minute,
		TypeBasePrice:           time.Hour,
		TypeContractPrices:      2 * time.Hour,
		TypePromotions:          30 * time.Minute,
		TypeCurrencyRates:       5 * time.Minute,
	}
}

// TTLsFromConfig maps the configured lifetimes, keeping defaults for zero values.
func TTLsFromConfig(c config.CacheTTL) TTLs {
	ttls := DefaultTTLs()
	set := func(t Type, d time.Duration) {
		if d > 0 {
			ttls[t] = d
		}
	}
	set(TypeAttributeMetadata, c.AttributeMetadata)
	set(TypeVariantAvailability, c.VariantAvailability)
	set(TypeBasePrice, c.BasePrice)
	set(TypeContractPrices, c.ContractPrices)
	set(TypePromotions, c.Promotions)
	set(TypeCurrencyRates, c.CurrencyRates)
	return ttls
}

type params map[string]string

// encode renders params sorted by name as k1=v1,k2=v2.
func (p params) encode() string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, k+"="+p[k])
	}
	return strings.Join(parts, ",")
}

// scopeKey identifies an entry independent of its version.
func scopeKey(t Type, p params) string {
	return string(t) + ":" + p.encode()
}

// entryKey is {prefix}:{type}:{params},v={version}. The version always comes last so every
// param is followed by a comma, which keeps tag patterns exact.
func entryKey(prefix string, t Type, p params, version int64) string {
	enc := p.encode()
	if enc != "" {
		enc += ","
	}
	return prefix + ":" + string(t) + ":" + enc + "v=" + strconv.FormatInt(version, 10)
}

func versionKey(prefix string, t Type) string {
	return prefix + ":version:" + string(t)
}

// tagPatterns returns the glob patterns matching every entry carrying tag. A tag is either a
// type name or a single name=value param.
func tagPatterns(prefix, tag string) []string {
	if Type(tag).Valid() {
		return []string{prefix + ":" + tag + ":*"}
	}
	return []string{
		prefix + ":*:" + tag + ",*",
		prefix + ":*," + tag + ",*",
	}
}

// typesForTag reports which types can hold entries carrying tag.
func typesForTag(tag string) []Type {
	if Type(tag).Valid() {
		return []Type{Type(tag)}
	}
	name, _, _ := strings.Cut(tag, "=")
	switch name {
	case "product_id":
		return []Type{TypeAttributeMetadata, TypeVariantAvailability}
	case "variant_id":
		return []Type{TypeBasePrice}
	case "company_id":
		return []Type{TypeContractPrices}
	case "channel":
		return []Type{TypePromotions}
	case "currency":
		return []Type{TypeBasePrice, TypeContractPrices, TypePromotions}
	case "base":
		return []Type{TypeCurrencyRates}
	}
	return nil
}

// ValidTag reports whether InvalidateByTag accepts tag.
func ValidTag(tag string) bool {
	return len(typesForTag(tag)) > 0
}
