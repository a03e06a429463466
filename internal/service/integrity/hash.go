package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strconv"
	"strings"

	"commerce-checkout/internal/domain"
)

// canonicalFields renders the hashed subset of a pricing result in a fixed order.
func canonicalFields(cartID string, r *domain.PricingResult) string {
	fields := []string{
		cartID,
		r.Currency,
		r.Channel,
		strconv.FormatInt(r.SubtotalCents, 10),
		strconv.FormatInt(r.DiscountTotalCents, 10),
		strconv.FormatInt(r.TaxTotalCents, 10),
		strconv.FormatInt(r.ShippingTotalCents, 10),
		strconv.FormatInt(r.GrandTotalCents, 10),
		strconv.FormatInt(r.PricingVersion, 10),
		strconv.Itoa(len(r.Lines)),
	}
	return strings.Join(fields, "|")
}

// GeneratePriceHash digests the canonical fields of result for cart. With a secret configured
// the digest is an HMAC, so a client cannot recompute it after editing totals.
func (s *Service) GeneratePriceHash(cart *domain.Cart, result *domain.PricingResult) string {
	var h hash.Hash
	if s.opts.HashSecret != "" {
		h = hmac.New(sha256.New, []byte(s.opts.HashSecret))
	} else {
		h = sha256.New()
	}
	h.Write([]byte(canonicalFields(cart.ID, result)))
	return hex.EncodeToString(h.Sum(nil))
}

// Stamp writes the price hash onto result.
func (s *Service) Stamp(cart *domain.Cart, result *domain.PricingResult) {
	result.PriceHash = s.GeneratePriceHash(cart, result)
}

// VerifyPriceHash recomputes the snapshot digest and compares it in constant time.
// A cart without a snapshot or hash is not verified.
func (s *Service) VerifyPriceHash(cart *domain.Cart) bool {
	if cart == nil || cart.PricingSnapshot == nil || cart.PricingSnapshot.PriceHash == "" {
		return false
	}
	want := s.GeneratePriceHash(cart, cart.PricingSnapshot)
	return hmac.Equal([]byte(want), []byte(cart.PricingSnapshot.PriceHash))
}

func (s *Service) DetectPriceMismatch(cart *domain.Cart) bool {
	return !s.VerifyPriceHash(cart)
}
