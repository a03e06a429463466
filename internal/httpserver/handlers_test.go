package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"commerce-checkout/internal/domain"
	"commerce-checkout/internal/pricingcache"
	cartsvc "commerce-checkout/internal/service/cart"
)

func TestRepriceCart(t *testing.T) {
	router, td := newTestRouter(t, nil, nil)
	td.pricing.result = &domain.PricingResult{CartID: "cart-1", GrandTotalCents: 4200, PricingVersion: 3}

	rec := serve(router, http.MethodPost, "/carts/cart-1/reprice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if td.pricing.lastTrigger != domain.TriggerManual {
		t.Fatalf("expected manual trigger, got %s", td.pricing.lastTrigger)
	}
	var got domain.PricingResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.GrandTotalCents != 4200 || got.PricingVersion != 3 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestRepriceCart_EmptyCart(t *testing.T) {
	router, td := newTestRouter(t, nil, nil)
	td.pricing.err = domain.ErrEmptyCart
	rec := serve(router, http.MethodPost, "/carts/cart-1/reprice", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}
}

func TestCartPricing(t *testing.T) {
	router, td := newTestRouter(t, nil, nil)

	rec := serve(router, http.MethodGet, "/carts/cart-1/pricing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unpriced cart, got %d", rec.Code)
	}

	td.carts.cart.PricingSnapshot = &domain.PricingResult{CartID: "cart-1", GrandTotalCents: 2000, PriceHash: "abc"}
	rec = serve(router, http.MethodGet, "/carts/cart-1/pricing", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var got pricingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Verified || got.Expired || got.Snapshot == nil || got.Snapshot.GrandTotalCents != 2000 {
		t.Fatalf("unexpected pricing response: %+v", got)
	}
}

func TestChangeQuantity(t *testing.T) {
	router, td := newTestRouter(t, nil, nil)

	rec := serve(router, http.MethodPost, "/carts/cart-1/lines/line-9/quantity", `{"quantity":0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if td.carts.lastCart != "cart-1" || td.carts.lastLine != "line-9" || td.carts.lastQty != 0 {
		t.Fatalf("unexpected call: %+v", td.carts)
	}

	rec = serve(router, http.MethodPost, "/carts/cart-1/lines/line-9/quantity", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for missing quantity, got %d", rec.Code)
	}
}

func TestChangeQuantity_Errors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "locked", err: domain.ErrCartLocked, want: http.StatusLocked},
		{name: "invalid", err: fmt.Errorf("change: %w", cartsvc.ErrInvalidAction), want: http.StatusBadRequest},
		{name: "missing line", err: domain.ErrNotFound, want: http.StatusNotFound},
		{name: "repository", err: errors.New("db down"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router, td := newTestRouter(t, nil, nil)
			td.carts.changeErr = tc.err
			rec := serve(router, http.MethodPost, "/carts/cart-1/lines/line-1/quantity", `{"quantity":2}`)
			if rec.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestStartCheckout_Created(t *testing.T) {
	router, td := newTestRouter(t, nil, nil)
	td.checkout.lock = &domain.CheckoutLock{ID: "lock-1", CartID: "cart-1", State: domain.CheckoutCompleted, OrderID: "order-1"}

	rec := serve(router, http.MethodPost, "/carts/cart-1/checkout", `{"userId":"u1","ttlMinutes":20,"expectedTotalCents":4000}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	in := td.checkout.lastStart
	if in.CartID != "cart-1" || in.UserID == nil || *in.UserID != "u1" || in.TTLMinutes != 20 || in.ExpectedTotalCents != 4000 {
		t.Fatalf("unexpected start input: %+v", in)
	}
	if !strings.Contains(rec.Body.String(), `"state":"COMPLETED"`) {
		t.Fatalf("expected completed lock in body, got %s", rec.Body.String())
	}
}

func TestStartCheckout_WithoutBody(t *testing.T) {
	router, td := newTestRouter(t, nil, nil)
	td.checkout.lock = &domain.CheckoutLock{ID: "lock-1", State: domain.CheckoutCompleted}
	rec := serve(router, http.MethodPost, "/carts/cart-1/checkout", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	if td.checkout.lastStart.ExpectedTotalCents != 0 || td.checkout.lastStart.UserID != nil {
		t.Fatalf("unexpected start input: %+v", td.checkout.lastStart)
	}
}

func TestStartCheckout_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
		body string
	}{
		{name: "conflict", err: domain.ErrLockConflict, want: http.StatusConflict, body: "try again"},
		{name: "price changed", err: &domain.PriceChangedError{ExpectedCents: 4000, ActualCents: 4200}, want: http.StatusConflict, body: `"newTotalCents":4200`},
		{name: "declined", err: fmt.Errorf("authorize: %w", domain.ErrPaymentDeclined), want: http.StatusPaymentRequired, body: "payment_declined"},
		{name: "timeout", err: domain.ErrPaymentTimeout, want: http.StatusGatewayTimeout, body: "payment_timeout"},
		{name: "rate limited", err: domain.ErrTooManyAttempts, want: http.StatusTooManyRequests, body: "too_many_attempts"},
		{name: "missing cart", err: domain.ErrNotFound, want: http.StatusNotFound, body: "not_found"},
		{name: "locked", err: domain.ErrCartLocked, want: http.StatusLocked, body: "cart_locked"},
		{name: "stock", err: domain.ErrInsufficientStock, want: http.StatusConflict, body: "insufficient_stock"},
		{name: "internal", err: errors.New("connection reset"), want: http.StatusInternalServerError, body: "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router, td := newTestRouter(t, nil, nil)
			td.checkout.err = tc.err
			rec := serve(router, http.MethodPost, "/carts/cart-1/checkout", `{"expectedTotalCents":4000}`)
			if rec.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tc.body) {
				t.Fatalf("expected %q in body, got %s", tc.body, rec.Body.String())
			}
		})
	}
}

func TestStartCheckout_FailedLockReturned(t *testing.T) {
	router, td := newTestRouter(t, nil, nil)
	now := time.Now().UTC()
	td.checkout.lock = &domain.CheckoutLock{ID: "lock-1", State: domain.CheckoutFailed, FailedAt: &now, FailureReason: "payment declined"}
	td.checkout.err = domain.ErrPaymentDeclined

	rec := serve(router, http.MethodPost, "/carts/cart-1/checkout", "")
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Lock == nil || body.Lock.State != domain.CheckoutFailed {
		t.Fatalf("expected failed lock in body, got %+v", body.Lock)
	}
}

func TestGetCheckout(t *testing.T) {
	router, td := newTestRouter(t, nil, nil)
	td.checkout.err = domain.ErrNotFound
	rec := serve(router, http.MethodGet, "/checkouts/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	td.checkout.err = nil
	td.checkout.lock = &domain.CheckoutLock{ID: "lock-1", State: domain.CheckoutAuthorizing}
	rec = serve(router, http.MethodGet, "/checkouts/lock-1", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"state":"AUTHORIZING"`) {
		t.Fatalf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestResumeCheckout(t *testing.T) {
	router, td := newTestRouter(t, nil, nil)
	td.checkout.lock = &domain.CheckoutLock{ID: "lock-1", State: domain.CheckoutCompleted}
	rec := serve(router, http.MethodPost, "/checkouts/lock-1/resume", `{"expectedTotalCents":4200}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if td.checkout.lastExpected != 4200 {
		t.Fatalf("expected confirmed total 4200, got %d", td.checkout.lastExpected)
	}

	td.checkout.err = &domain.TransitionError{From: domain.CheckoutFailed, To: domain.CheckoutValidating, Err: domain.ErrInvalidTransition}
	rec = serve(router, http.MethodPost, "/checkouts/lock-1/resume", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}

	td.checkout.err = domain.ErrLockExpired
	rec = serve(router, http.MethodPost, "/checkouts/lock-1/resume", "")
	if rec.Code != http.StatusGone {
		t.Fatalf("expected status 410, got %d", rec.Code)
	}
}

func TestCancelCheckout(t *testing.T) {
	router, td := newTestRouter(t, nil, nil)
	td.checkout.lock = &domain.CheckoutLock{ID: "lock-1", State: domain.CheckoutFailed}

	rec := serve(router, http.MethodPost, "/checkouts/lock-1/cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if td.checkout.lastReason != "cancelled by client" {
		t.Fatalf("unexpected default reason %q", td.checkout.lastReason)
	}

	serve(router, http.MethodPost, "/checkouts/lock-1/cancel", `{"reason":"changed my mind"}`)
	if td.checkout.lastReason != "changed my mind" {
		t.Fatalf("unexpected reason %q", td.checkout.lastReason)
	}
}

func TestInvalidateCache(t *testing.T) {
	router, td := newTestRouter(t, nil, nil)

	rec := serve(router, http.MethodPost, "/admin/pricing-cache/invalidate", `{"type":"currency_rates"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"version":7`) {
		t.Fatalf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}
	if td.cache.lastType != pricingcache.TypeCurrencyRates {
		t.Fatalf("unexpected type %q", td.cache.lastType)
	}

	rec = serve(router, http.MethodPost, "/admin/pricing-cache/invalidate", `{"tag":"product_id=p1"}`)
	if rec.Code != http.StatusOK || td.cache.lastTag != "product_id=p1" {
		t.Fatalf("unexpected response %d, tag %q", rec.Code, td.cache.lastTag)
	}

	for _, body := range []string{`{}`, `{"type":"nope"}`, `{"tag":"colour=red"}`, `{"type":"promotions","tag":"channel=web"}`} {
		rec = serve(router, http.MethodPost, "/admin/pricing-cache/invalidate", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400 for %s, got %d", body, rec.Code)
		}
	}
}
