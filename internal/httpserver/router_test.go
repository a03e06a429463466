package httpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"commerce-checkout/internal/domain"
	"commerce-checkout/internal/metrics"
	"commerce-checkout/internal/pricingcache"
	checkoutsvc "commerce-checkout/internal/service/checkout"

	"github.com/gin-gonic/gin"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubCartService struct {
	cart      *domain.Cart
	getErr    error
	changeErr error
	lastCart  string
	lastLine  string
	lastQty   int
}

func (s *stubCartService) Get(_ context.Context, id string) (*domain.Cart, error) {
	s.lastCart = id
	return s.cart, s.getErr
}

func (s *stubCartService) ChangeQuantity(_ context.Context, cartID, lineID string, quantity int) (*domain.Cart, error) {
	s.lastCart, s.lastLine, s.lastQty = cartID, lineID, quantity
	if s.changeErr != nil {
		return nil, s.changeErr
	}
	return s.cart, nil
}

type stubPricingService struct {
	result      *domain.PricingResult
	err         error
	lastTrigger domain.RepriceTrigger
}

func (s *stubPricingService) RepriceAndStore(_ context.Context, _ *domain.Cart, trigger domain.RepriceTrigger) (*domain.PricingResult, error) {
	s.lastTrigger = trigger
	return s.result, s.err
}

type stubIntegrityService struct {
	verified bool
	expired  bool
}

func (s stubIntegrityService) VerifyPriceHash(*domain.Cart) bool      { return s.verified }
func (s stubIntegrityService) CheckPriceExpiration(*domain.Cart) bool { return s.expired }

type stubCheckoutService struct {
	lock         *domain.CheckoutLock
	err          error
	health       checkoutsvc.Health
	healthErr    error
	lastStart    checkoutsvc.StartInput
	lastReason   string
	lastExpected int64
}

func (s *stubCheckoutService) Start(_ context.Context, in checkoutsvc.StartInput) (*domain.CheckoutLock, error) {
	s.lastStart = in
	return s.lock, s.err
}

func (s *stubCheckoutService) Get(_ context.Context, _ string) (*domain.CheckoutLock, error) {
	return s.lock, s.err
}

func (s *stubCheckoutService) Resume(_ context.Context, _ string, expected int64) (*domain.CheckoutLock, error) {
	s.lastExpected = expected
	return s.lock, s.err
}

func (s *stubCheckoutService) Release(_ context.Context, _ string, reason string) (*domain.CheckoutLock, error) {
	s.lastReason = reason
	return s.lock, s.err
}

func (s *stubCheckoutService) Health(context.Context) (checkoutsvc.Health, error) {
	return s.health, s.healthErr
}

type stubCacheAdmin struct {
	lastType pricingcache.Type
	lastTag  string
}

func (s *stubCacheAdmin) InvalidateByVersion(_ context.Context, t pricingcache.Type) (int64, error) {
	s.lastType = t
	return 7, nil
}

func (s *stubCacheAdmin) InvalidateByTag(_ context.Context, tag string) error {
	s.lastTag = tag
	return nil
}

func logDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testDeps struct {
	carts    *stubCartService
	pricing  *stubPricingService
	checkout *stubCheckoutService
	cache    *stubCacheAdmin
}

func newTestRouter(t *testing.T, db Pinger, mutate func(*Deps)) (*gin.Engine, testDeps) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	td := testDeps{
		carts:    &stubCartService{cart: &domain.Cart{ID: "cart-1", Status: domain.CartStatusActive}},
		pricing:  &stubPricingService{},
		checkout: &stubCheckoutService{},
		cache:    &stubCacheAdmin{},
	}
	deps := Deps{
		CartSvc:      td.carts,
		PricingSvc:   td.pricing,
		IntegritySvc: stubIntegrityService{verified: true},
		CheckoutSvc:  td.checkout,
		CacheAdmin:   td.cache,
	}
	if mutate != nil {
		mutate(&deps)
	}
	router, err := buildRouter(logDiscard(), db, deps)
	if err != nil {
		t.Fatalf("build router: %v", err)
	}
	return router, td
}

func serve(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestBuildRouter_RequiresServices(t *testing.T) {
	gin.SetMode(gin.TestMode)
	if _, err := buildRouter(logDiscard(), nil, Deps{}); err == nil {
		t.Fatalf("expected error for missing services")
	}
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil)
	rec := serve(router, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	cases := []struct {
		name   string
		db     Pinger
		health checkoutsvc.Health
		hErr   error
		want   int
		status string
	}{
		{name: "no db", db: nil, want: http.StatusServiceUnavailable, status: `"unavailable"`},
		{name: "db down", db: stubPinger{err: errors.New("refused")}, want: http.StatusServiceUnavailable, status: `"unavailable"`},
		{name: "health error", db: stubPinger{}, hErr: errors.New("boom"), want: http.StatusServiceUnavailable, status: `"unavailable"`},
		{name: "expired locks", db: stubPinger{}, health: checkoutsvc.Health{ExpiredUncleaned: 2}, want: http.StatusServiceUnavailable, status: `"degraded"`},
		{name: "stuck locks", db: stubPinger{}, health: checkoutsvc.Health{Stuck: 1}, want: http.StatusServiceUnavailable, status: `"degraded"`},
		{name: "ready", db: stubPinger{}, want: http.StatusOK, status: `"ready"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router, td := newTestRouter(t, tc.db, nil)
			td.checkout.health = tc.health
			td.checkout.healthErr = tc.hErr
			rec := serve(router, http.MethodGet, "/readyz", "")
			if rec.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tc.status) {
				t.Fatalf("expected %s in body, got %s", tc.status, rec.Body.String())
			}
		})
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	m := metrics.New()
	router, _ := newTestRouter(t, nil, func(d *Deps) { d.Metrics = m })

	serve(router, http.MethodGet, "/healthz", "")
	rec := serve(router, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	want := `checkout_http_requests_total{route="/healthz",status="200"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("expected %q in exposition", want)
	}
}

func TestCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t, nil, func(d *Deps) { d.CORSOrigins = []string{"https://shop.example.com"} })

	req := httptest.NewRequest(http.MethodOptions, "/carts/cart-1/checkout", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestAdminRouteAbsentWithoutCache(t *testing.T) {
	router, _ := newTestRouter(t, nil, func(d *Deps) { d.CacheAdmin = nil })
	rec := serve(router, http.MethodPost, "/admin/pricing-cache/invalidate", `{"type":"promotions"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}
