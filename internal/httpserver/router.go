package httpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"commerce-checkout/internal/domain"
	"commerce-checkout/internal/pricingcache"
	checkoutsvc "commerce-checkout/internal/service/checkout"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type CartService interface {
	Get(ctx context.Context, id string) (*domain.Cart, error)
	ChangeQuantity(ctx context.Context, cartID, lineID string, quantity int) (*domain.Cart, error)
}

type PricingService interface {
	RepriceAndStore(ctx context.Context, cart *domain.Cart, trigger domain.RepriceTrigger) (*domain.PricingResult, error)
}

type IntegrityService interface {
	VerifyPriceHash(cart *domain.Cart) bool
	CheckPriceExpiration(cart *domain.Cart) bool
}

type CheckoutService interface {
	Start(ctx context.Context, in checkoutsvc.StartInput) (*domain.CheckoutLock, error)
	Get(ctx context.Context, lockID string) (*domain.CheckoutLock, error)
	Resume(ctx context.Context, lockID string, expectedTotalCents int64) (*domain.CheckoutLock, error)
	Release(ctx context.Context, lockID, reason string) (*domain.CheckoutLock, error)
	Health(ctx context.Context) (checkoutsvc.Health, error)
}

type CacheAdmin interface {
	InvalidateByVersion(ctx context.Context, t pricingcache.Type) (int64, error)
	InvalidateByTag(ctx context.Context, tag string) error
}

// RequestRecorder receives one observation per served request.
type RequestRecorder interface {
	Request(route string, status int, took time.Duration)
	Handler() http.Handler
}

type Deps struct {
	CartSvc      CartService
	PricingSvc   PricingService
	IntegritySvc IntegrityService
	CheckoutSvc  CheckoutService
	CacheAdmin   CacheAdmin
	Metrics      RequestRecorder
	CORSOrigins  []string
}

// buildRouter wires routes for the API.
func buildRouter(logger *slog.Logger, db Pinger, deps Deps) (*gin.Engine, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.CartSvc == nil || deps.PricingSvc == nil || deps.IntegritySvc == nil {
		return nil, errors.New("cart, pricing and integrity services are required")
	}
	if deps.CheckoutSvc == nil {
		return nil, errors.New("checkout service is required")
	}

	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(requestLogger(logger, deps.Metrics), gin.Recovery())
	if len(deps.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     deps.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(db, deps.CheckoutSvc))
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	h := &handlers{deps: deps, logger: logger}

	carts := router.Group("/carts/:id")
	carts.POST("/reprice", h.repriceCart)
	carts.GET("/pricing", h.cartPricing)
	carts.POST("/lines/:lineId/quantity", h.changeQuantity)
	carts.POST("/checkout", h.startCheckout)

	checkouts := router.Group("/checkouts/:id")
	checkouts.GET("", h.getCheckout)
	checkouts.POST("/resume", h.resumeCheckout)
	checkouts.POST("/cancel", h.cancelCheckout)

	if deps.CacheAdmin != nil {
		router.POST("/admin/pricing-cache/invalidate", h.invalidateCache)
	}

	return router, nil
}

type handlers struct {
	deps   Deps
	logger *slog.Logger
}

// requestLogger logs each request and feeds the request metrics. The route label is the
// matched pattern so path parameters do not explode metric cardinality.
func requestLogger(logger *slog.Logger, rec RequestRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		took := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if rec != nil {
			rec.Request(route, status, took)
		}
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "http: request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"took", took,
		)
	}
}
