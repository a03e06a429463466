package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"commerce-checkout/internal/cache"
	"commerce-checkout/internal/config"
	"commerce-checkout/internal/db"
	"commerce-checkout/internal/domain"
	"commerce-checkout/internal/events"
	"commerce-checkout/internal/httpserver"
	"commerce-checkout/internal/metrics"
	"commerce-checkout/internal/migrate"
	"commerce-checkout/internal/payment"
	"commerce-checkout/internal/pricingcache"
	cartrepo "commerce-checkout/internal/repository/cart"
	lockrepo "commerce-checkout/internal/repository/checkoutlock"
	orderrepo "commerce-checkout/internal/repository/order"
	pricingrepo "commerce-checkout/internal/repository/pricing"
	stockrepo "commerce-checkout/internal/repository/stock"
	cartsvc "commerce-checkout/internal/service/cart"
	checkoutsvc "commerce-checkout/internal/service/checkout"
	"commerce-checkout/internal/service/integrity"
	"commerce-checkout/internal/service/pricing"
	"commerce-checkout/internal/service/repricing"
	"commerce-checkout/internal/telemetry"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.FromEnv()
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel).With("service", "checkout-api")

	if err := run(cfg, logger); err != nil {
		logger.Error("api: fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.SetupTracer(ctx, "checkout-api", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracer: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			logger.Warn("api: tracer shutdown", "error", err)
		}
	}()

	dbpool, err := db.Connect(ctx, cfg.DBConnString, logger)
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}
	defer dbpool.Close()

	if err := migrate.Apply(ctx, dbpool); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	m := metrics.New()

	store, closeStore := buildCacheStore(cfg, logger)
	defer closeStore()

	rules := pricingrepo.NewPostgres(dbpool, logger)
	cartRepo := cartrepo.NewPostgres(dbpool, logger)
	locks := lockrepo.NewPostgres(dbpool, logger)

	inputs := pricingcache.New(store, rules, pricingcache.Options{
		Prefix:     cfg.PricingCache.Prefix,
		Versioning: cfg.PricingCache.VersioningEnabled,
		TTLs:       pricingcache.TTLsFromConfig(cfg.PricingCache.TTL),
	}, logger, m)

	guard := integrity.New(rules, integrity.Options{
		Expiration: cfg.Pricing.Expiration,
		HashSecret: cfg.Pricing.HashSecret,
	}, logger)

	engine, err := pricing.New(pricing.Deps{
		Inputs:    inputs,
		Taxes:     rules,
		Shipping:  pricing.NewRateTable(rules),
		Versions:  rules,
		Guard:     guard,
		Snapshots: cartRepo,
		Recorder:  m,
	}, pricing.Options{
		Discounts:       cfg.Discounts,
		ShippingTaxable: cfg.Pricing.ShippingTaxable,
		DefaultCurrency: cfg.Pricing.DefaultCurrency,
	}, logger)
	if err != nil {
		return fmt.Errorf("init pricing engine: %w", err)
	}

	invalidator := pricingcache.NewInvalidator(inputs, rules, logger)
	trigger := repricing.New(cartRepo, engine, guard, cfg.Pricing.AutoReprice, logger)
	dispatcher := events.NewDispatcher(256, logger).
		On("pricing-cache", func(ctx context.Context, evt domain.CartEvent) error {
			_, err := invalidator.Handle(ctx, evt)
			return err
		}).
		On("repricing", trigger.HandleEvent)

	publisher, closePublisher := buildPublisher(cfg, logger)
	defer closePublisher()

	gateway := payment.NewSandbox(payment.Options{
		DeclineAboveCents: cfg.Payment.DeclineAboveCents,
		Latency:           cfg.Payment.Latency,
	}, logger)

	orchestrator := checkoutsvc.New(checkoutsvc.Deps{
		Locks:     locks,
		Carts:     cartRepo,
		Pricer:    engine,
		Integrity: guard,
		Stock:     stockrepo.NewPostgres(dbpool, logger),
		Payments:  gateway,
		Orders:    orderrepo.NewPostgres(dbpool, logger),
		Publisher: publisher,
		Events:    dispatcher,
		Recorder:  m,
	}, cfg.Checkout, logger)

	cartService := cartsvc.New(cartRepo, orchestrator, dispatcher, logger)

	srv, err := httpserver.New(cfg.HTTPAddr, logger, dbpool, httpserver.Deps{
		CartSvc:      cartService,
		PricingSvc:   engine,
		IntegritySvc: guard,
		CheckoutSvc:  orchestrator,
		CacheAdmin:   inputs,
		Metrics:      m,
		CORSOrigins:  cfg.CORSOrigins,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	workers, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		dispatcher.Run(workers)
	}()
	var sweeping sync.WaitGroup
	sweeping.Add(1)
	go func() {
		defer sweeping.Done()
		checkoutsvc.NewSweeper(orchestrator, cfg.Checkout.CleanupInterval, logger).Run(workers)
	}()

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("api: shutdown signal received")
	case err := <-serverErr:
		logger.Error("api: server error", "error", err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("api: graceful shutdown failed", "error", err)
	}

	// In-flight requests are done; stop accepting events and drain the queue.
	dispatcher.Close()
	select {
	case <-drained:
	case <-sctx.Done():
		logger.Warn("api: event queue not drained before shutdown timeout")
	}
	cancelWorkers()
	sweeping.Wait()
	logger.Info("api: stopped")
	return nil
}

// buildCacheStore picks the pricing cache backend. Redis sits behind the circuit breaker
// when it is enabled.
func buildCacheStore(cfg config.Config, logger *slog.Logger) (cache.Store, func()) {
	switch cfg.PricingCache.Store {
	case "memory":
		return cache.NewMemoryStore(), func() {}
	case "none":
		return cache.NoopStore{}, func() {}
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	var store cache.Store = cache.NewRedisStore(client)
	if cfg.PricingCache.Breaker.Enabled {
		store = cache.NewBreakerStore(store, cache.BreakerSettings{
			FailureThreshold: cfg.PricingCache.Breaker.FailureThreshold,
			Timeout:          cfg.PricingCache.Breaker.Timeout,
		}, logger)
	}
	return store, func() {
		if err := client.Close(); err != nil {
			logger.Warn("api: close redis", "error", err)
		}
	}
}

// buildPublisher publishes lifecycle events to Kafka when brokers are configured, and to the
// log otherwise.
func buildPublisher(cfg config.Config, logger *slog.Logger) (checkoutsvc.Publisher, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("api: no kafka brokers configured, lifecycle events go to the log")
		return events.NewLogPublisher(logger), func() {}
	}
	p := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	return p, func() {
		if err := p.Close(); err != nil {
			logger.Warn("api: close kafka publisher", "error", err)
		}
	}
}
