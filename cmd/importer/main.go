package main

import (
	"context"
	"flag"
	"os"
	"time"

	"commerce-checkout/internal/cache"
	"commerce-checkout/internal/config"
	"commerce-checkout/internal/db"
	"commerce-checkout/internal/domain"
	"commerce-checkout/internal/importer"
	"commerce-checkout/internal/pricingcache"
	pricingrepo "commerce-checkout/internal/repository/pricing"
	"commerce-checkout/internal/telemetry"

	"github.com/redis/go-redis/v9"
)

func main() {
	var filePath string
	flag.StringVar(&filePath, "file", "", "Path to a price list CSV (variant_id,product_id,currency,amount_cents,tier.*)")
	flag.Parse()

	if filePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.FromEnv()
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel).With("cmd", "importer")
	ctx := context.Background()

	pool, err := db.Connect(ctx, cfg.DBConnString, logger)
	if err != nil {
		logger.Error("importer: connect db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Only a shared store needs invalidating from another process.
	var store cache.Store = cache.NoopStore{}
	if cfg.PricingCache.Store == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		store = cache.NewRedisStore(client)
	}

	rules := pricingrepo.NewPostgres(pool, logger)
	inputs := pricingcache.New(store, rules, pricingcache.Options{
		Prefix:     cfg.PricingCache.Prefix,
		Versioning: cfg.PricingCache.VersioningEnabled,
		TTLs:       pricingcache.TTLsFromConfig(cfg.PricingCache.TTL),
	}, logger, nil)
	invalidator := pricingcache.NewInvalidator(inputs, rules, logger)

	f, err := os.Open(filePath)
	if err != nil {
		logger.Error("importer: open file", "file", filePath, "error", err)
		os.Exit(1)
	}
	defer f.Close()

	imp := importer.NewCSVImporter(f, rules, func(ctx context.Context, evt domain.CartEvent) error {
		_, err := invalidator.Handle(ctx, evt)
		return err
	})

	start := time.Now()
	count, err := imp.Run(ctx)
	if err != nil {
		logger.Error("importer: import failed", "imported", count, "error", err)
		os.Exit(1)
	}

	logger.Info("importer: prices imported", "count", count, "took", time.Since(start).Truncate(time.Millisecond))
}
