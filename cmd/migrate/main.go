package main

import (
	"context"
	"flag"
	"os"

	"commerce-checkout/internal/config"
	"commerce-checkout/internal/db"
	"commerce-checkout/internal/migrate"
	"commerce-checkout/internal/telemetry"
)

func main() {
	rollback := flag.Int("rollback", 0, "revert this many migration steps instead of migrating up")
	flag.Parse()

	cfg := config.FromEnv()
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel).With("cmd", "migrate")

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DBConnString, logger)
	if err != nil {
		logger.Error("migrate: connect db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if *rollback > 0 {
		if err := migrate.Rollback(ctx, pool, *rollback); err != nil {
			logger.Error("migrate: rollback", "steps", *rollback, "error", err)
			pool.Close()
			os.Exit(1)
		}
		logger.Info("migrate: rolled back", "steps", *rollback)
		return
	}

	if err := migrate.Apply(ctx, pool); err != nil {
		logger.Error("migrate: apply migrations", "error", err)
		pool.Close()
		os.Exit(1)
	}
	logger.Info("migrate: migrations applied")
}
