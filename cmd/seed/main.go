package main

import (
	"context"
	"os"

	"commerce-checkout/internal/config"
	"commerce-checkout/internal/db"
	"commerce-checkout/internal/migrate"
	stockrepo "commerce-checkout/internal/repository/stock"
	"commerce-checkout/internal/seed"
	"commerce-checkout/internal/telemetry"
)

func main() {
	cfg := config.FromEnv()
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel).With("cmd", "seed")

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DBConnString, logger)
	if err != nil {
		logger.Error("seed: connect db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := migrate.Apply(ctx, pool); err != nil {
		logger.Error("seed: apply migrations", "error", err)
		pool.Close()
		os.Exit(1)
	}

	if err := seed.Apply(ctx, pool, stockrepo.NewPostgres(pool, logger)); err != nil {
		logger.Error("seed: apply", "error", err)
		pool.Close()
		os.Exit(1)
	}
	logger.Info("seed: applied")
}
