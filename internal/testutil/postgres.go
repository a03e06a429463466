// Package testutil starts the database integration tests run against.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"commerce-checkout/internal/migrate"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Postgres returns a migrated pool. TEST_DB_DSN points at an existing database; otherwise a
// postgres container is started for the test. Tests are skipped in -short mode and when
// no container runtime is available.
func Postgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("checkout_test"),
			postgres.WithUsername("checkout"),
			postgres.WithPassword("checkout"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		testcontainers.CleanupContainer(t, pgContainer)
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
		dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("connection string: %v", err)
		}
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := migrate.Apply(ctx, pool); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := pool.Exec(ctx, `
TRUNCATE orders, stock_reservations, stock_levels, checkout_locks, cart_lines, carts,
         base_prices, contract_prices, promotions, tax_rates, shipping_rates, currency_rates,
         product_attributes, variant_availability, map_prices
RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	if _, err := pool.Exec(ctx, `UPDATE pricing_versions SET version = 0`); err != nil {
		t.Fatalf("reset pricing version: %v", err)
	}
	return pool
}
