// Package cache provides the key-value store behind the pricing cache. Redis is one
// implementation; the in-memory and no-op stores serve tests and cache-less deployments.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss is returned by Get when the key is absent or expired.
	ErrCacheMiss = errors.New("cache miss")
	// ErrScanUnsupported is returned by DeletePattern on stores that cannot enumerate keys.
	ErrScanUnsupported = errors.New("cache store does not support pattern scan")
)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Incr atomically increments an integer key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
	// DeletePattern removes keys matching a glob pattern and reports how many were deleted.
	DeletePattern(ctx context.Context, pattern string) (int, error)
}
