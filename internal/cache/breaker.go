package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"commerce-checkout/internal/domain"

	"github.com/sony/gobreaker/v2"
)

type BreakerSettings struct {
	Name             string
	FailureThreshold uint32
	// Timeout is how long the breaker stays open before letting a probe through.
	Timeout time.Duration
}

// BreakerStore gates a Store behind a circuit breaker so a down backend is not hammered.
// Misses are successful calls and never trip it.
type BreakerStore struct {
	next   Store
	cb     *gobreaker.CircuitBreaker[any]
	logger *slog.Logger
}

var _ Store = (*BreakerStore)(nil)

func NewBreakerStore(next Store, s BreakerSettings, logger *slog.Logger) *BreakerStore {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	if s.Name == "" {
		s.Name = "pricing-cache"
	}
	threshold := s.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrCacheMiss) || errors.Is(err, ErrScanUnsupported)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("cache breaker: state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &BreakerStore{next: next, cb: cb, logger: logger}
}

// State exposes the breaker state for health reporting.
func (b *BreakerStore) State() string {
	return b.cb.State().String()
}

func (b *BreakerStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.Get(ctx, key)
	})
	if err != nil {
		return nil, unavailable(err)
	}
	data, _ := v.([]byte)
	return data, nil
}

func (b *BreakerStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.Set(ctx, key, value, ttl)
	})
	return unavailable(err)
}

func (b *BreakerStore) Incr(ctx context.Context, key string) (int64, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.Incr(ctx, key)
	})
	if err != nil {
		return 0, unavailable(err)
	}
	n, _ := v.(int64)
	return n, nil
}

func (b *BreakerStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.DeletePattern(ctx, pattern)
	})
	n, _ := v.(int)
	return n, unavailable(err)
}

func unavailable(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return err
}
