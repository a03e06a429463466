package cache

import (
	"context"
	"errors"
	"time"
)

var errNoopStore = errors.New("cache disabled")

// NoopStore never stores anything. Reads always miss, so callers recompute.
type NoopStore struct{}

var _ Store = NoopStore{}

func (NoopStore) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (NoopStore) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NoopStore) Incr(context.Context, string) (int64, error) { return 0, errNoopStore }

func (NoopStore) DeletePattern(context.Context, string) (int, error) { return 0, ErrScanUnsupported }
