package pricingcache

import (
	"context"
	"sync"
)

type scopeCtxKey struct{}

type requestScope struct {
	mu     sync.Mutex
	values map[string]any
}

// WithRequestScope attaches a request-scoped memo to ctx. Reads made with the returned
// context are served from the memo after the first hit, so one reprice or checkout run
// does not fetch the same input twice. Nested calls keep the outer scope.
func WithRequestScope(ctx context.Context) context.Context {
	if scopeFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, scopeCtxKey{}, &requestScope{values: make(map[string]any)})
}

func scopeFrom(ctx context.Context) *requestScope {
	s, _ := ctx.Value(scopeCtxKey{}).(*requestScope)
	return s
}

func (s *requestScope) load(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *requestScope) store(key string, v any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.values[key] = v
	s.mu.Unlock()
}
