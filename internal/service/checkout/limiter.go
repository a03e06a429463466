package checkout

import (
	"sync"
	"time"

	"commerce-checkout/internal/config"

	"golang.org/x/time/rate"
)

// AttemptLimiter bounds checkout attempts per cart and user: at most MaxAttempts in a burst,
// refilled over Decay.
type AttemptLimiter struct {
	mu      sync.Mutex
	cfg     config.RateLimit
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewAttemptLimiter(cfg config.RateLimit) *AttemptLimiter {
	return &AttemptLimiter{cfg: cfg, buckets: map[string]*bucket{}, now: time.Now}
}

// Allow consumes one attempt for the pair. A non-positive MaxAttempts disables limiting.
func (l *AttemptLimiter) Allow(cartID, userID string) bool {
	if l.cfg.MaxAttempts <= 0 {
		return true
	}
	now := l.now()
	key := "rate_limiting.checkout." + cartID + "." + userID

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		every := rate.Inf
		if l.cfg.Decay > 0 {
			every = rate.Every(l.cfg.Decay / time.Duration(l.cfg.MaxAttempts))
		}
		b = &bucket{limiter: rate.NewLimiter(every, l.cfg.MaxAttempts)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.prune(now)
	return b.limiter.AllowN(now, 1)
}

// prune drops buckets idle for longer than Decay; they would be full again anyway.
func (l *AttemptLimiter) prune(now time.Time) {
	if len(l.buckets) < 1024 {
		return
	}
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.cfg.Decay {
			delete(l.buckets, k)
		}
	}
}
