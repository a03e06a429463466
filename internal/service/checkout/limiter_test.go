package checkout

import (
	"testing"
	"time"

	"commerce-checkout/internal/config"
)

func TestAttemptLimiter(t *testing.T) {
	now := testNow
	l := NewAttemptLimiter(config.RateLimit{MaxAttempts: 2, Decay: time.Minute})
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if !l.Allow("cart-1", "u1") {
			t.Fatalf("attempt %d should pass", i)
		}
	}
	if l.Allow("cart-1", "u1") {
		t.Fatal("third attempt inside the window should be refused")
	}
	if !l.Allow("cart-1", "u2") {
		t.Fatal("another user has its own budget")
	}

	now = now.Add(30 * time.Second)
	if !l.Allow("cart-1", "u1") {
		t.Fatal("one attempt refills after half the decay")
	}
}

func TestAttemptLimiterDisabled(t *testing.T) {
	l := NewAttemptLimiter(config.RateLimit{})
	for i := 0; i < 100; i++ {
		if !l.Allow("cart-1", "") {
			t.Fatal("limiter without attempts configured must not refuse")
		}
	}
}
