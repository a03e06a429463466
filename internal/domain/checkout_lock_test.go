package domain

import (
	"errors"
	"testing"
	"time"
)

func TestCheckoutStateForwardPath(t *testing.T) {
	states := CheckoutStates()
	for i := 0; i < len(states)-1; i++ {
		if !states[i].CanTransitionTo(states[i+1]) {
			t.Fatalf("expected %s -> %s to be allowed", states[i], states[i+1])
		}
		for j := 0; j < len(states); j++ {
			if j == i+1 {
				continue
			}
			if states[i].CanTransitionTo(states[j]) {
				t.Fatalf("expected %s -> %s to be rejected", states[i], states[j])
			}
		}
	}
}

func TestCheckoutStateFailedBeforeCapture(t *testing.T) {
	for _, s := range CheckoutStates() {
		got := s.CanTransitionTo(CheckoutFailed)
		if s.IsTerminal() && got {
			t.Fatalf("terminal %s must not transition", s)
		}
		if s.IsIrreversible() && got {
			t.Fatalf("captured %s must not fail", s)
		}
		if !s.IsTerminal() && !s.IsIrreversible() && !got {
			t.Fatalf("expected %s -> FAILED to be allowed", s)
		}
	}
	if CheckoutFailed.CanTransitionTo(CheckoutPending) {
		t.Fatalf("FAILED must be terminal")
	}
}

func TestCheckoutLockAdvanceNeverRegresses(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	lock := NewCheckoutLock("l1", "c1", nil, now, 15*time.Minute)

	prev := lock.State.Rank()
	for {
		next, ok := lock.State.Next()
		if !ok {
			break
		}
		if err := lock.Advance(next, now); err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
		if lock.State.Rank() <= prev {
			t.Fatalf("state regressed to %s", lock.State)
		}
		prev = lock.State.Rank()
	}
	if lock.State != CheckoutCompleted || lock.CompletedAt == nil || lock.FailedAt != nil {
		t.Fatalf("unexpected terminal lock %+v", lock)
	}

	err := lock.Advance(CheckoutPending, now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestCheckoutLockAdvanceSkipRejected(t *testing.T) {
	now := time.Now()
	lock := NewCheckoutLock("l1", "c1", nil, now, time.Minute)
	err := lock.Advance(CheckoutReserving, now)
	var terr *TransitionError
	if !errors.As(err, &terr) || !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected transition error, got %v", err)
	}
	if terr.From != CheckoutPending || terr.To != CheckoutReserving {
		t.Fatalf("unexpected transition error %+v", terr)
	}
	if lock.State != CheckoutPending {
		t.Fatalf("state changed on rejected transition: %s", lock.State)
	}
}

func TestCheckoutLockAdvanceExpired(t *testing.T) {
	now := time.Now()
	lock := NewCheckoutLock("l1", "c1", nil, now, time.Minute)
	later := now.Add(2 * time.Minute)

	if err := lock.Advance(CheckoutValidating, later); !errors.Is(err, ErrLockExpired) {
		t.Fatalf("expected lock expired, got %v", err)
	}
	if lock.CanResume(later) {
		t.Fatalf("expired lock must not be resumable")
	}
	if err := lock.Advance(CheckoutFailed, later); err != nil {
		t.Fatalf("expired lock should still fail: %v", err)
	}
	if lock.FailedAt == nil || lock.CompletedAt != nil {
		t.Fatalf("expected failed_at only, got %+v", lock)
	}
}

func TestCheckoutLockRelease(t *testing.T) {
	now := time.Now()
	lock := NewCheckoutLock("l1", "c1", nil, now, time.Minute)
	if !lock.CanResume(now) {
		t.Fatalf("fresh lock should be resumable")
	}
	if !lock.Release("cancelled", now) {
		t.Fatalf("expected release to change state")
	}
	if lock.State != CheckoutFailed || lock.FailureReason != "cancelled" {
		t.Fatalf("unexpected lock %+v", lock)
	}
	if lock.Release("again", now) {
		t.Fatalf("release of terminal lock should be a no-op")
	}
	if lock.FailureReason != "cancelled" {
		t.Fatalf("reason overwritten: %s", lock.FailureReason)
	}
}

func TestCheckoutLockCapturedRollsForwardPastExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	lock := NewCheckoutLock("l1", "c1", nil, now, 15*time.Minute)
	lock.State = CheckoutCapturing
	later := now.Add(20 * time.Minute)

	if !lock.IsActive(later) {
		t.Fatalf("captured lock must keep holding the cart after expiry")
	}
	if lock.Release("expired", later) {
		t.Fatalf("captured lock must not be released")
	}
	if err := lock.Advance(CheckoutFailed, later); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition to FAILED, got %v", err)
	}
	if err := lock.Advance(CheckoutCommitting, later); err != nil {
		t.Fatalf("commit past expiry: %v", err)
	}
	if err := lock.Advance(CheckoutCompleted, later); err != nil {
		t.Fatalf("complete past expiry: %v", err)
	}
	if lock.CompletedAt == nil || lock.FailedAt != nil {
		t.Fatalf("unexpected timestamps %+v", lock)
	}
}
