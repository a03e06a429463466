package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"commerce-checkout/internal/domain"
)

func TestSandbox_AuthorizeIsIdempotent(t *testing.T) {
	s := NewSandbox(Options{}, nil)
	ctx := context.Background()

	first, err := s.Authorize(ctx, "lock-1", 1000, "USD")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	second, err := s.Authorize(ctx, "lock-1", 1000, "USD")
	if err != nil {
		t.Fatalf("authorize again: %v", err)
	}
	if first != second {
		t.Fatalf("expected same authorization id, got %q and %q", first, second)
	}
	if got := len(s.Calls()); got != 1 {
		t.Fatalf("expected 1 recorded call, got %d", got)
	}
}

func TestSandbox_Declines(t *testing.T) {
	s := NewSandbox(Options{DeclineAboveCents: 500}, nil)
	_, err := s.Authorize(context.Background(), "lock-1", 501, "USD")
	if !errors.Is(err, domain.ErrPaymentDeclined) {
		t.Fatalf("expected decline, got %v", err)
	}
}

func TestSandbox_Lifecycle(t *testing.T) {
	s := NewSandbox(Options{}, nil)
	ctx := context.Background()

	if err := s.Capture(ctx, "lock-1"); !errors.Is(err, ErrNoAuthorization) {
		t.Fatalf("expected no authorization, got %v", err)
	}
	if err := s.Void(ctx, "lock-1"); err != nil {
		t.Fatalf("void without authorization: %v", err)
	}
	if _, err := s.Authorize(ctx, "lock-1", 100, "USD"); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Capture(ctx, "lock-1"); err != nil {
			t.Fatalf("capture %d: %v", i, err)
		}
	}
	if err := s.Void(ctx, "lock-1"); err != nil {
		t.Fatalf("void after capture: %v", err)
	}
	if st, _ := s.Status("lock-1"); st != StatusCaptured {
		t.Fatalf("void must not touch a capture, got %s", st)
	}
	if err := s.Refund(ctx, "lock-1"); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if st, _ := s.Status("lock-1"); st != StatusRefunded {
		t.Fatalf("expected refunded, got %s", st)
	}
}

func TestSandbox_TimeoutFromDeadline(t *testing.T) {
	s := NewSandbox(Options{}, nil)
	s.Delay(OpAuthorize, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Authorize(ctx, "lock-1", 100, "USD")
	if !errors.Is(err, domain.ErrPaymentTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if _, ok := s.Status("lock-1"); ok {
		t.Fatal("timed out authorization must not be recorded")
	}
}

func TestSandbox_FailNextOnce(t *testing.T) {
	s := NewSandbox(Options{}, nil)
	boom := errors.New("boom")
	s.FailNext(OpAuthorize, boom)

	if _, err := s.Authorize(context.Background(), "lock-1", 100, "USD"); !errors.Is(err, boom) {
		t.Fatalf("expected injected fault, got %v", err)
	}
	if _, err := s.Authorize(context.Background(), "lock-1", 100, "USD"); err != nil {
		t.Fatalf("fault must fire once: %v", err)
	}
}
