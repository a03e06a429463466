// Package payment is an in-process payment gateway. Every call is keyed by the checkout lock id
// and repeating a call returns the first outcome.
package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"commerce-checkout/internal/domain"

	"github.com/google/uuid"
)

type Status string

const (
	StatusAuthorized Status = "authorized"
	StatusCaptured   Status = "captured"
	StatusVoided     Status = "voided"
	StatusRefunded   Status = "refunded"
)

// Op names a gateway call for fault injection.
type Op string

const (
	OpAuthorize Op = "authorize"
	OpCapture   Op = "capture"
	OpVoid      Op = "void"
	OpRefund    Op = "refund"
)

var ErrNoAuthorization = errors.New("payment: no authorization for lock")

type Options struct {
	// DeclineAboveCents declines authorizations above this amount. Zero disables it.
	DeclineAboveCents int64
	// Latency delays every call. A context deadline hit while waiting is a timeout.
	Latency time.Duration
}

type authorization struct {
	id          string
	amountCents int64
	currency    string
	status      Status
}

type Sandbox struct {
	mu     sync.Mutex
	opts   Options
	auths  map[string]*authorization
	faults map[Op]error
	delays map[Op]time.Duration
	calls  []string
	logger *slog.Logger
}

func NewSandbox(opts Options, logger *slog.Logger) *Sandbox {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sandbox{
		opts:   opts,
		auths:  map[string]*authorization{},
		faults: map[Op]error{},
		delays: map[Op]time.Duration{},
		logger: logger,
	}
}

// FailNext makes the next call of op return err.
func (s *Sandbox) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

// Delay adds d to every call of op.
func (s *Sandbox) Delay(op Op, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[op] = d
}

// Calls returns the "op:lockID" log of successful calls.
func (s *Sandbox) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Sandbox) Status(lockID string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auths[lockID]
	if !ok {
		return "", false
	}
	return a.status, true
}

func (s *Sandbox) Authorize(ctx context.Context, lockID string, amountCents int64, currency string) (string, error) {
	if err := s.enter(ctx, OpAuthorize); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.auths[lockID]; ok {
		return a.id, nil
	}
	if s.opts.DeclineAboveCents > 0 && amountCents > s.opts.DeclineAboveCents {
		s.logger.InfoContext(ctx, "payment: declined", "lock_id", lockID, "amount_cents", amountCents)
		return "", fmt.Errorf("amount %d %s: %w", amountCents, currency, domain.ErrPaymentDeclined)
	}
	a := &authorization{id: "auth_" + uuid.NewString(), amountCents: amountCents, currency: currency, status: StatusAuthorized}
	s.auths[lockID] = a
	s.calls = append(s.calls, string(OpAuthorize)+":"+lockID)
	s.logger.InfoContext(ctx, "payment: authorized", "lock_id", lockID, "authorization_id", a.id, "amount_cents", amountCents)
	return a.id, nil
}

func (s *Sandbox) Capture(ctx context.Context, lockID string) error {
	return s.settle(ctx, OpCapture, lockID, StatusAuthorized, StatusCaptured)
}

// Void releases an authorization. Voiding a lock that never authorized is a no-op.
func (s *Sandbox) Void(ctx context.Context, lockID string) error {
	return s.settle(ctx, OpVoid, lockID, StatusAuthorized, StatusVoided)
}

// Refund returns a captured payment. Refunding a lock that never captured is a no-op.
func (s *Sandbox) Refund(ctx context.Context, lockID string) error {
	return s.settle(ctx, OpRefund, lockID, StatusCaptured, StatusRefunded)
}

func (s *Sandbox) settle(ctx context.Context, op Op, lockID string, from, to Status) error {
	if err := s.enter(ctx, op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auths[lockID]
	switch {
	case !ok && op == OpCapture:
		return ErrNoAuthorization
	case !ok:
		return nil
	case a.status == to:
		return nil
	case a.status != from:
		if op == OpCapture {
			return fmt.Errorf("payment: capture %s authorization", a.status)
		}
		return nil
	}
	a.status = to
	s.calls = append(s.calls, string(op)+":"+lockID)
	s.logger.InfoContext(ctx, "payment: "+string(to), "lock_id", lockID, "authorization_id", a.id)
	return nil
}

// enter applies latency and injected faults for op.
func (s *Sandbox) enter(ctx context.Context, op Op) error {
	s.mu.Lock()
	delay := s.opts.Latency + s.delays[op]
	fault := s.faults[op]
	delete(s.faults, op)
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%s: %w", op, domain.ErrPaymentTimeout)
			}
			return ctx.Err()
		}
	}
	return fault
}
