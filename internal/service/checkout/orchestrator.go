// Package checkout drives a cart through the checkout state machine. Each state is entered
// only after the side effect that earns it has succeeded, and a failed attempt compensates
// its completed side effects in reverse order before the lock is marked FAILED.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"commerce-checkout/internal/config"
	"commerce-checkout/internal/domain"
	"commerce-checkout/internal/service/integrity"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrCartCompleted is returned when a checkout starts on a cart that already became an order.
var ErrCartCompleted = errors.New("cart already completed")

type lockStore interface {
	Acquire(ctx context.Context, lock domain.CheckoutLock, preventConcurrent bool) (*domain.CheckoutLock, error)
	GetByID(ctx context.Context, id string) (*domain.CheckoutLock, error)
	ActiveForCart(ctx context.Context, cartID string) (*domain.CheckoutLock, error)
	Save(ctx context.Context, lock *domain.CheckoutLock, from domain.CheckoutState) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.CheckoutLock, error)
	CountExpired(ctx context.Context, now time.Time) (int, error)
	CountStuck(ctx context.Context, lockedBefore time.Time) (int, error)
}

type cartStore interface {
	GetByID(ctx context.Context, id string) (*domain.Cart, error)
	MarkCompleted(ctx context.Context, cartID string) error
}

type repricer interface {
	RepriceAndStore(ctx context.Context, cart *domain.Cart, trigger domain.RepriceTrigger) (*domain.PricingResult, error)
}

type validator interface {
	ValidateCartPrices(ctx context.Context, cart *domain.Cart) integrity.ValidationResult
	VerifyPriceHash(cart *domain.Cart) bool
}

// StockReserver holds inventory for a checkout. Every call is idempotent by lock id.
type StockReserver interface {
	Reserve(ctx context.Context, lockID string, items []domain.StockItem) error
	Release(ctx context.Context, lockID string) error
	Commit(ctx context.Context, lockID string) error
}

// PaymentGateway moves money for a checkout. Every call is idempotent by lock id.
type PaymentGateway interface {
	Authorize(ctx context.Context, lockID string, amountCents int64, currency string) (string, error)
	Capture(ctx context.Context, lockID string) error
	Void(ctx context.Context, lockID string) error
	Refund(ctx context.Context, lockID string) error
}

// OrderWriter persists the order of a checkout, at most one per lock.
type OrderWriter interface {
	Create(ctx context.Context, lockID string, cart *domain.Cart, snapshot domain.PricingResult) (*domain.Order, error)
	GetByLockID(ctx context.Context, lockID string) (*domain.Order, error)
	Cancel(ctx context.Context, id string) error
}

// Publisher delivers checkout lifecycle events.
type Publisher interface {
	PublishLifecycle(ctx context.Context, evt domain.LifecycleEvent) error
}

// CartEvents receives repricing-trigger events raised by a completed checkout.
type CartEvents interface {
	Dispatch(ctx context.Context, evt domain.CartEvent) error
}

type Recorder interface {
	Transition(state string)
	PhaseFailed(phase string)
	PhaseDuration(phase string, took time.Duration)
}

type Deps struct {
	Locks     lockStore
	Carts     cartStore
	Pricer    repricer
	Integrity validator
	Stock     StockReserver
	Payments  PaymentGateway
	Orders    OrderWriter
	Publisher Publisher
	Events    CartEvents
	Recorder  Recorder
}

type Orchestrator struct {
	deps    Deps
	cfg     config.Checkout
	limiter *AttemptLimiter
	phases  []phase
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

func New(deps Deps, cfg config.Checkout, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Recorder == nil {
		deps.Recorder = noopRecorder{}
	}
	o := &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		limiter: NewAttemptLimiter(cfg.RateLimit),
		logger:  logger,
		tracer:  otel.Tracer("commerce-checkout/checkout"),
		now:     time.Now,
	}
	o.phases = []phase{
		validatePhase{o},
		reservePhase{o},
		lockPricesPhase{o},
		authorizePhase{o},
		createOrderPhase{o},
		capturePhase{o},
		commitPhase{o},
	}
	return o
}

// WithClock replaces the clock used for TTLs, expiry and rate limiting.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	o.limiter.now = now
	return o
}

// StartInput starts a checkout. ExpectedTotalCents is the grand total the buyer confirmed;
// zero means the cart's stored snapshot total.
type StartInput struct {
	CartID             string
	UserID             *string
	TTLMinutes         int
	ExpectedTotalCents int64
}

// Start acquires a lock for the cart and runs the checkout to a terminal state. The returned
// lock is the final state. A failed run returns both the FAILED lock and the phase error.
func (o *Orchestrator) Start(ctx context.Context, in StartInput) (*domain.CheckoutLock, error) {
	user := ""
	if in.UserID != nil {
		user = *in.UserID
	}
	if !o.limiter.Allow(in.CartID, user) {
		return nil, domain.ErrTooManyAttempts
	}
	lock, err := o.Acquire(ctx, in.CartID, in.UserID, in.TTLMinutes)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, lock, in.ExpectedTotalCents)
}

// Acquire creates a PENDING lock for the cart. An expired lock still held by the cart is
// compensated and failed first, or completed when its payment was already captured.
func (o *Orchestrator) Acquire(ctx context.Context, cartID string, userID *string, ttlMinutes int) (*domain.CheckoutLock, error) {
	if prev, err := o.deps.Locks.ActiveForCart(ctx, cartID); err == nil {
		if prev.IsExpired(o.now()) {
			o.expire(ctx, prev)
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load active lock: %w", err)
	}

	candidate := domain.NewCheckoutLock(uuid.NewString(), cartID, userID, o.now().UTC(), o.ttl(ttlMinutes))
	lock, err := o.deps.Locks.Acquire(ctx, candidate, o.cfg.PreventConcurrentCheckout)
	if err != nil {
		if errors.Is(err, domain.ErrLockConflict) {
			o.logger.InfoContext(ctx, "checkout: lock conflict", "cart_id", cartID)
		}
		return nil, err
	}
	o.deps.Recorder.Transition(string(lock.State))
	o.logger.InfoContext(ctx, "checkout: lock acquired", "lock_id", lock.ID, "cart_id", cartID, "expires_at", lock.ExpiresAt)
	o.publish(ctx, domain.EventCheckoutStarted, lock, "", nil)
	return lock, nil
}

func (o *Orchestrator) ttl(minutes int) time.Duration {
	ttl := time.Duration(minutes) * time.Minute
	if ttl <= 0 {
		ttl = o.cfg.DefaultTTL
	}
	if o.cfg.MaxTTL > 0 && ttl > o.cfg.MaxTTL {
		ttl = o.cfg.MaxTTL
	}
	return ttl
}

func (o *Orchestrator) Get(ctx context.Context, lockID string) (*domain.CheckoutLock, error) {
	return o.deps.Locks.GetByID(ctx, lockID)
}

// Advance moves a lock to next without running a side effect.
func (o *Orchestrator) Advance(ctx context.Context, lockID string, next domain.CheckoutState) (*domain.CheckoutLock, error) {
	lock, err := o.deps.Locks.GetByID(ctx, lockID)
	if err != nil {
		return nil, err
	}
	if err := o.commit(ctx, lock, next); err != nil {
		return nil, err
	}
	return lock, nil
}

// commit applies next to lock and stores it with a compare-and-set on the current state.
// lock is only updated when the write wins.
func (o *Orchestrator) commit(ctx context.Context, lock *domain.CheckoutLock, next domain.CheckoutState) error {
	from := lock.State
	updated := *lock
	if err := updated.Advance(next, o.now().UTC()); err != nil {
		return err
	}
	if err := o.deps.Locks.Save(ctx, &updated, from); err != nil {
		return fmt.Errorf("save lock %s: %w", lock.ID, err)
	}
	*lock = updated
	o.deps.Recorder.Transition(string(next))
	o.logger.DebugContext(ctx, "checkout: state committed", "lock_id", lock.ID, "from", from, "to", next)
	return nil
}

// CanResume reports whether the lock is neither terminal nor expired.
func (o *Orchestrator) CanResume(ctx context.Context, lockID string) (bool, error) {
	lock, err := o.deps.Locks.GetByID(ctx, lockID)
	if err != nil {
		return false, err
	}
	return lock.CanResume(o.now()), nil
}

// Resume continues a checkout from the phase after its last committed state.
func (o *Orchestrator) Resume(ctx context.Context, lockID string, expectedTotalCents int64) (*domain.CheckoutLock, error) {
	lock, err := o.deps.Locks.GetByID(ctx, lockID)
	if err != nil {
		return nil, err
	}
	if lock.IsTerminal() {
		return lock, &domain.TransitionError{From: lock.State, To: lock.State, Err: domain.ErrInvalidTransition}
	}
	if lock.IsExpired(o.now()) && !lock.State.IsIrreversible() {
		o.expire(ctx, lock)
		return lock, domain.ErrLockExpired
	}
	return o.run(ctx, lock, expectedTotalCents)
}

// Release compensates every side effect the checkout may hold and marks it FAILED.
// Releasing a terminal lock returns it unchanged. A captured checkout cannot be released.
func (o *Orchestrator) Release(ctx context.Context, lockID, reason string) (*domain.CheckoutLock, error) {
	lock, err := o.deps.Locks.GetByID(ctx, lockID)
	if err != nil {
		return nil, err
	}
	if lock.IsTerminal() {
		return lock, nil
	}
	if lock.State.IsIrreversible() {
		return lock, &domain.TransitionError{From: lock.State, To: domain.CheckoutFailed, Err: domain.ErrInvalidTransition}
	}
	o.compensate(ctx, lock, o.heldPhases(lock))
	if err := o.fail(ctx, lock, reason); err != nil {
		return nil, err
	}
	o.publish(ctx, domain.EventCheckoutFailed, lock, "", errors.New(reason))
	return lock, nil
}

// run executes the phases after lock's current state.
func (o *Orchestrator) run(ctx context.Context, lock *domain.CheckoutLock, expectedTotalCents int64) (*domain.CheckoutLock, error) {
	ctx, span := o.tracer.Start(ctx, "checkout.Run", trace.WithAttributes(
		attribute.String("checkout.lock_id", lock.ID),
		attribute.String("cart.id", lock.CartID),
	))
	defer span.End()

	cart, err := o.deps.Carts.GetByID(ctx, lock.CartID)
	if err != nil {
		return o.abort(ctx, lock, o.heldPhases(lock), fmt.Errorf("load cart: %w", err))
	}
	at := &attempt{lock: lock, cart: cart, expectedTotalCents: expectedTotalCents}

	var done []phase
	for _, p := range o.phases {
		if p.State().Rank() <= lock.State.Rank() {
			done = append(done, p)
			continue
		}
		if err := o.execute(ctx, p, at); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return o.abort(ctx, lock, append(done, p), fmt.Errorf("%s: %w", p.State(), err))
		}
		done = append(done, p)
	}

	if err := o.commit(ctx, lock, domain.CheckoutCompleted); err != nil {
		return o.abort(ctx, lock, done, err)
	}
	o.logger.InfoContext(ctx, "checkout: completed", "lock_id", lock.ID, "cart_id", lock.CartID, "order_id", lock.OrderID)
	o.publish(ctx, domain.EventCheckoutCompleted, lock, lock.OrderID, nil)
	return lock, nil
}

// execute runs one phase and commits its state.
func (o *Orchestrator) execute(ctx context.Context, p phase, at *attempt) error {
	name := string(p.State())
	ctx, span := o.tracer.Start(ctx, "checkout.phase."+name)
	defer span.End()

	start := time.Now()
	err := p.Execute(ctx, at)
	o.deps.Recorder.PhaseDuration(name, time.Since(start))
	if err == nil {
		err = o.commit(ctx, at.lock, p.State())
	}
	if err != nil {
		o.deps.Recorder.PhaseFailed(name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// abort compensates phases in reverse order and marks the lock FAILED. It returns the lock
// together with cause. Once payment is captured nothing is compensated: the checkout is
// rolled forward instead, and abort only reports cause when that fails too.
func (o *Orchestrator) abort(ctx context.Context, lock *domain.CheckoutLock, phases []phase, cause error) (*domain.CheckoutLock, error) {
	if lock.State.IsIrreversible() {
		o.logger.WarnContext(ctx, "checkout: failure after capture", "lock_id", lock.ID, "cart_id", lock.CartID, "state", lock.State, "error", cause)
		if err := o.settle(ctx, lock, nil); err != nil {
			o.logger.ErrorContext(ctx, "checkout: roll forward", "lock_id", lock.ID, "state", lock.State, "error", err)
			return lock, fmt.Errorf("%w; roll forward: %w", cause, err)
		}
		return lock, nil
	}
	o.logger.WarnContext(ctx, "checkout: attempt failed", "lock_id", lock.ID, "cart_id", lock.CartID, "state", lock.State, "error", cause)
	o.compensate(ctx, lock, phases)
	if err := o.fail(ctx, lock, cause.Error()); err != nil {
		o.logger.ErrorContext(ctx, "checkout: mark failed", "lock_id", lock.ID, "error", err)
	}
	o.publish(ctx, domain.EventCheckoutFailed, lock, "", cause)
	return lock, cause
}

// compensate undoes phases last to first. Failures are logged and do not stop the rest.
func (o *Orchestrator) compensate(ctx context.Context, lock *domain.CheckoutLock, phases []phase) {
	ctx = context.WithoutCancel(ctx)
	at := &attempt{lock: lock}
	for i := len(phases) - 1; i >= 0; i-- {
		p := phases[i]
		if err := p.Compensate(ctx, at); err != nil {
			o.logger.ErrorContext(ctx, "checkout: compensation failed", "lock_id", lock.ID, "phase", p.State(), "error", err)
		}
	}
}

// heldPhases lists the phases whose side effects a lock in its current state may hold:
// every committed phase plus the one that may have been in flight.
func (o *Orchestrator) heldPhases(lock *domain.CheckoutLock) []phase {
	var out []phase
	for _, p := range o.phases {
		if p.State().Rank() > lock.State.Rank()+1 {
			break
		}
		out = append(out, p)
	}
	return out
}

// fail stores lock as FAILED. A concurrent state change is re-read and retried.
func (o *Orchestrator) fail(ctx context.Context, lock *domain.CheckoutLock, reason string) error {
	ctx = context.WithoutCancel(ctx)
	for i := 0; i < 3; i++ {
		from := lock.State
		updated := *lock
		if !updated.Release(reason, o.now().UTC()) {
			return nil
		}
		err := o.deps.Locks.Save(ctx, &updated, from)
		if err == nil {
			*lock = updated
			o.deps.Recorder.Transition(string(domain.CheckoutFailed))
			return nil
		}
		if !errors.Is(err, domain.ErrLockConflict) {
			return err
		}
		fresh, gerr := o.deps.Locks.GetByID(ctx, lock.ID)
		if gerr != nil {
			return gerr
		}
		*lock = *fresh
	}
	return domain.ErrLockConflict
}

// expire compensates an expired lock and fails it with reason "expired". A captured lock is
// completed instead.
func (o *Orchestrator) expire(ctx context.Context, lock *domain.CheckoutLock) {
	if lock.State.IsIrreversible() {
		if err := o.settle(ctx, lock, nil); err != nil {
			o.logger.ErrorContext(ctx, "checkout: complete expired lock", "lock_id", lock.ID, "state", lock.State, "error", err)
		}
		return
	}
	o.compensate(ctx, lock, o.heldPhases(lock))
	if err := o.fail(ctx, lock, "expired"); err != nil {
		o.logger.ErrorContext(ctx, "checkout: expire lock", "lock_id", lock.ID, "error", err)
		return
	}
	o.logger.InfoContext(ctx, "checkout: expired lock released", "lock_id", lock.ID, "cart_id", lock.CartID)
	o.publish(ctx, domain.EventCheckoutFailed, lock, "", domain.ErrLockExpired)
}

// settle rolls a captured checkout forward to COMPLETED. The remaining phases are idempotent
// by lock id, so they are re-run from the stored state. On failure the lock keeps its state
// and the sweeper retries once it expires.
func (o *Orchestrator) settle(ctx context.Context, lock *domain.CheckoutLock, cart *domain.Cart) error {
	ctx = context.WithoutCancel(ctx)
	if fresh, err := o.deps.Locks.GetByID(ctx, lock.ID); err == nil {
		*lock = *fresh
	}
	if lock.IsTerminal() {
		return nil
	}
	if cart == nil {
		c, err := o.deps.Carts.GetByID(ctx, lock.CartID)
		if err != nil {
			return fmt.Errorf("load cart: %w", err)
		}
		cart = c
	}
	at := &attempt{lock: lock, cart: cart}
	for _, p := range o.phases {
		if p.State().Rank() <= lock.State.Rank() {
			continue
		}
		if err := o.execute(ctx, p, at); err != nil {
			return fmt.Errorf("%s: %w", p.State(), err)
		}
	}
	if err := o.commit(ctx, lock, domain.CheckoutCompleted); err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "checkout: completed after capture", "lock_id", lock.ID, "cart_id", lock.CartID, "order_id", lock.OrderID)
	o.publish(ctx, domain.EventCheckoutCompleted, lock, lock.OrderID, nil)
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, typ domain.LifecycleEventType, lock *domain.CheckoutLock, orderID string, cause error) {
	if o.deps.Publisher == nil {
		return
	}
	evt := domain.LifecycleEvent{
		ID:         uuid.NewString(),
		Type:       typ,
		Lock:       *lock,
		OrderID:    orderID,
		Context:    map[string]string{"cart_id": lock.CartID, "state": string(lock.State)},
		OccurredAt: o.now().UTC(),
	}
	if cause != nil {
		evt.Error = cause.Error()
	}
	if err := o.deps.Publisher.PublishLifecycle(context.WithoutCancel(ctx), evt); err != nil {
		o.logger.WarnContext(ctx, "checkout: publish lifecycle event", "type", typ, "lock_id", lock.ID, "error", err)
	}
}

// Health summarizes lock hygiene for readiness checks.
type Health struct {
	ExpiredUncleaned int `json:"expiredUncleaned"`
	Stuck            int `json:"stuck"`
}

func (h Health) Degraded() bool {
	return h.ExpiredUncleaned > 0 || h.Stuck > 0
}

func (o *Orchestrator) Health(ctx context.Context) (Health, error) {
	now := o.now().UTC()
	expired, err := o.deps.Locks.CountExpired(ctx, now)
	if err != nil {
		return Health{}, fmt.Errorf("count expired locks: %w", err)
	}
	stuck, err := o.deps.Locks.CountStuck(ctx, now.Add(-o.cfg.StuckAfter))
	if err != nil {
		return Health{}, fmt.Errorf("count stuck locks: %w", err)
	}
	return Health{ExpiredUncleaned: expired, Stuck: stuck}, nil
}

type noopRecorder struct{}

func (noopRecorder) Transition(string)                   {}
func (noopRecorder) PhaseFailed(string)                  {}
func (noopRecorder) PhaseDuration(string, time.Duration) {}
