package domain

import "time"

// CheckoutState is a phase of the checkout state machine.
type CheckoutState string

const (
	CheckoutPending       CheckoutState = "PENDING"
	CheckoutValidating    CheckoutState = "VALIDATING"
	CheckoutReserving     CheckoutState = "RESERVING"
	CheckoutLockingPrices CheckoutState = "LOCKING_PRICES"
	CheckoutAuthorizing   CheckoutState = "AUTHORIZING"
	CheckoutCreatingOrder CheckoutState = "CREATING_ORDER"
	CheckoutCapturing     CheckoutState = "CAPTURING"
	CheckoutCommitting    CheckoutState = "COMMITTING"
	CheckoutCompleted     CheckoutState = "COMPLETED"
	CheckoutFailed        CheckoutState = "FAILED"
)

// checkoutOrder lists the forward path. FAILED sits outside it.
var checkoutOrder = []CheckoutState{
	CheckoutPending,
	CheckoutValidating,
	CheckoutReserving,
	CheckoutLockingPrices,
	CheckoutAuthorizing,
	CheckoutCreatingOrder,
	CheckoutCapturing,
	CheckoutCommitting,
	CheckoutCompleted,
}

// CheckoutStates returns the forward path in order.
func CheckoutStates() []CheckoutState {
	out := make([]CheckoutState, len(checkoutOrder))
	copy(out, checkoutOrder)
	return out
}

// Rank is the position of the state on the forward path, or -1 for FAILED and unknown values.
func (s CheckoutState) Rank() int {
	for i, st := range checkoutOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func (s CheckoutState) IsValid() bool {
	return s == CheckoutFailed || s.Rank() >= 0
}

func (s CheckoutState) IsTerminal() bool {
	return s == CheckoutCompleted || s == CheckoutFailed
}

// IsIrreversible reports whether payment has been captured. Past this point a checkout only
// moves forward: it cannot fail and expiry does not stop it.
func (s CheckoutState) IsIrreversible() bool {
	return s.Rank() >= CheckoutCapturing.Rank()
}

// Next returns the immediate successor on the forward path.
func (s CheckoutState) Next() (CheckoutState, bool) {
	r := s.Rank()
	if r < 0 || r+1 >= len(checkoutOrder) {
		return "", false
	}
	return checkoutOrder[r+1], true
}

// CanTransitionTo allows the immediate successor, or FAILED from any state before capture.
func (s CheckoutState) CanTransitionTo(next CheckoutState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == CheckoutFailed {
		return !s.IsIrreversible()
	}
	succ, ok := s.Next()
	return ok && succ == next
}

// CheckoutLock is the per-cart exclusive record driving a checkout attempt.
type CheckoutLock struct {
	ID              string         `json:"id"`
	CartID          string         `json:"cartId"`
	UserID          *string        `json:"userId,omitempty"`
	State           CheckoutState  `json:"state"`
	LockedAt        time.Time      `json:"lockedAt"`
	ExpiresAt       time.Time      `json:"expiresAt"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
	FailedAt        *time.Time     `json:"failedAt,omitempty"`
	FailureReason   string         `json:"failureReason,omitempty"`
	PricingSnapshot *PricingResult `json:"pricingSnapshot,omitempty"`
	PriceHash       string         `json:"priceHash,omitempty"`
	AuthorizationID string         `json:"authorizationId,omitempty"`
	OrderID         string         `json:"orderId,omitempty"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// NewCheckoutLock builds a PENDING lock. ttl is expected to be already bounded by the caller.
func NewCheckoutLock(id, cartID string, userID *string, now time.Time, ttl time.Duration) CheckoutLock {
	return CheckoutLock{
		ID:        id,
		CartID:    cartID,
		UserID:    userID,
		State:     CheckoutPending,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	}
}

func (l *CheckoutLock) IsTerminal() bool {
	return l.State.IsTerminal()
}

func (l *CheckoutLock) IsExpired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// IsActive reports whether the lock still holds the cart. A captured checkout holds it until
// it completes, expired or not.
func (l *CheckoutLock) IsActive(now time.Time) bool {
	if l.IsTerminal() {
		return false
	}
	return l.State.IsIrreversible() || !l.IsExpired(now)
}

func (l *CheckoutLock) CanResume(now time.Time) bool {
	return l.IsActive(now)
}

// Advance moves the lock to next. An expired lock may only fail, unless payment was already
// captured, in which case it may only complete.
func (l *CheckoutLock) Advance(next CheckoutState, now time.Time) error {
	if !l.State.CanTransitionTo(next) {
		return &TransitionError{From: l.State, To: next, Err: ErrInvalidTransition}
	}
	if next != CheckoutFailed && l.IsExpired(now) && !l.State.IsIrreversible() {
		return &TransitionError{From: l.State, To: next, Err: ErrLockExpired}
	}
	l.State = next
	l.UpdatedAt = now
	switch next {
	case CheckoutCompleted:
		l.CompletedAt = &now
	case CheckoutFailed:
		l.FailedAt = &now
	}
	return nil
}

// Release marks the lock FAILED. It returns false when the lock was already terminal or
// payment was captured.
func (l *CheckoutLock) Release(reason string, now time.Time) bool {
	if l.IsTerminal() || l.State.IsIrreversible() {
		return false
	}
	l.State = CheckoutFailed
	l.FailedAt = &now
	l.FailureReason = reason
	l.UpdatedAt = now
	return true
}
