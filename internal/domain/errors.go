package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrEmptyCart is returned when a checkout or reprice is attempted on a cart without lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrCartLocked is returned when a cart mutation hits a cart with a live checkout lock.
	ErrCartLocked = errors.New("cart is locked by an active checkout")

	// ErrLockConflict means another checkout is in progress for the cart. Callers should try again.
	ErrLockConflict = errors.New("checkout lock conflict")
	ErrLockExpired  = errors.New("checkout lock expired")
	// ErrInvalidTransition is returned for any state change other than the immediate successor or FAILED.
	ErrInvalidTransition = errors.New("invalid checkout state transition")
	ErrTooManyAttempts   = errors.New("too many checkout attempts")
	// ErrInsufficientStock is returned by stock reservation when a variant cannot cover the quantity.
	ErrInsufficientStock = errors.New("insufficient stock")

	ErrMAPViolation  = errors.New("price below minimum advertised price")
	ErrPriceMismatch = errors.New("price hash mismatch")
	ErrPriceExpired  = errors.New("pricing snapshot expired")
	ErrPriceChanged  = errors.New("price changed since confirmation")

	ErrPaymentTimeout  = errors.New("payment gateway timeout")
	ErrPaymentDeclined = errors.New("payment declined")

	// ErrCacheUnavailable is internal to the pricing cache and never leaves it.
	ErrCacheUnavailable = errors.New("cache unavailable")
)

// PriceChangedError carries the repriced total the buyer has to confirm.
type PriceChangedError struct {
	ExpectedCents int64
	ActualCents   int64
}

func (e *PriceChangedError) Error() string {
	return fmt.Sprintf("price changed: expected %d, got %d", e.ExpectedCents, e.ActualCents)
}

func (e *PriceChangedError) Unwrap() error {
	return ErrPriceChanged
}

// TransitionError describes a rejected state change.
type TransitionError struct {
	From CheckoutState
	To   CheckoutState
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("checkout transition %s -> %s: %v", e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}
