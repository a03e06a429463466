package httpserver

import (
	"errors"
	"net/http"

	"commerce-checkout/internal/domain"
	cartsvc "commerce-checkout/internal/service/cart"
	checkoutsvc "commerce-checkout/internal/service/checkout"

	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Error         string               `json:"error"`
	Message       string               `json:"message"`
	NewTotalCents *int64               `json:"newTotalCents,omitempty"`
	Lock          *domain.CheckoutLock `json:"lock,omitempty"`
}

// statusFor maps domain errors onto HTTP statuses. Unknown errors are 500.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, cartsvc.ErrInvalidAction):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrPriceChanged):
		return http.StatusConflict, "price_changed"
	case errors.Is(err, domain.ErrLockConflict):
		return http.StatusConflict, "lock_conflict"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, domain.ErrLockExpired):
		return http.StatusGone, "lock_expired"
	case errors.Is(err, domain.ErrPaymentDeclined):
		return http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, domain.ErrPaymentTimeout):
		return http.StatusGatewayTimeout, "payment_timeout"
	case errors.Is(err, domain.ErrTooManyAttempts):
		return http.StatusTooManyRequests, "too_many_attempts"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrCartLocked), errors.Is(err, checkoutsvc.ErrCartCompleted):
		return http.StatusLocked, "cart_locked"
	case errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrMAPViolation),
		errors.Is(err, domain.ErrPriceMismatch),
		errors.Is(err, domain.ErrPriceExpired),
		errors.Is(err, checkoutsvc.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError renders err. lock, when set, is the FAILED lock a checkout ended in.
func (h *handlers) writeError(c *gin.Context, err error, lock *domain.CheckoutLock) {
	status, code := statusFor(err)
	body := errorBody{Error: code, Message: err.Error(), Lock: lock}
	switch code {
	case "lock_conflict":
		body.Message = "checkout already in progress for this cart, try again"
	case "price_changed":
		var pc *domain.PriceChangedError
		if errors.As(err, &pc) {
			total := pc.ActualCents
			body.NewTotalCents = &total
		}
	case "internal":
		h.logger.ErrorContext(c.Request.Context(), "http: request failed", "route", c.FullPath(), "error", err)
		body.Message = "internal error"
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: "bad_request", Message: msg})
}
