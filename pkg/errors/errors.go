package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Sentinel errors for the engine's error taxonomy. Every AppError unwraps to
// exactly one of these so callers can branch with errors.Is.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrSessionExpired    = errors.New("session expired")
	ErrUsageLimitReached = errors.New("usage limit reached")
	ErrConflict          = errors.New("concurrency conflict")
	ErrEmptyCart         = errors.New("empty cart")
	ErrPaymentFailed     = errors.New("payment failed")
	ErrServiceUnavail    = errors.New("service unavailable")
	ErrInternal          = errors.New("internal error")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Status  int               `json:"-"`
	Err     error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// InsufficientStockError names the SKU that could not be reserved and the shortfall.
type InsufficientStockError struct {
	SKU       string `json:"sku"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("sku %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// Shortfall returns how many units are missing.
func (e *InsufficientStockError) Shortfall() int {
	return e.Requested - e.Available
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a 400 error for malformed arguments.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// ValidationFailed creates a 422 error carrying field-level messages.
func ValidationFailed(message string, fields map[string]string) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Message: message,
		Fields:  fields,
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrValidation,
	}
}

// InsufficientStock creates a 409 error that wraps an *InsufficientStockError.
func InsufficientStock(sku string, requested, available int) *AppError {
	return &AppError{
		Code:    "INSUFFICIENT_STOCK",
		Message: fmt.Sprintf("insufficient stock for sku %s", sku),
		Fields: map[string]string{
			"sku":       sku,
			"requested": strconv.Itoa(requested),
			"available": strconv.Itoa(available),
		},
		Status: http.StatusConflict,
		Err:    &InsufficientStockError{SKU: sku, Requested: requested, Available: available},
	}
}

// InvalidState creates a 409 error for an operation the current state does not allow.
func InvalidState(message string) *AppError {
	return &AppError{
		Code:    "INVALID_STATE",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrInvalidState,
	}
}

// InvalidTransition creates a 409 error for a rejected state machine move.
func InvalidTransition(entity, from, to string) *AppError {
	return &AppError{
		Code:    "INVALID_TRANSITION",
		Message: fmt.Sprintf("%s cannot transition from %s to %s", entity, from, to),
		Fields:  map[string]string{"from": from, "to": to},
		Status:  http.StatusConflict,
		Err:     ErrInvalidTransition,
	}
}

// SessionExpired creates a 410 error for a checkout session past its expiry.
func SessionExpired(sessionID string) *AppError {
	return &AppError{
		Code:    "SESSION_EXPIRED",
		Message: fmt.Sprintf("checkout session %s has expired", sessionID),
		Status:  http.StatusGone,
		Err:     ErrSessionExpired,
	}
}

// UsageLimitReached creates a 409 error for an exhausted discount.
func UsageLimitReached(discountID string) *AppError {
	return &AppError{
		Code:    "USAGE_LIMIT_REACHED",
		Message: fmt.Sprintf("discount %s has reached its usage limit", discountID),
		Status:  http.StatusConflict,
		Err:     ErrUsageLimitReached,
	}
}

// Conflict creates a 409 error for an optimistic version mismatch.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    "CONCURRENCY_CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// EmptyCart creates a 422 error for a checkout attempt on a cart without items.
func EmptyCart(cartID string) *AppError {
	return &AppError{
		Code:    "EMPTY_CART",
		Message: fmt.Sprintf("cart %s has no items", cartID),
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrEmptyCart,
	}
}

// PaymentFailed creates a 402 error for a rejected or unverifiable payment.
func PaymentFailed(message string) *AppError {
	return &AppError{
		Code:    "PAYMENT_FAILED",
		Message: message,
		Status:  http.StatusPaymentRequired,
		Err:     ErrPaymentFailed,
	}
}

// ServiceUnavailable creates a 503 error for a collaborator that cannot be reached.
func ServiceUnavailable(message string) *AppError {
	return &AppError{
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     ErrServiceUnavail,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// IsRetryable reports whether the caller may retry the operation automatically.
// Only optimistic concurrency conflicts qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrValidation), errors.Is(err, ErrEmptyCart):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrConflict),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrUsageLimitReached):
		return http.StatusConflict
	case errors.Is(err, ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, ErrPaymentFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrServiceUnavail):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
