package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Sentinel error identity ---

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound, ErrInvalidInput, ErrValidation, ErrInsufficientStock,
		ErrInvalidState, ErrInvalidTransition, ErrSessionExpired,
		ErrUsageLimitReached, ErrConflict, ErrEmptyCart, ErrPaymentFailed,
		ErrServiceUnavail, ErrInternal,
	}

	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinels %d and %d should be distinct", i, j)
		}
	}
}

// --- AppError behavior ---

func TestAppError_ErrorString_WithWrappedError(t *testing.T) {
	inner := fmt.Errorf("db connection lost")
	appErr := &AppError{Code: "INTERNAL_ERROR", Message: "something broke", Err: inner}
	assert.Contains(t, appErr.Error(), "INTERNAL_ERROR")
	assert.Contains(t, appErr.Error(), "something broke")
	assert.Contains(t, appErr.Error(), "db connection lost")
}

func TestAppError_ErrorString_WithoutWrappedError(t *testing.T) {
	appErr := &AppError{Code: "NOT_FOUND", Message: "cart not found"}
	assert.Equal(t, "NOT_FOUND: cart not found", appErr.Error())
}

// --- Constructors ---

func TestNotFound(t *testing.T) {
	err := NotFound("reservation", "res-1")
	require.NotNil(t, err)
	assert.Equal(t, "NOT_FOUND", err.Code)
	assert.Contains(t, err.Message, "res-1")
	assert.Equal(t, http.StatusNotFound, err.Status)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestValidationFailed_CarriesFields(t *testing.T) {
	err := ValidationFailed("cart is not ready", map[string]string{"item-1": "price changed"})
	assert.Equal(t, "VALIDATION_FAILED", err.Code)
	assert.Equal(t, "price changed", err.Fields["item-1"])
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestInsufficientStock_NamesSKUAndShortfall(t *testing.T) {
	err := InsufficientStock("prod-b", 5, 2)

	assert.True(t, errors.Is(err, ErrInsufficientStock))

	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "prod-b", stockErr.SKU)
	assert.Equal(t, 5, stockErr.Requested)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 3, stockErr.Shortfall())
	assert.Equal(t, "2", err.Fields["available"])
}

func TestInsufficientStock_SurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("reserve: %w", InsufficientStock("sku-1", 3, 0))

	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "sku-1", stockErr.SKU)
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
}

func TestInvalidTransition(t *testing.T) {
	err := InvalidTransition("order", "shipped", "cancelled")
	assert.Contains(t, err.Message, "shipped")
	assert.Contains(t, err.Message, "cancelled")
	assert.Equal(t, "shipped", err.Fields["from"])
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestSessionExpired(t *testing.T) {
	err := SessionExpired("cs-1")
	assert.Equal(t, http.StatusGone, err.Status)
	assert.True(t, errors.Is(err, ErrSessionExpired))
}

// --- IsRetryable ---

func TestIsRetryable_OnlyConflict(t *testing.T) {
	assert.True(t, IsRetryable(Conflict("cart was modified")))
	assert.True(t, IsRetryable(fmt.Errorf("save cart: %w", Conflict("x"))))

	assert.False(t, IsRetryable(InsufficientStock("a", 1, 0)))
	assert.False(t, IsRetryable(InvalidState("nope")))
	assert.False(t, IsRetryable(PaymentFailed("declined")))
	assert.False(t, IsRetryable(nil))
}

// --- HTTPStatus ---

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app not found", NotFound("cart", "1"), http.StatusNotFound},
		{"app validation", ValidationFailed("bad", nil), http.StatusUnprocessableEntity},
		{"app usage", UsageLimitReached("d-1"), http.StatusConflict},
		{"app empty cart", EmptyCart("c-1"), http.StatusUnprocessableEntity},
		{"app payment", PaymentFailed("declined"), http.StatusPaymentRequired},
		{"app unavailable", ServiceUnavailable("down"), http.StatusServiceUnavailable},
		{"sentinel not found", ErrNotFound, http.StatusNotFound},
		{"sentinel conflict", fmt.Errorf("wrap: %w", ErrConflict), http.StatusConflict},
		{"sentinel expired", ErrSessionExpired, http.StatusGone},
		{"sentinel transition", ErrInvalidTransition, http.StatusConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
