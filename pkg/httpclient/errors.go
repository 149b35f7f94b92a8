package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
)

type errorBody struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError consumes and closes a non-2xx response and translates it
// into an AppError when the body carries a structured error.
func ParseResponseError(resp *http.Response, service string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (read body: %w)", service, resp.StatusCode, err)
	}

	var parsed errorBody
	if json.Unmarshal(body, &parsed) != nil || parsed.Error == nil {
		return fmt.Errorf("%s returned status %d: %s", service, resp.StatusCode, string(body))
	}

	msg := fmt.Sprintf("%s: %s", service, parsed.Error.Message)
	switch status := resp.StatusCode; {
	case status == http.StatusNotFound:
		return apperrors.NotFound(service, parsed.Error.Message)
	case status == http.StatusBadRequest:
		return apperrors.InvalidInput(msg)
	case status == http.StatusConflict:
		return apperrors.Conflict(msg)
	case status == http.StatusPaymentRequired, status == http.StatusUnprocessableEntity:
		return apperrors.PaymentFailed(msg)
	case status == http.StatusServiceUnavailable, status == http.StatusTooManyRequests:
		return apperrors.ServiceUnavailable(msg)
	case status >= 500:
		return fmt.Errorf("%s server error (%d/%s): %s", service, status, parsed.Error.Code, parsed.Error.Message)
	default:
		return &apperrors.AppError{Code: parsed.Error.Code, Message: msg, Status: status}
	}
}
