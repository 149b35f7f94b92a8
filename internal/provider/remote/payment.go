package remote

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/provider"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
)

const paymentSucceeded = "succeeded"

// PaymentProvider is a provider.PaymentProvider backed by a payment service.
type PaymentProvider struct {
	endpoint endpoint
	logger   *slog.Logger
}

var _ provider.PaymentProvider = (*PaymentProvider)(nil)

// NewPaymentProvider creates a payment provider for the service at baseURL.
func NewPaymentProvider(doer Doer, baseURL string, logger *slog.Logger) *PaymentProvider {
	return &PaymentProvider{
		endpoint: newEndpoint(doer, baseURL, "payment"),
		logger:   logger,
	}
}

// Name returns the provider name.
func (p *PaymentProvider) Name() string {
	return "remote"
}

type createIntentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference"`
}

type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// CreateIntent opens an intent for the rounded amount. The reference doubles
// as the idempotency key, so a retried call returns the same intent.
func (p *PaymentProvider) CreateIntent(ctx context.Context, amount money.Money, reference string) (*provider.PaymentIntent, error) {
	rounded := amount.Round()
	header := http.Header{}
	header.Set("Idempotency-Key", reference)

	var resp intentResponse
	err := p.endpoint.call(ctx, http.MethodPost, "/v1/payment-intents", header, createIntentRequest{
		Amount:    rounded.Amount,
		Currency:  rounded.Currency,
		Reference: reference,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, apperrors.PaymentFailed("payment service returned an intent without id")
	}

	p.logger.InfoContext(ctx, "payment intent created",
		slog.String("intent_id", resp.ID),
		slog.String("reference", reference),
	)

	return &provider.PaymentIntent{
		ID:           resp.ID,
		ClientSecret: resp.ClientSecret,
		Amount:       rounded,
	}, nil
}

type confirmResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	FailureReason string `json:"failure_reason"`
}

// ConfirmIntent asks the service for the intent's verdict. A decline is a
// successful call with Success false; transport and server failures are
// returned as errors.
func (p *PaymentProvider) ConfirmIntent(ctx context.Context, intentID string) (*provider.PaymentConfirmation, error) {
	var resp confirmResponse
	path := "/v1/payment-intents/" + url.PathEscape(intentID) + "/confirm"
	if err := p.endpoint.call(ctx, http.MethodPost, path, nil, nil, &resp); err != nil {
		return nil, err
	}

	if resp.Status != paymentSucceeded {
		reason := resp.FailureReason
		if reason == "" {
			reason = resp.Status
		}
		return &provider.PaymentConfirmation{Success: false, FailureReason: reason}, nil
	}
	return &provider.PaymentConfirmation{Success: true, TransactionID: resp.TransactionID}, nil
}
