package provider

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
)

// PaymentIntent is the provider's handle for a pending charge.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Amount       money.Money
}

// PaymentConfirmation is the provider's verdict on an intent.
type PaymentConfirmation struct {
	Success       bool
	TransactionID string
	FailureReason string
}

// PaymentProvider defines the contract with the payment collaborator.
type PaymentProvider interface {
	// Name returns the provider name (e.g., "mock", "remote").
	Name() string

	// CreateIntent opens a payment intent for the amount.
	CreateIntent(ctx context.Context, amount money.Money, reference string) (*PaymentIntent, error)

	// ConfirmIntent reports whether the intent has been paid.
	ConfirmIntent(ctx context.Context, intentID string) (*PaymentConfirmation, error)
}

// TaxRateSource returns the tax rate for an address and tax class as a
// fraction, e.g. 0.19 for 19%.
type TaxRateSource interface {
	GetRate(ctx context.Context, address domain.Address, taxClass string) (decimal.Decimal, error)
}

// Parcel describes what is being shipped.
type Parcel struct {
	WeightGrams int
	ItemCount   int
	Value       money.Money
}

// ShippingRateSource quotes shipping options for an address and parcel.
type ShippingRateSource interface {
	GetOptions(ctx context.Context, address domain.Address, parcel Parcel) ([]domain.ShippingOption, error)
}
