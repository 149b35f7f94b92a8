// Package mock provides deterministic in-process collaborators for
// development and tests.
package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/provider"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
)

// PaymentProvider is a mock payment provider. Intents succeed unless a
// failure has been scripted with FailCreate or Decline.
type PaymentProvider struct {
	mu         sync.Mutex
	intents    map[string]money.Money
	createErr  error
	declineAll bool
	declined   map[string]string
	confirmErr error
	onConfirm  func(intentID string)
}

var _ provider.PaymentProvider = (*PaymentProvider)(nil)

// NewPaymentProvider creates a new mock payment provider.
func NewPaymentProvider() *PaymentProvider {
	return &PaymentProvider{
		intents:  make(map[string]money.Money),
		declined: make(map[string]string),
	}
}

// Name returns the provider name.
func (p *PaymentProvider) Name() string {
	return "mock"
}

// FailCreate makes every CreateIntent call return err until reset with nil.
func (p *PaymentProvider) FailCreate(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createErr = err
}

// FailConfirm makes every ConfirmIntent call return err until reset with nil.
func (p *PaymentProvider) FailConfirm(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmErr = err
}

// Decline makes ConfirmIntent report a declined payment for intentID, or for
// every intent when intentID is empty.
func (p *PaymentProvider) Decline(intentID, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if intentID == "" {
		p.declineAll = true
		return
	}
	p.declined[intentID] = reason
}

// OnConfirm registers fn to run at the start of every ConfirmIntent call,
// standing in for the time a real provider spends capturing the payment.
func (p *PaymentProvider) OnConfirm(fn func(intentID string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConfirm = fn
}

// Approve clears all scripted declines.
func (p *PaymentProvider) Approve() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.declineAll = false
	p.declined = make(map[string]string)
}

// CreateIntent records a new intent for amount.
func (p *PaymentProvider) CreateIntent(_ context.Context, amount money.Money, _ string) (*provider.PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	id := "mock_pi_" + uuid.New().String()
	p.intents[id] = amount
	return &provider.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		Amount:       amount,
	}, nil
}

// ConfirmIntent reports the scripted outcome of an intent.
func (p *PaymentProvider) ConfirmIntent(_ context.Context, intentID string) (*provider.PaymentConfirmation, error) {
	p.mu.Lock()
	hook := p.onConfirm
	p.mu.Unlock()
	if hook != nil {
		hook(intentID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.confirmErr != nil {
		return nil, p.confirmErr
	}
	if _, ok := p.intents[intentID]; !ok {
		return nil, apperrors.NotFound("payment intent", intentID)
	}
	if reason, ok := p.declined[intentID]; ok || p.declineAll {
		if reason == "" {
			reason = "card_declined"
		}
		return &provider.PaymentConfirmation{Success: false, FailureReason: reason}, nil
	}
	return &provider.PaymentConfirmation{
		Success:       true,
		TransactionID: "mock_txn_" + uuid.New().String(),
	}, nil
}
