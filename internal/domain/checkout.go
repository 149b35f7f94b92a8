package domain

import "time"

// CheckoutStatus is the lifecycle state of a checkout session.
type CheckoutStatus string

const (
	CheckoutInitialized      CheckoutStatus = "initialized"
	CheckoutAddressSet       CheckoutStatus = "address_set"
	CheckoutShippingSelected CheckoutStatus = "shipping_selected"
	CheckoutPaymentPending   CheckoutStatus = "payment_pending"
	CheckoutCompleted        CheckoutStatus = "completed"
	CheckoutCancelled        CheckoutStatus = "cancelled"
	CheckoutExpired          CheckoutStatus = "expired"
	// CheckoutFailed marks a session whose payment was captured but whose
	// order could not be created; TransactionID identifies the charge to refund.
	CheckoutFailed CheckoutStatus = "failed"
)

// CheckoutTransitions is the checkout state machine. Changing the shipping
// address steps back to AddressSet, and changing the method steps back to
// ShippingSelected, from any later non-terminal state.
var CheckoutTransitions = Transitions[CheckoutStatus]{
	CheckoutInitialized: {CheckoutAddressSet, CheckoutCancelled, CheckoutExpired},
	CheckoutAddressSet: {
		CheckoutAddressSet, CheckoutShippingSelected, CheckoutCancelled, CheckoutExpired,
	},
	CheckoutShippingSelected: {
		CheckoutAddressSet, CheckoutShippingSelected, CheckoutPaymentPending,
		CheckoutCancelled, CheckoutExpired,
	},
	CheckoutPaymentPending: {
		CheckoutAddressSet, CheckoutShippingSelected, CheckoutPaymentPending,
		CheckoutCompleted, CheckoutCancelled, CheckoutExpired, CheckoutFailed,
	},
	CheckoutCompleted: {},
	CheckoutCancelled: {},
	CheckoutExpired:   {},
	CheckoutFailed:    {},
}

// CheckoutSession is the time-boxed workflow that turns a cart snapshot into
// an order. Lines is a copy taken at Initialize; later cart edits do not reach it.
type CheckoutSession struct {
	ID                 string           `json:"id"`
	CartID             string           `json:"cart_id"`
	Owner              Owner            `json:"owner"`
	Status             CheckoutStatus   `json:"status"`
	Currency           string           `json:"currency"`
	Lines              []CartItem       `json:"lines"`
	CouponCode         string           `json:"coupon_code,omitempty"`
	ShippingAddress    *Address         `json:"shipping_address,omitempty"`
	BillingAddress     *Address         `json:"billing_address,omitempty"`
	ShippingOptions    []ShippingOption `json:"shipping_options,omitempty"`
	ShippingMethod     *ShippingOption  `json:"shipping_method,omitempty"`
	Totals             Totals           `json:"totals"`
	AppliedDiscountIDs []string         `json:"applied_discount_ids,omitempty"`
	ReservationID      string           `json:"reservation_id,omitempty"`
	PaymentIntentID    string           `json:"payment_intent_id,omitempty"`
	TransactionID      string           `json:"transaction_id,omitempty"`
	ClientSecret       string           `json:"client_secret,omitempty"`
	PaymentAttempts    int              `json:"payment_attempts"`
	FailureReason      string           `json:"failure_reason,omitempty"`
	OrderID            string           `json:"order_id,omitempty"`
	ExpiresAt          time.Time        `json:"expires_at"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	Version            int              `json:"version"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// IsTerminal returns true once the session can no longer change.
func (s *CheckoutSession) IsTerminal() bool {
	return CheckoutTransitions.IsTerminal(s.Status)
}

// IsExpired returns true if the session is still open but past its expiry.
func (s *CheckoutSession) IsExpired(now time.Time) bool {
	return !s.IsTerminal() && now.After(s.ExpiresAt)
}

// HasShippingOption reports whether id is among the currently quoted options.
func (s *CheckoutSession) HasShippingOption(id string) (ShippingOption, bool) {
	for _, o := range s.ShippingOptions {
		if o.ID == id {
			return o, true
		}
	}
	return ShippingOption{}, false
}

// Clone returns a deep copy of the session.
func (s *CheckoutSession) Clone() *CheckoutSession {
	cp := *s
	cp.Lines = CloneItems(s.Lines)
	cp.ShippingAddress = s.ShippingAddress.Clone()
	cp.BillingAddress = s.BillingAddress.Clone()
	cp.ShippingOptions = append([]ShippingOption(nil), s.ShippingOptions...)
	if s.ShippingMethod != nil {
		m := *s.ShippingMethod
		cp.ShippingMethod = &m
	}
	cp.AppliedDiscountIDs = append([]string(nil), s.AppliedDiscountIDs...)
	cp.CompletedAt = cloneTime(s.CompletedAt)
	return &cp
}
