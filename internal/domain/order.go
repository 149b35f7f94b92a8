package domain

import (
	"time"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderPaid      OrderStatus = "paid"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// OrderTransitions allows only forward, adjacent moves. Cancellation is
// possible up to and including Paid; after Shipped a return process applies.
var OrderTransitions = Transitions[OrderStatus]{
	OrderPending:   {OrderConfirmed, OrderCancelled},
	OrderConfirmed: {OrderPaid, OrderCancelled},
	OrderPaid:      {OrderShipped, OrderCancelled},
	OrderShipped:   {OrderDelivered},
	OrderDelivered: {OrderCompleted},
	OrderCompleted: {},
	OrderCancelled: {},
}

// FulfillmentStatus is derived from OrderStatus.
type FulfillmentStatus string

const (
	FulfillmentUnfulfilled FulfillmentStatus = "unfulfilled"
	FulfillmentShipped     FulfillmentStatus = "shipped"
	FulfillmentDelivered   FulfillmentStatus = "delivered"
	FulfillmentCancelled   FulfillmentStatus = "cancelled"
)

// FulfillmentFor maps an order status to its fulfillment status.
func FulfillmentFor(s OrderStatus) FulfillmentStatus {
	switch s {
	case OrderShipped:
		return FulfillmentShipped
	case OrderDelivered, OrderCompleted:
		return FulfillmentDelivered
	case OrderCancelled:
		return FulfillmentCancelled
	default:
		return FulfillmentUnfulfilled
	}
}

// OrderItem is a purchased line with its price at purchase time.
type OrderItem struct {
	ID           string      `json:"id"`
	SKU          SKU         `json:"sku"`
	Name         string      `json:"name"`
	Quantity     int         `json:"quantity"`
	UnitPrice    money.Money `json:"unit_price"`
	LineTotal    money.Money `json:"line_total"`
	LineDiscount money.Money `json:"line_discount"`
	TaxClass     string      `json:"tax_class,omitempty"`
}

// StatusChange is one entry of an order's status history.
type StatusChange struct {
	From OrderStatus `json:"from"`
	To   OrderStatus `json:"to"`
	At   time.Time   `json:"at"`
	Note string      `json:"note,omitempty"`
}

// Order is the durable record of a placed purchase. Financial fields are
// fixed at creation; only status, tracking and notes change afterwards.
type Order struct {
	ID                 string            `json:"id"`
	Number             string            `json:"number"`
	CustomerID         string            `json:"customer_id,omitempty"`
	GuestEmail         string            `json:"guest_email,omitempty"`
	Status             OrderStatus       `json:"status"`
	FulfillmentStatus  FulfillmentStatus `json:"fulfillment_status"`
	Currency           string            `json:"currency"`
	Items              []OrderItem       `json:"items"`
	Totals             Totals            `json:"totals"`
	CouponCode         string            `json:"coupon_code,omitempty"`
	AppliedDiscountIDs []string          `json:"applied_discount_ids,omitempty"`
	ShippingAddress    *Address          `json:"shipping_address,omitempty"`
	BillingAddress     *Address          `json:"billing_address,omitempty"`
	ShippingMethod     *ShippingOption   `json:"shipping_method,omitempty"`
	ReservationID      string            `json:"reservation_id,omitempty"`
	CheckoutSessionID  string            `json:"checkout_session_id,omitempty"`
	PaymentIntentID    string            `json:"payment_intent_id,omitempty"`
	TransactionID      string            `json:"transaction_id,omitempty"`
	TrackingNumber     string            `json:"tracking_number,omitempty"`
	Carrier            string            `json:"carrier,omitempty"`
	Notes              string            `json:"notes,omitempty"`
	CancelReason       string            `json:"cancel_reason,omitempty"`
	StatusHistory      []StatusChange    `json:"status_history"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	ConfirmedAt        *time.Time        `json:"confirmed_at,omitempty"`
	PaidAt             *time.Time        `json:"paid_at,omitempty"`
	ShippedAt          *time.Time        `json:"shipped_at,omitempty"`
	DeliveredAt        *time.Time        `json:"delivered_at,omitempty"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
	Version            int               `json:"version"`
}

// CanCancel reports whether the order may still be cancelled.
func (o *Order) CanCancel() bool {
	return OrderTransitions.Can(o.Status, OrderCancelled)
}

// CanTransitionTo checks if the order can move to the target status.
func (o *Order) CanTransitionTo(target OrderStatus) bool {
	return OrderTransitions.Can(o.Status, target)
}

// Transition moves the order to target, stamping the status timestamp and
// appending to the history.
func (o *Order) Transition(target OrderStatus, at time.Time, note string) error {
	if err := OrderTransitions.Check("order", o.Status, target); err != nil {
		return err
	}
	o.StatusHistory = append(o.StatusHistory, StatusChange{From: o.Status, To: target, At: at, Note: note})
	o.Status = target
	o.FulfillmentStatus = FulfillmentFor(target)
	o.UpdatedAt = at

	stamp := at
	switch target {
	case OrderConfirmed:
		o.ConfirmedAt = &stamp
	case OrderPaid:
		o.PaidAt = &stamp
	case OrderShipped:
		o.ShippedAt = &stamp
	case OrderDelivered:
		o.DeliveredAt = &stamp
	case OrderCompleted:
		o.CompletedAt = &stamp
	case OrderCancelled:
		o.CancelledAt = &stamp
	}
	return nil
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	cp.AppliedDiscountIDs = append([]string(nil), o.AppliedDiscountIDs...)
	cp.ShippingAddress = o.ShippingAddress.Clone()
	cp.BillingAddress = o.BillingAddress.Clone()
	if o.ShippingMethod != nil {
		m := *o.ShippingMethod
		cp.ShippingMethod = &m
	}
	cp.StatusHistory = append([]StatusChange(nil), o.StatusHistory...)
	cp.ConfirmedAt = cloneTime(o.ConfirmedAt)
	cp.PaidAt = cloneTime(o.PaidAt)
	cp.ShippedAt = cloneTime(o.ShippedAt)
	cp.DeliveredAt = cloneTime(o.DeliveredAt)
	cp.CompletedAt = cloneTime(o.CompletedAt)
	cp.CancelledAt = cloneTime(o.CancelledAt)
	return &cp
}
