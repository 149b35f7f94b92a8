package domain

import (
	"time"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
)

// CartStatus is the lifecycle state of a cart.
type CartStatus string

const (
	CartEmpty      CartStatus = "empty"
	CartActive     CartStatus = "active"
	CartCheckedOut CartStatus = "checked_out"
	CartAbandoned  CartStatus = "abandoned"
)

// CartTransitions is the cart state machine. Active is re-entered when an
// item is added to an empty, checked-out or abandoned cart.
var CartTransitions = Transitions[CartStatus]{
	CartEmpty:      {CartActive, CartAbandoned},
	CartActive:     {CartActive, CartEmpty, CartCheckedOut, CartAbandoned},
	CartCheckedOut: {CartActive, CartEmpty},
	CartAbandoned:  {CartActive, CartEmpty},
}

// Owner binds a cart to a signed-in customer or an anonymous session.
type Owner struct {
	CustomerID string `json:"customer_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Email      string `json:"email,omitempty"`
}

// Key returns the storage key for the owner. A customer id takes precedence.
func (o Owner) Key() string {
	if o.CustomerID != "" {
		return "customer:" + o.CustomerID
	}
	return "session:" + o.SessionID
}

// IsZero reports whether neither id is set.
func (o Owner) IsZero() bool {
	return o.CustomerID == "" && o.SessionID == ""
}

// CartItem is one line of a cart, unique by SKU within the cart.
type CartItem struct {
	ID           string      `json:"id"`
	SKU          SKU         `json:"sku"`
	Name         string      `json:"name"`
	Quantity     int         `json:"quantity"`
	UnitPrice    money.Money `json:"unit_price"`
	LineTotal    money.Money `json:"line_total"`
	LineDiscount money.Money `json:"line_discount"`
	CategoryIDs  []string    `json:"category_ids,omitempty"`
	TaxClass     string      `json:"tax_class,omitempty"`
	WeightGrams  int         `json:"weight_grams,omitempty"`
}

// ShippingOption is one rate quoted by the shipping collaborator.
type ShippingOption struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Cost    money.Money `json:"cost"`
	ETADays int         `json:"eta_days"`
}

// Totals is the computed money summary of a cart, session or order.
// Total = Subtotal - Discount + Shipping - ShippingDiscount, plus Tax when
// TaxIncluded is false.
type Totals struct {
	Subtotal         money.Money `json:"subtotal"`
	Discount         money.Money `json:"discount"`
	Shipping         money.Money `json:"shipping"`
	ShippingDiscount money.Money `json:"shipping_discount"`
	Tax              money.Money `json:"tax"`
	TaxIncluded      bool        `json:"tax_included"`
	Total            money.Money `json:"total"`
}

// ZeroTotals returns all-zero totals in currency.
func ZeroTotals(currency string) Totals {
	z := money.Zero(currency)
	return Totals{Subtotal: z, Discount: z, Shipping: z, ShippingDiscount: z, Tax: z, Total: z}
}

// Cart is the mutable basket bound to an owner.
type Cart struct {
	ID                 string          `json:"id"`
	Owner              Owner           `json:"owner"`
	Status             CartStatus      `json:"status"`
	Currency           string          `json:"currency"`
	Items              []CartItem      `json:"items"`
	CouponCode         string          `json:"coupon_code,omitempty"`
	ShippingAddress    *Address        `json:"shipping_address,omitempty"`
	BillingAddress     *Address        `json:"billing_address,omitempty"`
	ShippingMethod     *ShippingOption `json:"shipping_method,omitempty"`
	Totals             Totals          `json:"totals"`
	AppliedDiscountIDs []string        `json:"applied_discount_ids,omitempty"`
	Version            int             `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// FindItem returns the index of the line holding sku, or -1.
func (c *Cart) FindItem(sku SKU) int {
	for i := range c.Items {
		if c.Items[i].SKU == sku {
			return i
		}
	}
	return -1
}

// FindItemByID returns the index of the line with the given id, or -1.
func (c *Cart) FindItemByID(id string) int {
	for i := range c.Items {
		if c.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// ItemCount returns the total number of units in the cart.
func (c *Cart) ItemCount() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// WeightGrams returns the total parcel weight.
func (c *Cart) WeightGrams() int {
	return LinesWeight(c.Items)
}

// LinesWeight sums unit weight times quantity.
func LinesWeight(items []CartItem) int {
	w := 0
	for _, it := range items {
		w += it.WeightGrams * it.Quantity
	}
	return w
}

// CloneItems deep-copies cart lines.
func CloneItems(items []CartItem) []CartItem {
	out := make([]CartItem, len(items))
	for i, it := range items {
		it.CategoryIDs = append([]string(nil), it.CategoryIDs...)
		out[i] = it
	}
	return out
}

// Clone returns a deep copy of the cart.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Items = CloneItems(c.Items)
	cp.ShippingAddress = c.ShippingAddress.Clone()
	cp.BillingAddress = c.BillingAddress.Clone()
	if c.ShippingMethod != nil {
		m := *c.ShippingMethod
		cp.ShippingMethod = &m
	}
	cp.AppliedDiscountIDs = append([]string(nil), c.AppliedDiscountIDs...)
	return &cp
}
