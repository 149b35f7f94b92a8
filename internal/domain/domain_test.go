package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

// ============================================================================
// SKU
// ============================================================================

func TestSKU_KeyRoundTrip(t *testing.T) {
	assert.Equal(t, "p1", SKU{ProductID: "p1"}.Key())
	assert.Equal(t, "p1:v2", SKU{ProductID: "p1", VariantID: "v2"}.Key())
	assert.Equal(t, SKU{ProductID: "p1", VariantID: "v2"}, ParseSKU("p1:v2"))
	assert.Equal(t, SKU{ProductID: "p1"}, ParseSKU("p1"))
}

// ============================================================================
// StockRecord
// ============================================================================

func TestStockRecord_Available(t *testing.T) {
	s := StockRecord{OnHand: 5, Reserved: 3}
	assert.Equal(t, 2, s.Available())
	assert.True(t, s.CanReserve(2))
	assert.False(t, s.CanReserve(5))

	s.AllowBackorder = true
	assert.Equal(t, UnlimitedStock, s.Available())
	assert.True(t, s.CanReserve(500))
}

func TestStockRecord_Consistent(t *testing.T) {
	assert.True(t, (&StockRecord{OnHand: 5, Reserved: 5}).Consistent())
	assert.False(t, (&StockRecord{OnHand: 4, Reserved: 5}).Consistent())
	assert.True(t, (&StockRecord{OnHand: 4, Reserved: 5, AllowBackorder: true}).Consistent())
	assert.False(t, (&StockRecord{OnHand: 4, Reserved: -1}).Consistent())
}

func TestStockRecord_IsLow(t *testing.T) {
	assert.True(t, (&StockRecord{OnHand: 10, Reserved: 8, LowStockThreshold: 2}).IsLow())
	assert.False(t, (&StockRecord{OnHand: 10, Reserved: 0, LowStockThreshold: 2}).IsLow())
	assert.False(t, (&StockRecord{OnHand: 0, LowStockThreshold: 0}).IsLow())
}

// ============================================================================
// Reservation
// ============================================================================

func TestReservationTransitions(t *testing.T) {
	assert.True(t, ReservationTransitions.Can(ReservationHeld, ReservationCommitted))
	assert.True(t, ReservationTransitions.Can(ReservationHeld, ReservationReleased))
	assert.False(t, ReservationTransitions.Can(ReservationCommitted, ReservationReleased))
	assert.True(t, ReservationTransitions.IsTerminal(ReservationReleased))
}

func TestReservation_IsActiveAndExpired(t *testing.T) {
	r := &Reservation{State: ReservationHeld, ExpiresAt: t0}
	assert.True(t, r.IsActive())
	assert.False(t, r.IsExpired(t0))
	assert.True(t, r.IsExpired(t0.Add(time.Second)))

	r.State = ReservationCommitted
	assert.True(t, r.IsActive())
	assert.False(t, r.IsExpired(t0.Add(time.Hour)))

	restocked := t0
	r.RestockedAt = &restocked
	assert.False(t, r.IsActive())
}

func TestReservation_CloneIsDeep(t *testing.T) {
	r := &Reservation{Lines: []ReservationLine{{SKU: SKU{ProductID: "a"}, Quantity: 1}}}
	cp := r.Clone()
	cp.Lines[0].Quantity = 9
	assert.Equal(t, 1, r.Lines[0].Quantity)
}

// ============================================================================
// Discount
// ============================================================================

func TestDiscount_Validate_StartAfterEnd(t *testing.T) {
	start, end := t0.Add(time.Hour), t0
	d := Discount{ID: "d1", Type: DiscountPercentage, Scope: ScopeOrder, Value: decimal.NewFromInt(10), StartsAt: &start, EndsAt: &end}

	err := d.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Fields, "ends_at")
}

func TestDiscount_Validate_Shapes(t *testing.T) {
	tests := []struct {
		name  string
		d     Discount
		field string
	}{
		{"percent over 100", Discount{Type: DiscountPercentage, Scope: ScopeOrder, Value: decimal.NewFromInt(120)}, "value"},
		{"fixed without currency", Discount{Type: DiscountFixedAmount, Scope: ScopeOrder, Value: decimal.NewFromInt(5)}, "currency"},
		{"bxgy without payload", Discount{Type: DiscountBuyXGetY, Scope: ScopeProduct, ProductIDs: []string{"p"}}, "buy_x_get_y"},
		{"free shipping wrong scope", Discount{Type: DiscountFreeShipping, Scope: ScopeOrder}, "scope"},
		{"product scope without products", Discount{Type: DiscountPercentage, Scope: ScopeProduct, Value: decimal.NewFromInt(5)}, "product_ids"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			var appErr *apperrors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Contains(t, appErr.Fields, tt.field)
		})
	}

	ok := Discount{Type: DiscountFreeShipping, Scope: ScopeShipping}
	assert.NoError(t, ok.Validate())
}

func TestDiscount_Window(t *testing.T) {
	start, end := t0, t0.Add(24*time.Hour)
	d := Discount{StartsAt: &start, EndsAt: &end}
	assert.True(t, d.NotStarted(t0.Add(-time.Second)))
	assert.True(t, d.InWindow(t0))
	assert.True(t, d.InWindow(end))
	assert.True(t, d.Ended(end.Add(time.Second)))

	open := Discount{}
	assert.True(t, open.InWindow(t0))
}

func TestDiscount_Eligible(t *testing.T) {
	order := Discount{Scope: ScopeOrder, ExcludedCategoryIDs: []string{"gift-cards"}}
	assert.True(t, order.Eligible("p1", []string{"shoes"}))
	assert.False(t, order.Eligible("p2", []string{"gift-cards"}))

	product := Discount{Scope: ScopeProduct, ProductIDs: []string{"p1"}}
	assert.True(t, product.Eligible("p1", nil))
	assert.False(t, product.Eligible("p2", nil))

	category := Discount{Scope: ScopeCategory, CategoryIDs: []string{"shoes"}, ExcludedProductIDs: []string{"p9"}}
	assert.True(t, category.Eligible("p1", []string{"shoes", "sale"}))
	assert.False(t, category.Eligible("p9", []string{"shoes"}))
	assert.False(t, category.Eligible("p3", []string{"hats"}))
}

func TestDiscount_UsageExhausted(t *testing.T) {
	assert.False(t, (&Discount{UsageLimit: 0, UsageCount: 99}).UsageExhausted())
	assert.False(t, (&Discount{UsageLimit: 3, UsageCount: 2}).UsageExhausted())
	assert.True(t, (&Discount{UsageLimit: 3, UsageCount: 3}).UsageExhausted())
}

// ============================================================================
// Cart
// ============================================================================

func TestOwner_Key(t *testing.T) {
	assert.Equal(t, "customer:c1", Owner{CustomerID: "c1", SessionID: "s1"}.Key())
	assert.Equal(t, "session:s1", Owner{SessionID: "s1"}.Key())
	assert.True(t, Owner{}.IsZero())
}

func TestCart_CloneIsDeep(t *testing.T) {
	c := &Cart{
		Items:           []CartItem{{ID: "i1", SKU: SKU{ProductID: "p"}, Quantity: 2, CategoryIDs: []string{"x"}, WeightGrams: 100}},
		ShippingAddress: &Address{City: "Berlin"},
	}
	cp := c.Clone()
	cp.Items[0].Quantity = 5
	cp.Items[0].CategoryIDs[0] = "y"
	cp.ShippingAddress.City = "Paris"

	assert.Equal(t, 2, c.Items[0].Quantity)
	assert.Equal(t, "x", c.Items[0].CategoryIDs[0])
	assert.Equal(t, "Berlin", c.ShippingAddress.City)
	assert.Equal(t, 200, c.WeightGrams())
	assert.Equal(t, 0, c.FindItem(SKU{ProductID: "p"}))
	assert.Equal(t, -1, c.FindItemByID("missing"))
}

func TestCartTransitions(t *testing.T) {
	assert.True(t, CartTransitions.Can(CartCheckedOut, CartActive))
	assert.True(t, CartTransitions.Can(CartEmpty, CartActive))
	assert.False(t, CartTransitions.Can(CartEmpty, CartCheckedOut))
}

// ============================================================================
// CheckoutSession
// ============================================================================

func TestCheckoutSession_IsExpired(t *testing.T) {
	s := &CheckoutSession{Status: CheckoutAddressSet, ExpiresAt: t0}
	assert.False(t, s.IsExpired(t0))
	assert.True(t, s.IsExpired(t0.Add(time.Minute)))

	s.Status = CheckoutCompleted
	assert.True(t, s.IsTerminal())
	assert.False(t, s.IsExpired(t0.Add(time.Minute)))
}

func TestCheckoutTransitions_TerminalStates(t *testing.T) {
	for _, s := range []CheckoutStatus{CheckoutCompleted, CheckoutCancelled, CheckoutExpired, CheckoutFailed} {
		assert.True(t, CheckoutTransitions.IsTerminal(s), s)
	}
	for _, s := range []CheckoutStatus{CheckoutInitialized, CheckoutAddressSet, CheckoutShippingSelected, CheckoutPaymentPending} {
		assert.True(t, CheckoutTransitions.Can(s, CheckoutCancelled), s)
		assert.True(t, CheckoutTransitions.Can(s, CheckoutExpired), s)
	}
	assert.False(t, CheckoutTransitions.Can(CheckoutInitialized, CheckoutPaymentPending))
	assert.True(t, CheckoutTransitions.Can(CheckoutPaymentPending, CheckoutFailed))
	assert.False(t, CheckoutTransitions.Can(CheckoutShippingSelected, CheckoutFailed))
}

// ============================================================================
// Order
// ============================================================================

func TestOrder_TransitionStampsAndHistory(t *testing.T) {
	o := &Order{Status: OrderPending}
	require.NoError(t, o.Transition(OrderConfirmed, t0, ""))
	require.NoError(t, o.Transition(OrderPaid, t0.Add(time.Minute), "txn-1"))

	assert.Equal(t, OrderPaid, o.Status)
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, t0.Add(time.Minute), *o.PaidAt)
	assert.Len(t, o.StatusHistory, 2)
	assert.Equal(t, FulfillmentUnfulfilled, o.FulfillmentStatus)
}

func TestOrder_TransitionRejectsSkipAndBackward(t *testing.T) {
	o := &Order{Status: OrderPending}
	err := o.Transition(OrderShipped, t0, "")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))

	o.Status = OrderDelivered
	err = o.Transition(OrderShipped, t0, "")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
	assert.Empty(t, o.StatusHistory)
}

func TestOrder_CanCancel(t *testing.T) {
	for _, s := range []OrderStatus{OrderPending, OrderConfirmed, OrderPaid} {
		assert.True(t, (&Order{Status: s}).CanCancel(), s)
	}
	for _, s := range []OrderStatus{OrderShipped, OrderDelivered, OrderCompleted, OrderCancelled} {
		assert.False(t, (&Order{Status: s}).CanCancel(), s)
	}
}

func TestFulfillmentFor(t *testing.T) {
	assert.Equal(t, FulfillmentShipped, FulfillmentFor(OrderShipped))
	assert.Equal(t, FulfillmentDelivered, FulfillmentFor(OrderCompleted))
	assert.Equal(t, FulfillmentCancelled, FulfillmentFor(OrderCancelled))
}

func TestProduct_VariantLookup(t *testing.T) {
	price := money.MustParse("12", "USD")
	p := &Product{Name: "Shirt", WeightGrams: 200, Variants: []Variant{{ID: "v1", Name: "Large", Price: &price, WeightGrams: 250}}}

	v, ok := p.Variant("v1")
	require.True(t, ok)
	assert.Equal(t, 250, p.WeightFor(v))
	assert.Equal(t, 200, p.WeightFor(nil))
	assert.Equal(t, "Shirt - Large", p.DisplayName(v))

	_, ok = p.Variant("nope")
	assert.False(t, ok)
}
