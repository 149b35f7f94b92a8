package cart

import (
	"context"
	"fmt"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/discount"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/pricing"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
)

// QuoteInput is everything that determines the money state of a basket.
type QuoteInput struct {
	Currency        string
	Lines           []domain.CartItem
	CouponCode      string
	CustomerID      string
	ShippingMethod  *domain.ShippingOption
	ShippingAddress *domain.Address
}

// Quote is the priced and discounted state of a basket.
type Quote struct {
	Lines              []domain.CartItem
	Totals             domain.Totals
	AppliedDiscountIDs []string
	// Coupon is the accepted coupon, nil when none was given or it was rejected.
	Coupon          *domain.Discount
	CouponRejection *discount.CouponValidation
}

// Quoter recomputes line totals, discounts and totals. Carts and checkout
// sessions share it so both compute money the same way.
type Quoter struct {
	pricer    *pricing.Resolver
	discounts *discount.Engine
}

// NewQuoter creates a Quoter.
func NewQuoter(pricer *pricing.Resolver, discounts *discount.Engine) *Quoter {
	return &Quoter{pricer: pricer, discounts: discounts}
}

// Pricer returns the underlying pricing resolver.
func (q *Quoter) Pricer() *pricing.Resolver {
	return q.pricer
}

// Discounts returns the underlying discount engine.
func (q *Quoter) Discounts() *discount.Engine {
	return q.discounts
}

// Quote prices in.Lines from their unit price snapshots, composes the
// applicable discounts and computes totals. The input lines are not modified.
func (q *Quoter) Quote(ctx context.Context, in QuoteInput) (*Quote, error) {
	lines := domain.CloneItems(in.Lines)
	for i := range lines {
		lines[i].LineTotal = q.pricer.ResolveLineTotal(lines[i].UnitPrice, lines[i].Quantity)
		lines[i].LineDiscount = money.Zero(in.Currency)
	}

	shipping := money.Zero(in.Currency)
	if in.ShippingMethod != nil && in.ShippingMethod.Cost.Currency == in.Currency {
		shipping = in.ShippingMethod.Cost
	}

	ev, err := q.discounts.Evaluate(ctx, discount.Basket{
		Currency:   in.Currency,
		Lines:      lines,
		Shipping:   shipping,
		CustomerID: in.CustomerID,
	}, in.CouponCode)
	if err != nil {
		return nil, fmt.Errorf("evaluate discounts: %w", err)
	}
	for i := range lines {
		lines[i].LineDiscount = ev.LineDiscount(lines[i].ID, in.Currency)
	}

	totals, err := q.pricer.Totals(ctx, in.Currency, lines, pricing.Adjustments{
		Discount:         ev.TotalDiscount,
		ShippingDiscount: ev.ShippingDiscount,
	}, in.ShippingMethod, in.ShippingAddress)
	if err != nil {
		return nil, fmt.Errorf("compute totals: %w", err)
	}

	return &Quote{
		Lines:              lines,
		Totals:             totals,
		AppliedDiscountIDs: ev.AppliedDiscountIDs,
		Coupon:             ev.Coupon,
		CouponRejection:    ev.CouponRejection,
	}, nil
}
