// Package pricing resolves unit prices, line totals, tax and order totals.
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/provider"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/clock"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
)

// Resolver computes prices from catalog data and totals from priced lines.
// Apart from Tax and Totals, which reach the tax rate source, it does no I/O.
type Resolver struct {
	tax         provider.TaxRateSource
	clock       clock.Clock
	logger      *slog.Logger
	taxIncluded bool
}

// NewResolver creates a Resolver. When taxIncluded is true catalog prices
// already contain tax and Tax reports the included portion.
func NewResolver(tax provider.TaxRateSource, clk clock.Clock, logger *slog.Logger, taxIncluded bool) *Resolver {
	return &Resolver{tax: tax, clock: clk, logger: logger, taxIncluded: taxIncluded}
}

// TaxIncluded reports the resolver's tax mode.
func (r *Resolver) TaxIncluded() bool {
	return r.taxIncluded
}

// ResolveUnitPrice returns the price of one unit of product, refined by
// variant when non-nil. A variant price wins; otherwise a running sale price
// that undercuts the base price; otherwise the base price. A sale price at or
// above the base price is a catalog error: it is logged and ignored.
func (r *Resolver) ResolveUnitPrice(ctx context.Context, product *domain.Product, variant *domain.Variant) money.Money {
	if variant != nil && variant.Price != nil {
		return *variant.Price
	}
	if sale := product.SalePrice; sale != nil {
		running := product.SaleEndsAt == nil || r.clock.Now().Before(*product.SaleEndsAt)
		if running {
			if sale.SameCurrency(product.BasePrice) && sale.LessThan(product.BasePrice) {
				return *sale
			}
			r.logger.WarnContext(ctx, "sale price does not undercut base price, using base price",
				slog.String("product_id", product.ID),
				slog.String("sale_price", sale.String()),
				slog.String("base_price", product.BasePrice.String()),
			)
		}
	}
	return product.BasePrice
}

// ResolveLineTotal returns unitPrice * quantity rounded to the currency's minor units.
func (r *Resolver) ResolveLineTotal(unitPrice money.Money, quantity int) money.Money {
	return unitPrice.MulInt(quantity).Round()
}

// Tax computes tax over the post-discount line amounts, grouped by tax class.
// With no address there is nothing to look up and the tax is zero.
func (r *Resolver) Tax(ctx context.Context, addr *domain.Address, lines []domain.CartItem, currency string) (money.Money, error) {
	total := money.Zero(currency)
	if addr == nil || len(lines) == 0 {
		return total, nil
	}

	bases := make(map[string]money.Money)
	for _, line := range lines {
		base := line.LineTotal.Sub(line.LineDiscount).NonNegative()
		if cur, ok := bases[line.TaxClass]; ok {
			bases[line.TaxClass] = cur.Add(base)
		} else {
			bases[line.TaxClass] = base
		}
	}

	classes := make([]string, 0, len(bases))
	for class := range bases {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	for _, class := range classes {
		base := bases[class]
		if base.IsZero() {
			continue
		}
		rate, err := r.tax.GetRate(ctx, *addr, class)
		if err != nil {
			return money.Money{}, fmt.Errorf("get tax rate for class %q: %w", class, err)
		}
		total = total.Add(r.taxOn(base, rate).Round())
	}
	return total, nil
}

// taxOn returns base*rate, or the tax portion already inside base when
// prices include tax.
func (r *Resolver) taxOn(base money.Money, rate decimal.Decimal) money.Money {
	if !rate.IsPositive() {
		return money.Zero(base.Currency)
	}
	if r.taxIncluded {
		return base.Sub(base.Div(decimal.NewFromInt(1).Add(rate)))
	}
	return base.Mul(rate)
}

// Adjustments are the discount amounts applied on top of priced lines.
type Adjustments struct {
	Discount         money.Money
	ShippingDiscount money.Money
}

// Totals computes the money summary of priced and discounted lines plus an
// optional shipping method. Lines must carry LineTotal and LineDiscount.
func (r *Resolver) Totals(
	ctx context.Context,
	currency string,
	lines []domain.CartItem,
	adj Adjustments,
	shipping *domain.ShippingOption,
	addr *domain.Address,
) (domain.Totals, error) {
	t := domain.ZeroTotals(currency)
	t.TaxIncluded = r.taxIncluded

	for _, line := range lines {
		t.Subtotal = t.Subtotal.Add(line.LineTotal)
	}
	if adj.Discount.Currency == currency {
		t.Discount = money.Min(adj.Discount, t.Subtotal).NonNegative().Round()
	}
	if shipping != nil && shipping.Cost.Currency == currency {
		t.Shipping = shipping.Cost.Round()
		if adj.ShippingDiscount.Currency == currency {
			t.ShippingDiscount = money.Min(adj.ShippingDiscount, t.Shipping).NonNegative().Round()
		}
	}

	tax, err := r.Tax(ctx, addr, lines, currency)
	if err != nil {
		return domain.Totals{}, err
	}
	t.Tax = tax

	total := t.Subtotal.Sub(t.Discount).Add(t.Shipping).Sub(t.ShippingDiscount)
	if !r.taxIncluded {
		total = total.Add(t.Tax)
	}
	t.Total = total.NonNegative().Round()
	return t, nil
}
