package discount

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
)

// --- Test Helpers ---

func usd(s string) money.Money { return money.MustParse(s, "USD") }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func item(id, product string, qty int, unit string, categories ...string) domain.CartItem {
	price := usd(unit)
	return domain.CartItem{
		ID:           id,
		SKU:          domain.SKU{ProductID: product},
		Quantity:     qty,
		UnitPrice:    price,
		LineTotal:    price.MulInt(qty).Round(),
		LineDiscount: money.Zero("USD"),
		CategoryIDs:  categories,
	}
}

func basket(lines ...domain.CartItem) Basket {
	return Basket{Currency: "USD", Lines: lines, Shipping: money.Zero("USD")}
}

func pct(id string, value string, scope domain.DiscountScope, combinable bool) domain.Discount {
	return domain.Discount{
		ID: id, Type: domain.DiscountPercentage, Scope: scope,
		Value: dec(value), Combinable: combinable, Active: true,
	}
}

func fixed(id string, value string, scope domain.DiscountScope, combinable bool) domain.Discount {
	return domain.Discount{
		ID: id, Type: domain.DiscountFixedAmount, Scope: scope, Currency: "USD",
		Value: dec(value), Combinable: combinable, Active: true,
	}
}

func assertInvariants(t *testing.T, b Basket, res Result) {
	t.Helper()
	sum := money.Zero(b.Currency)
	for _, l := range b.Lines {
		d := res.LineDiscount(l.ID, b.Currency)
		assert.False(t, d.IsNegative(), "line %s discount negative", l.ID)
		assert.False(t, d.GreaterThan(l.LineTotal), "line %s discount exceeds line total", l.ID)
		sum = sum.Add(d)
	}
	assert.True(t, sum.Equal(res.TotalDiscount), "per-line sum %s != total %s", sum, res.TotalDiscount)
	assert.False(t, res.TotalDiscount.GreaterThan(b.Subtotal()))
	assert.False(t, res.ShippingDiscount.GreaterThan(b.Shipping))
}

// ============================================================================
// Compose
// ============================================================================

func TestCompose_PercentageOrderCoupon(t *testing.T) {
	b := basket(item("l1", "A", 2, "10.00"))

	res := Compose(b, []domain.Discount{pct("save10", "10", domain.ScopeOrder, true)})

	assert.Equal(t, "2.00", res.TotalDiscount.Amount.StringFixed(2))
	assert.Equal(t, []string{"save10"}, res.AppliedDiscountIDs)
	assert.Equal(t, "2.00", res.LineDiscount("l1", "USD").Amount.StringFixed(2))
	assertInvariants(t, b, res)
}

func TestCompose_NonCombinableFirstExcludesOthers(t *testing.T) {
	b := basket(item("l1", "A", 2, "10.00"))
	discounts := []domain.Discount{
		pct("exclusive", "10", domain.ScopeOrder, false),
		pct("combo", "5", domain.ScopeOrder, true),
	}

	res := Compose(b, discounts)

	assert.Equal(t, []string{"exclusive"}, res.AppliedDiscountIDs)
	assert.Equal(t, "2.00", res.TotalDiscount.Amount.StringFixed(2))
}

func TestCompose_NonCombinableAfterCombinableIsSkipped(t *testing.T) {
	b := basket(item("l1", "A", 1, "100.00"))
	discounts := []domain.Discount{
		pct("combo", "10", domain.ScopeOrder, true),
		pct("exclusive", "50", domain.ScopeOrder, false),
		fixed("combo2", "5", domain.ScopeOrder, true),
	}

	res := Compose(b, discounts)

	assert.Equal(t, []string{"combo", "combo2"}, res.AppliedDiscountIDs)
	assert.Equal(t, "15.00", res.TotalDiscount.Amount.StringFixed(2))
}

func TestCompose_StackedPercentagesApplyToRemainder(t *testing.T) {
	b := basket(item("l1", "A", 1, "100.00"))
	discounts := []domain.Discount{
		pct("first", "10", domain.ScopeOrder, true),
		pct("second", "10", domain.ScopeOrder, true),
	}

	res := Compose(b, discounts)

	assert.Equal(t, "19.00", res.TotalDiscount.Amount.StringFixed(2))
}

func TestCompose_FixedAmountCappedAtRemaining(t *testing.T) {
	b := basket(item("l1", "A", 2, "10.00"))

	res := Compose(b, []domain.Discount{fixed("big", "50", domain.ScopeOrder, true)})

	assert.Equal(t, "20.00", res.TotalDiscount.Amount.StringFixed(2))
	assertInvariants(t, b, res)
}

func TestCompose_ProductScopeOnlyMatchingLines(t *testing.T) {
	b := basket(item("l1", "A", 2, "10.00"), item("l2", "B", 1, "30.00"))
	d := fixed("a-off", "1.50", domain.ScopeProduct, true)
	d.ProductIDs = []string{"A"}

	res := Compose(b, []domain.Discount{d})

	assert.Equal(t, "3.00", res.LineDiscount("l1", "USD").Amount.StringFixed(2))
	assert.True(t, res.LineDiscount("l2", "USD").IsZero())
	assertInvariants(t, b, res)
}

func TestCompose_CategoryScopeWithExclusion(t *testing.T) {
	b := basket(
		item("l1", "A", 1, "20.00", "shoes"),
		item("l2", "B", 1, "40.00", "shoes", "premium"),
		item("l3", "C", 1, "10.00", "hats"),
	)
	d := pct("shoes25", "25", domain.ScopeCategory, true)
	d.CategoryIDs = []string{"shoes"}
	d.ExcludedCategoryIDs = []string{"premium"}

	res := Compose(b, []domain.Discount{d})

	assert.Equal(t, "5.00", res.LineDiscount("l1", "USD").Amount.StringFixed(2))
	assert.True(t, res.LineDiscount("l2", "USD").IsZero())
	assert.True(t, res.LineDiscount("l3", "USD").IsZero())
}

func TestCompose_OrderScopeAllocationIsExact(t *testing.T) {
	b := basket(item("l1", "A", 1, "10.00"), item("l2", "B", 1, "10.00"), item("l3", "C", 1, "10.00"))

	res := Compose(b, []domain.Discount{fixed("ten", "10", domain.ScopeOrder, true)})

	assert.Equal(t, "10.00", res.TotalDiscount.Amount.StringFixed(2))
	assert.Equal(t, "3.33", res.LineDiscount("l1", "USD").Amount.StringFixed(2))
	assert.Equal(t, "3.33", res.LineDiscount("l2", "USD").Amount.StringFixed(2))
	assert.Equal(t, "3.34", res.LineDiscount("l3", "USD").Amount.StringFixed(2))
	assertInvariants(t, b, res)
}

func TestCompose_MaxDiscountCap(t *testing.T) {
	b := basket(item("l1", "A", 1, "60.00"), item("l2", "B", 1, "40.00"))
	d := pct("half", "50", domain.ScopeOrder, true)
	d.MaxDiscount = decPtr("20")

	res := Compose(b, []domain.Discount{d})

	assert.Equal(t, "20.00", res.TotalDiscount.Amount.StringFixed(2))
	assert.Equal(t, "12.00", res.LineDiscount("l1", "USD").Amount.StringFixed(2))
	assert.Equal(t, "8.00", res.LineDiscount("l2", "USD").Amount.StringFixed(2))
}

func TestCompose_BuyXGetY(t *testing.T) {
	tests := []struct {
		name     string
		lines    []domain.CartItem
		wantFree string
	}{
		{
			name:     "cheapest pooled unit is free",
			lines:    []domain.CartItem{item("l1", "A", 3, "10.00"), item("l2", "B", 1, "4.00")},
			wantFree: "4.00",
		},
		{
			name:     "two groups free two cheapest",
			lines:    []domain.CartItem{item("l1", "A", 4, "10.00"), item("l2", "B", 2, "4.00")},
			wantFree: "8.00",
		},
		{
			name:     "incomplete group gives nothing",
			lines:    []domain.CartItem{item("l1", "A", 2, "10.00")},
			wantFree: "0.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := domain.Discount{
				ID: "b2g1", Type: domain.DiscountBuyXGetY, Scope: domain.ScopeOrder, Active: true, Combinable: true,
				BuyXGetY: &domain.BuyXGetY{BuyQuantity: 2, GetQuantity: 1},
			}
			b := basket(tt.lines...)

			res := Compose(b, []domain.Discount{d})

			assert.Equal(t, tt.wantFree, res.TotalDiscount.Amount.StringFixed(2))
			assertInvariants(t, b, res)
		})
	}
}

func TestCompose_FreeShipping(t *testing.T) {
	b := basket(item("l1", "A", 1, "50.00"))
	b.Shipping = usd("7.50")
	d := domain.Discount{ID: "ship", Type: domain.DiscountFreeShipping, Scope: domain.ScopeShipping, Active: true, Combinable: true}

	res := Compose(b, []domain.Discount{d, pct("ten", "10", domain.ScopeOrder, true)})

	assert.Equal(t, "7.50", res.ShippingDiscount.Amount.StringFixed(2))
	assert.Equal(t, "5.00", res.TotalDiscount.Amount.StringFixed(2))
	assert.Equal(t, []string{"ship", "ten"}, res.AppliedDiscountIDs)
}

func TestCompose_FirstDiscountAppliesWithoutEffect(t *testing.T) {
	b := basket(item("l1", "A", 2, "10.00"))
	ship := domain.Discount{ID: "ship", Type: domain.DiscountFreeShipping, Scope: domain.ScopeShipping, Active: true}
	list := []domain.Discount{ship, pct("ten", "10", domain.ScopeOrder, true), pct("five", "5", domain.ScopeOrder, true)}

	res := Compose(b, list)

	assert.Equal(t, []string{"ship"}, res.AppliedDiscountIDs)
	assert.True(t, res.ShippingDiscount.IsZero())
	assert.True(t, res.TotalDiscount.IsZero())

	b.Shipping = usd("7.50")
	priced := Compose(b, list)

	assert.Equal(t, res.AppliedDiscountIDs, priced.AppliedDiscountIDs)
	assert.Equal(t, "7.50", priced.ShippingDiscount.Amount.StringFixed(2))
}

func TestCompose_LaterIneffectiveDiscountIsSkipped(t *testing.T) {
	b := basket(item("l1", "A", 1, "50.00"))
	ship := domain.Discount{ID: "ship", Type: domain.DiscountFreeShipping, Scope: domain.ScopeShipping, Active: true, Combinable: true}

	res := Compose(b, []domain.Discount{pct("ten", "10", domain.ScopeOrder, true), ship})

	assert.Equal(t, []string{"ten"}, res.AppliedDiscountIDs)
	assert.Equal(t, "5.00", res.TotalDiscount.Amount.StringFixed(2))
}

func TestCompose_CurrencyMismatchSkipped(t *testing.T) {
	b := basket(item("l1", "A", 1, "50.00"))
	d := fixed("eur", "5", domain.ScopeOrder, true)
	d.Currency = "EUR"

	res := Compose(b, []domain.Discount{d})

	assert.Empty(t, res.AppliedDiscountIDs)
	assert.True(t, res.TotalDiscount.IsZero())
}

func TestCompose_InvariantsAcrossMixedDiscounts(t *testing.T) {
	lines := []domain.CartItem{
		item("l1", "A", 3, "9.99", "c1"),
		item("l2", "B", 1, "0.01", "c2"),
		item("l3", "C", 7, "3.33", "c1", "c2"),
	}
	productOff := fixed("p", "4", domain.ScopeProduct, true)
	productOff.ProductIDs = []string{"A", "B"}
	catOff := pct("c", "33", domain.ScopeCategory, true)
	catOff.CategoryIDs = []string{"c2"}
	b2g1 := domain.Discount{ID: "x", Type: domain.DiscountBuyXGetY, Scope: domain.ScopeOrder, Active: true, Combinable: true,
		BuyXGetY: &domain.BuyXGetY{BuyQuantity: 1, GetQuantity: 1}}

	all := []domain.Discount{
		productOff, catOff, b2g1,
		fixed("o1", "1000", domain.ScopeOrder, true),
		pct("o2", "100", domain.ScopeOrder, true),
	}
	for i := range all {
		for j := range all {
			name := fmt.Sprintf("%s+%s", all[i].ID, all[j].ID)
			t.Run(name, func(t *testing.T) {
				b := basket(lines...)
				res := Compose(b, []domain.Discount{all[i], all[j]})
				assertInvariants(t, b, res)
			})
		}
	}
}

// ============================================================================
// SortDiscounts
// ============================================================================

func TestSortDiscounts(t *testing.T) {
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(24 * time.Hour)
	ds := []domain.Discount{
		{ID: "c", Priority: 1, StartsAt: &late},
		{ID: "b", Priority: 1, StartsAt: &early},
		{ID: "z", Priority: 0},
		{ID: "a", Priority: 1},
		{ID: "d", Priority: 1, StartsAt: &early},
	}

	SortDiscounts(ds)

	ids := make([]string, len(ds))
	for i, d := range ds {
		ids[i] = d.ID
	}
	require.Equal(t, []string{"z", "a", "b", "d", "c"}, ids)
}
