package discount

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
)

// Basket is the engine's view of a cart or checkout snapshot. Lines must
// carry ID, SKU, Quantity, UnitPrice, LineTotal and CategoryIDs.
type Basket struct {
	Currency   string
	Lines      []domain.CartItem
	Shipping   money.Money
	CustomerID string
}

// Subtotal returns the sum of line totals.
func (b Basket) Subtotal() money.Money {
	total := money.Zero(b.Currency)
	for _, l := range b.Lines {
		total = total.Add(l.LineTotal)
	}
	return total
}

// Result is the composed effect of a list of discounts.
type Result struct {
	// TotalDiscount is the sum of PerLine.
	TotalDiscount      money.Money            `json:"total_discount"`
	PerLine            map[string]money.Money `json:"per_line"`
	ShippingDiscount   money.Money            `json:"shipping_discount"`
	AppliedDiscountIDs []string               `json:"applied_discount_ids"`
}

// LineDiscount returns the discount on the line with id, or zero.
func (r *Result) LineDiscount(id, currency string) money.Money {
	if m, ok := r.PerLine[id]; ok {
		return m
	}
	return money.Zero(currency)
}

// SortDiscounts orders discounts by priority ascending, then start date
// ascending with open starts first, then id.
func SortDiscounts(ds []domain.Discount) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		switch {
		case a.StartsAt == nil && b.StartsAt != nil:
			return true
		case a.StartsAt != nil && b.StartsAt == nil:
			return false
		case a.StartsAt != nil && b.StartsAt != nil && !a.StartsAt.Equal(*b.StartsAt):
			return a.StartsAt.Before(*b.StartsAt)
		}
		return a.ID < b.ID
	})
}

// Compose walks discounts in order and applies each one that may combine
// with those already applied. The first discount always applies, even when it
// changes nothing yet (free shipping before a method is chosen), so a
// non-combinable first discount excludes the rest. Later ones apply only if
// they and every applied discount are combinable, and are skipped when they
// change nothing. Every amount is capped at what remains of its scope, so no
// line or shipping charge goes negative.
func Compose(b Basket, discounts []domain.Discount) Result {
	res := Result{
		TotalDiscount:      money.Zero(b.Currency),
		PerLine:            make(map[string]money.Money, len(b.Lines)),
		ShippingDiscount:   money.Zero(b.Currency),
		AppliedDiscountIDs: []string{},
	}

	st := &state{
		basket:    b,
		remaining: make(map[string]money.Money, len(b.Lines)),
		shipping:  money.Zero(b.Currency),
	}
	if b.Shipping.Currency == b.Currency {
		st.shipping = b.Shipping
	}
	for _, l := range b.Lines {
		st.remaining[l.ID] = l.LineTotal
		res.PerLine[l.ID] = money.Zero(b.Currency)
	}

	allCombinable := true
	for i := range discounts {
		d := &discounts[i]
		if len(res.AppliedDiscountIDs) > 0 && (!d.Combinable || !allCombinable) {
			continue
		}
		if !currencyMatches(d, b.Currency) {
			continue
		}

		lines, ship := st.effect(d)
		if len(res.AppliedDiscountIDs) > 0 && !anyPositive(lines) && !ship.IsPositive() {
			continue
		}

		for id, amt := range lines {
			st.remaining[id] = st.remaining[id].Sub(amt)
			res.PerLine[id] = res.PerLine[id].Add(amt)
			res.TotalDiscount = res.TotalDiscount.Add(amt)
		}
		st.shipping = st.shipping.Sub(ship)
		res.ShippingDiscount = res.ShippingDiscount.Add(ship)
		res.AppliedDiscountIDs = append(res.AppliedDiscountIDs, d.ID)
		allCombinable = allCombinable && d.Combinable
	}
	return res
}

type state struct {
	basket    Basket
	remaining map[string]money.Money
	shipping  money.Money
}

// eligible returns ids of lines the discount targets, in basket order.
func (st *state) eligible(d *domain.Discount) []string {
	ids := make([]string, 0, len(st.basket.Lines))
	for _, l := range st.basket.Lines {
		if d.Eligible(l.SKU.ProductID, l.CategoryIDs) {
			ids = append(ids, l.ID)
		}
	}
	return ids
}

// effect computes what d would take off each line and off shipping, given
// what earlier discounts left.
func (st *state) effect(d *domain.Discount) (map[string]money.Money, money.Money) {
	cur := st.basket.Currency
	zero := money.Zero(cur)

	if d.Type == domain.DiscountBuyXGetY {
		return st.capped(d, st.buyXGetY(d)), zero
	}
	if d.Type == domain.DiscountFreeShipping || d.Scope == domain.ScopeShipping {
		if len(st.eligible(d)) == 0 {
			return nil, zero
		}
		var amt money.Money
		switch d.Type {
		case domain.DiscountPercentage:
			amt = st.shipping.Percent(d.Value)
		case domain.DiscountFixedAmount:
			amt = money.Min(money.New(d.Value, cur), st.shipping)
		default:
			amt = st.shipping
		}
		if d.MaxDiscount != nil {
			amt = money.Min(amt, money.New(*d.MaxDiscount, cur))
		}
		return nil, money.Min(amt.Round(), st.shipping).NonNegative()
	}

	ids := st.eligible(d)
	if len(ids) == 0 {
		return nil, zero
	}

	var lines map[string]money.Money
	if d.Scope == domain.ScopeOrder {
		base := zero
		for _, id := range ids {
			base = base.Add(st.remaining[id])
		}
		var amt money.Money
		if d.Type == domain.DiscountPercentage {
			amt = base.Percent(d.Value)
		} else {
			amt = money.Min(money.New(d.Value, cur), base)
		}
		lines = allocate(amt, ids, st.remaining)
	} else {
		lines = make(map[string]money.Money, len(ids))
		for _, id := range ids {
			rem := st.remaining[id]
			var amt money.Money
			if d.Type == domain.DiscountPercentage {
				amt = rem.Percent(d.Value)
			} else {
				amt = money.New(d.Value, cur).MulInt(st.line(id).Quantity)
			}
			lines[id] = money.Min(amt.Round(), rem).NonNegative()
		}
	}
	return st.capped(d, lines), zero
}

func (st *state) line(id string) domain.CartItem {
	for _, l := range st.basket.Lines {
		if l.ID == id {
			return l
		}
	}
	return domain.CartItem{}
}

type unit struct {
	lineID string
	price  money.Money
	order  int
}

// buyXGetY pools eligible units across lines. For every Buy+Get units in the
// pool, Get of them are free, cheapest first.
func (st *state) buyXGetY(d *domain.Discount) map[string]money.Money {
	if d.BuyXGetY == nil || d.BuyXGetY.BuyQuantity < 1 || d.BuyXGetY.GetQuantity < 1 {
		return nil
	}
	var units []unit
	for i, l := range st.basket.Lines {
		if !d.Eligible(l.SKU.ProductID, l.CategoryIDs) || l.Quantity < 1 {
			continue
		}
		price := l.LineTotal.Div(decimal.NewFromInt(int64(l.Quantity)))
		for n := 0; n < l.Quantity; n++ {
			units = append(units, unit{lineID: l.ID, price: price, order: i})
		}
	}

	group := d.BuyXGetY.BuyQuantity + d.BuyXGetY.GetQuantity
	free := (len(units) / group) * d.BuyXGetY.GetQuantity
	if free == 0 {
		return nil
	}

	sort.SliceStable(units, func(i, j int) bool {
		if c := units[i].price.Cmp(units[j].price); c != 0 {
			return c < 0
		}
		return units[i].order < units[j].order
	})

	raw := make(map[string]money.Money)
	for _, u := range units[:free] {
		if cur, ok := raw[u.lineID]; ok {
			raw[u.lineID] = cur.Add(u.price)
		} else {
			raw[u.lineID] = u.price
		}
	}
	out := make(map[string]money.Money, len(raw))
	for id, amt := range raw {
		out[id] = money.Min(amt.Round(), st.remaining[id]).NonNegative()
	}
	return out
}

// capped scales line amounts down to the discount's MaxDiscount, if any.
func (st *state) capped(d *domain.Discount, lines map[string]money.Money) map[string]money.Money {
	if d.MaxDiscount == nil || len(lines) == 0 {
		return lines
	}
	cur := st.basket.Currency
	limit := money.New(*d.MaxDiscount, cur)
	total := money.Zero(cur)
	ids := make([]string, 0, len(lines))
	for _, l := range st.basket.Lines {
		if amt, ok := lines[l.ID]; ok {
			total = total.Add(amt)
			ids = append(ids, l.ID)
		}
	}
	if total.Cmp(limit) <= 0 {
		return lines
	}
	return allocate(limit, ids, lines)
}

// allocate splits amount across ids in proportion to weights, rounding each
// share to minor units. The last weighted id absorbs the rounding remainder.
// No share exceeds its weight.
func allocate(amount money.Money, ids []string, weights map[string]money.Money) map[string]money.Money {
	out := make(map[string]money.Money, len(ids))
	sum := decimal.Zero
	last := -1
	for i, id := range ids {
		if w := weights[id]; w.IsPositive() {
			sum = sum.Add(w.Amount)
			last = i
		}
	}
	if last < 0 || !amount.IsPositive() {
		return out
	}
	if amount.Amount.GreaterThan(sum) {
		amount = money.New(sum, amount.Currency)
	}
	amount = amount.Round()

	allocated := money.Zero(amount.Currency)
	for i, id := range ids {
		w := weights[id]
		if !w.IsPositive() {
			continue
		}
		var share money.Money
		if i == last {
			share = amount.Sub(allocated)
		} else {
			share = money.New(amount.Amount.Mul(w.Amount).Div(sum), amount.Currency).Round()
		}
		share = money.Min(share, w).NonNegative()
		out[id] = share
		allocated = allocated.Add(share)
	}
	return out
}

func anyPositive(lines map[string]money.Money) bool {
	for _, m := range lines {
		if m.IsPositive() {
			return true
		}
	}
	return false
}

// currencyMatches reports whether a discount denominated in a currency can
// apply to a basket. Percentage and free-shipping discounts without a
// currency apply to any basket.
func currencyMatches(d *domain.Discount, currency string) bool {
	return d.Currency == "" || money.New(decimal.Zero, d.Currency).Currency == currency
}
