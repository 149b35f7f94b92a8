package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
)

// DiscountType selects how a discount computes its amount.
type DiscountType string

const (
	DiscountPercentage   DiscountType = "percentage"
	DiscountFixedAmount  DiscountType = "fixed_amount"
	DiscountFreeShipping DiscountType = "free_shipping"
	DiscountBuyXGetY     DiscountType = "buy_x_get_y"
)

// DiscountScope selects what a discount applies to.
type DiscountScope string

const (
	ScopeOrder    DiscountScope = "order"
	ScopeProduct  DiscountScope = "product"
	ScopeCategory DiscountScope = "category"
	ScopeShipping DiscountScope = "shipping"
)

// BuyXGetY is the payload of a buy-X-get-Y discount: for every BuyQuantity
// qualifying units, GetQuantity further units are free.
type BuyXGetY struct {
	BuyQuantity int `json:"buy_quantity" validate:"gte=1"`
	GetQuantity int `json:"get_quantity" validate:"gte=1"`
}

// Discount is a tagged union over Type and Scope. Value is a percentage for
// DiscountPercentage and an amount in Currency for DiscountFixedAmount.
type Discount struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Code     string          `json:"code,omitempty"`
	Type     DiscountType    `json:"type"`
	Scope    DiscountScope   `json:"scope"`
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency,omitempty"`

	MaxDiscount    *decimal.Decimal `json:"max_discount,omitempty"`
	MinOrderAmount *decimal.Decimal `json:"min_order_amount,omitempty"`
	MinQuantity    int              `json:"min_quantity,omitempty"`
	BuyXGetY       *BuyXGetY        `json:"buy_x_get_y,omitempty"`

	UsageLimit       int `json:"usage_limit,omitempty"`
	PerCustomerLimit int `json:"per_customer_limit,omitempty"`
	UsageCount       int `json:"usage_count"`

	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`

	Combinable bool `json:"combinable"`
	Priority   int  `json:"priority"`
	Active     bool `json:"active"`

	ProductIDs          []string `json:"product_ids,omitempty"`
	CategoryIDs         []string `json:"category_ids,omitempty"`
	ExcludedProductIDs  []string `json:"excluded_product_ids,omitempty"`
	ExcludedCategoryIDs []string `json:"excluded_category_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the structural rules of a discount definition.
func (d *Discount) Validate() error {
	fields := map[string]string{}
	if d.StartsAt != nil && d.EndsAt != nil && d.StartsAt.After(*d.EndsAt) {
		fields["ends_at"] = "must not be before starts_at"
	}
	switch d.Type {
	case DiscountPercentage:
		if d.Value.IsNegative() || d.Value.GreaterThan(decimal.NewFromInt(100)) {
			fields["value"] = "percentage must be between 0 and 100"
		}
	case DiscountFixedAmount:
		if !d.Value.IsPositive() {
			fields["value"] = "amount must be positive"
		}
		if d.Currency == "" {
			fields["currency"] = "is required for fixed amounts"
		}
	case DiscountBuyXGetY:
		if d.BuyXGetY == nil || d.BuyXGetY.BuyQuantity < 1 || d.BuyXGetY.GetQuantity < 1 {
			fields["buy_x_get_y"] = "buy and get quantities must be at least 1"
		}
	case DiscountFreeShipping:
	default:
		fields["type"] = "unknown discount type"
	}
	switch d.Scope {
	case ScopeOrder, ScopeProduct, ScopeCategory, ScopeShipping:
	default:
		fields["scope"] = "unknown discount scope"
	}
	if d.Type == DiscountFreeShipping && d.Scope != ScopeShipping {
		fields["scope"] = "free shipping must use shipping scope"
	}
	if d.Scope == ScopeProduct && len(d.ProductIDs) == 0 {
		fields["product_ids"] = "product scope requires at least one product"
	}
	if d.Scope == ScopeCategory && len(d.CategoryIDs) == 0 {
		fields["category_ids"] = "category scope requires at least one category"
	}
	if d.MaxDiscount != nil && d.MaxDiscount.IsNegative() {
		fields["max_discount"] = "must not be negative"
	}
	if d.UsageLimit < 0 || d.PerCustomerLimit < 0 {
		fields["usage_limit"] = "must not be negative"
	}
	if len(fields) > 0 {
		return apperrors.ValidationFailed("invalid discount "+d.ID, fields)
	}
	return nil
}

// IsCoupon reports whether the discount must be entered as a code.
func (d *Discount) IsCoupon() bool {
	return d.Code != ""
}

// NotStarted reports whether now is before the active window.
func (d *Discount) NotStarted(now time.Time) bool {
	return d.StartsAt != nil && now.Before(*d.StartsAt)
}

// Ended reports whether now is past the active window.
func (d *Discount) Ended(now time.Time) bool {
	return d.EndsAt != nil && now.After(*d.EndsAt)
}

// InWindow reports whether now falls within [StartsAt, EndsAt].
func (d *Discount) InWindow(now time.Time) bool {
	return !d.NotStarted(now) && !d.Ended(now)
}

// UsageExhausted reports whether the total usage limit has been reached.
func (d *Discount) UsageExhausted() bool {
	return d.UsageLimit > 0 && d.UsageCount >= d.UsageLimit
}

// Excludes reports whether a product or any of its categories is excluded.
func (d *Discount) Excludes(productID string, categoryIDs []string) bool {
	if slices.Contains(d.ExcludedProductIDs, productID) {
		return true
	}
	for _, c := range categoryIDs {
		if slices.Contains(d.ExcludedCategoryIDs, c) {
			return true
		}
	}
	return false
}

// Targets reports whether a product falls inside the discount's applicability
// sets. Scope decides which set counts; an order- or shipping-scoped discount
// with no sets targets everything.
func (d *Discount) Targets(productID string, categoryIDs []string) bool {
	inProducts := slices.Contains(d.ProductIDs, productID)
	inCategories := false
	for _, c := range categoryIDs {
		if slices.Contains(d.CategoryIDs, c) {
			inCategories = true
			break
		}
	}
	switch d.Scope {
	case ScopeProduct:
		return inProducts
	case ScopeCategory:
		return inCategories
	default:
		if len(d.ProductIDs) == 0 && len(d.CategoryIDs) == 0 {
			return true
		}
		return inProducts || inCategories
	}
}

// Eligible combines Targets and Excludes for a single product.
func (d *Discount) Eligible(productID string, categoryIDs []string) bool {
	return d.Targets(productID, categoryIDs) && !d.Excludes(productID, categoryIDs)
}

// DiscountUsage records one redemption of a discount.
type DiscountUsage struct {
	ID          string          `json:"id"`
	DiscountID  string          `json:"discount_id"`
	CustomerID  string          `json:"customer_id,omitempty"`
	ReferenceID string          `json:"reference_id"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Clone returns a deep copy.
func (d *Discount) Clone() *Discount {
	cp := *d
	if d.MaxDiscount != nil {
		v := *d.MaxDiscount
		cp.MaxDiscount = &v
	}
	if d.MinOrderAmount != nil {
		v := *d.MinOrderAmount
		cp.MinOrderAmount = &v
	}
	if d.BuyXGetY != nil {
		v := *d.BuyXGetY
		cp.BuyXGetY = &v
	}
	cp.StartsAt = cloneTime(d.StartsAt)
	cp.EndsAt = cloneTime(d.EndsAt)
	cp.ProductIDs = append([]string(nil), d.ProductIDs...)
	cp.CategoryIDs = append([]string(nil), d.CategoryIDs...)
	cp.ExcludedProductIDs = append([]string(nil), d.ExcludedProductIDs...)
	cp.ExcludedCategoryIDs = append([]string(nil), d.ExcludedCategoryIDs...)
	return &cp
}
