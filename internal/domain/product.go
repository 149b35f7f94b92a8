package domain

import (
	"time"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
)

// Product is the catalog view the engine needs for pricing and eligibility.
type Product struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	BasePrice   money.Money  `json:"base_price"`
	SalePrice   *money.Money `json:"sale_price,omitempty"`
	SaleEndsAt  *time.Time   `json:"sale_ends_at,omitempty"`
	CategoryIDs []string     `json:"category_ids"`
	TaxClass    string       `json:"tax_class"`
	WeightGrams int          `json:"weight_grams"`
	Active      bool         `json:"active"`
	Variants    []Variant    `json:"variants,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Variant refines a product. A non-nil Price overrides the product's price.
type Variant struct {
	ID          string       `json:"id"`
	ProductID   string       `json:"product_id"`
	Name        string       `json:"name"`
	Price       *money.Money `json:"price,omitempty"`
	WeightGrams int          `json:"weight_grams,omitempty"`
	Active      bool         `json:"active"`
}

// Variant returns the variant with the given id.
func (p *Product) Variant(id string) (*Variant, bool) {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// WeightFor returns the shipping weight of one unit of the SKU.
func (p *Product) WeightFor(v *Variant) int {
	if v != nil && v.WeightGrams > 0 {
		return v.WeightGrams
	}
	return p.WeightGrams
}

// DisplayName joins product and variant names.
func (p *Product) DisplayName(v *Variant) string {
	if v == nil || v.Name == "" {
		return p.Name
	}
	return p.Name + " - " + v.Name
}

// Clone returns a deep copy.
func (p *Product) Clone() *Product {
	cp := *p
	if p.SalePrice != nil {
		v := *p.SalePrice
		cp.SalePrice = &v
	}
	cp.SaleEndsAt = cloneTime(p.SaleEndsAt)
	cp.CategoryIDs = append([]string(nil), p.CategoryIDs...)
	cp.Variants = make([]Variant, len(p.Variants))
	for i, v := range p.Variants {
		if v.Price != nil {
			price := *v.Price
			v.Price = &price
		}
		cp.Variants[i] = v
	}
	return &cp
}
