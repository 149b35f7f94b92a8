package domain

import "strings"

// SKU identifies the unit of stock and price: a product, optionally refined by a variant.
type SKU struct {
	ProductID string `json:"product_id" validate:"required"`
	VariantID string `json:"variant_id,omitempty"`
}

// Key returns a stable string form, "product" or "product:variant".
func (s SKU) Key() string {
	if s.VariantID == "" {
		return s.ProductID
	}
	return s.ProductID + ":" + s.VariantID
}

func (s SKU) String() string {
	return s.Key()
}

// ParseSKU is the inverse of SKU.Key.
func ParseSKU(key string) SKU {
	product, variant, _ := strings.Cut(key, ":")
	return SKU{ProductID: product, VariantID: variant}
}
