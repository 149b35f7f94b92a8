package mock

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/provider"
)

// TaxRates is a flat tax table keyed by tax class, with a fallback rate.
type TaxRates struct {
	Default decimal.Decimal
	ByClass map[string]decimal.Decimal
	Err     error
}

var _ provider.TaxRateSource = (*TaxRates)(nil)

// NewTaxRates creates a table that charges rate for every class.
func NewTaxRates(rate decimal.Decimal) *TaxRates {
	return &TaxRates{Default: rate, ByClass: map[string]decimal.Decimal{}}
}

// GetRate returns the rate for taxClass, ignoring the address.
func (t *TaxRates) GetRate(_ context.Context, _ domain.Address, taxClass string) (decimal.Decimal, error) {
	if t.Err != nil {
		return decimal.Zero, t.Err
	}
	if rate, ok := t.ByClass[taxClass]; ok {
		return rate, nil
	}
	return t.Default, nil
}
