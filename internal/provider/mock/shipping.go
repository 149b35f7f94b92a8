package mock

import (
	"context"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/provider"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
)

// ShippingRates quotes a fixed set of options. Each option's cost grows by
// PerKg for every started kilogram above the first.
type ShippingRates struct {
	Options []domain.ShippingOption
	PerKg   *money.Money
	// Countries restricts delivery when non-empty.
	Countries map[string]bool
	Err       error
}

var _ provider.ShippingRateSource = (*ShippingRates)(nil)

// NewShippingRates creates a rate source with standard and express options in currency.
func NewShippingRates(currency string) *ShippingRates {
	return &ShippingRates{
		Options: []domain.ShippingOption{
			{ID: "standard", Name: "Standard", Cost: money.FromMinor(500, currency), ETADays: 5},
			{ID: "express", Name: "Express", Cost: money.FromMinor(1500, currency), ETADays: 1},
		},
	}
}

// GetOptions returns the configured options for the parcel.
func (s *ShippingRates) GetOptions(_ context.Context, address domain.Address, parcel provider.Parcel) ([]domain.ShippingOption, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Countries) > 0 && !s.Countries[address.Country] {
		return []domain.ShippingOption{}, nil
	}

	extraKg := 0
	if parcel.WeightGrams > 1000 {
		extraKg = (parcel.WeightGrams - 1) / 1000
	}

	out := make([]domain.ShippingOption, len(s.Options))
	for i, o := range s.Options {
		if s.PerKg != nil && extraKg > 0 && s.PerKg.Currency == o.Cost.Currency {
			o.Cost = o.Cost.Add(s.PerKg.MulInt(extraKg))
		}
		out[i] = o
	}
	return out, nil
}
