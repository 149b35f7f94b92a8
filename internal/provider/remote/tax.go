package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/provider"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
)

// TaxRates is a provider.TaxRateSource backed by a tax service.
type TaxRates struct {
	endpoint endpoint
}

var _ provider.TaxRateSource = (*TaxRates)(nil)

// NewTaxRates creates a tax rate source for the service at baseURL.
func NewTaxRates(doer Doer, baseURL string) *TaxRates {
	return &TaxRates{endpoint: newEndpoint(doer, baseURL, "tax")}
}

type rateResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

// GetRate looks up the rate for the destination and tax class.
func (t *TaxRates) GetRate(ctx context.Context, address domain.Address, taxClass string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("country", address.Country)
	if address.Region != "" {
		q.Set("region", address.Region)
	}
	q.Set("postal_code", address.PostalCode)
	q.Set("tax_class", taxClass)

	var resp rateResponse
	if err := t.endpoint.call(ctx, http.MethodGet, "/v1/rates?"+q.Encode(), nil, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	if resp.Rate.IsNegative() {
		return decimal.Zero, apperrors.InvalidInput("tax service returned a negative rate")
	}
	return resp.Rate, nil
}
