package remote

import (
	"context"
	"net/http"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/provider"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
)

// ShippingRates is a provider.ShippingRateSource backed by a carrier
// rating service.
type ShippingRates struct {
	endpoint endpoint
}

var _ provider.ShippingRateSource = (*ShippingRates)(nil)

// NewShippingRates creates a shipping rate source for the service at baseURL.
func NewShippingRates(doer Doer, baseURL string) *ShippingRates {
	return &ShippingRates{endpoint: newEndpoint(doer, baseURL, "shipping")}
}

type quoteRequest struct {
	Address     domain.Address `json:"address"`
	WeightGrams int            `json:"weight_grams"`
	ItemCount   int            `json:"item_count"`
	Value       money.Money    `json:"value"`
}

type quoteResponse struct {
	Options []domain.ShippingOption `json:"options"`
}

// GetOptions quotes the parcel to the address. Options priced in a currency
// other than the parcel's are dropped.
func (s *ShippingRates) GetOptions(ctx context.Context, address domain.Address, parcel provider.Parcel) ([]domain.ShippingOption, error) {
	var resp quoteResponse
	err := s.endpoint.call(ctx, http.MethodPost, "/v1/quotes", nil, quoteRequest{
		Address:     address,
		WeightGrams: parcel.WeightGrams,
		ItemCount:   parcel.ItemCount,
		Value:       parcel.Value,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ShippingOption, 0, len(resp.Options))
	for _, o := range resp.Options {
		if o.ID == "" || o.Cost.Currency != parcel.Value.Currency || o.Cost.IsNegative() {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}
