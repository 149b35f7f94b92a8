package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/cart"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/config"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository/memory"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Environment:           "test",
		HTTPPort:              18080,
		StoreBackend:          config.BackendMemory,
		ReservationTTLSeconds: 900,
		CheckoutTTLSeconds:    1800,
		CartTTLHours:          168,
		SweepIntervalSeconds:  60,
		DefaultCurrency:       "USD",
		OTELSampleRate:        1,
		CBFailureRatio:        0.5,
	}
}

// NewApp registers metrics globally, so the whole memory-backed flow lives in
// one test.
func TestNewApp_MemoryBackendPurchase(t *testing.T) {
	a, err := NewApp(memoryConfig(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.closeAll() })

	ctx := context.Background()
	e := a.Engine()

	products, ok := e.Products.(*memory.ProductRepository)
	require.True(t, ok, "memory backend should use the memory product store")
	products.Put(&domain.Product{
		ID: "tee", Name: "Tee", BasePrice: money.MustParse("20.00", "USD"),
		TaxClass: "standard", WeightGrams: 300, Active: true,
	})
	tee := domain.SKU{ProductID: "tee"}
	_, err = e.Inventory.SetStock(ctx, tee, 5, "initial", "test")
	require.NoError(t, err)

	owner := domain.Owner{CustomerID: "cust-1", Email: "ada@example.com"}
	_, err = e.Carts.AddItem(ctx, owner, cart.AddItemInput{ProductID: "tee", Quantity: 2})
	require.NoError(t, err)

	sess, err := e.Checkout.Initialize(ctx, owner)
	require.NoError(t, err)
	sess, err = e.Checkout.UpdateShippingAddress(ctx, sess.ID, domain.Address{
		FullName: "Ada Lovelace", Line1: "1 Main St", City: "London", PostalCode: "N1 1AA", Country: "GB",
	})
	require.NoError(t, err)
	_, err = e.Checkout.GetShippingOptions(ctx, sess.ID)
	require.NoError(t, err)
	sess, err = e.Checkout.UpdateShippingMethod(ctx, sess.ID, "standard")
	require.NoError(t, err)
	sess, err = e.Checkout.CreatePaymentIntent(ctx, sess.ID)
	require.NoError(t, err)
	sess, err = e.Checkout.Complete(ctx, sess.ID, sess.PaymentIntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutCompleted, sess.Status)

	rec, err := e.Inventory.GetRecord(ctx, tee)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.OnHand)
	assert.Equal(t, 0, rec.Reserved)

	o, err := e.Orders.GetOrder(ctx, sess.OrderID)
	require.NoError(t, err)

	// The ops surface sees the same order.
	req := httptest.NewRequest(http.MethodGet, "/internal/orders/"+o.Number, nil)
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data domain.Order `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, o.ID, body.Data.ID)
	assert.Equal(t, domain.OrderPaid, body.Data.Status)
}
