package cart

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/discount"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/event"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/inventory"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/metrics"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/pricing"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/provider/mock"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository/memory"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/clock"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
)

// --- Test Helpers ---

var (
	shopper = domain.Owner{SessionID: "sess-1"}
	teeSKU  = domain.SKU{ProductID: "tee"}
	redSKU  = domain.SKU{ProductID: "tee", VariantID: "red"}
	mugSKU  = domain.SKU{ProductID: "mug"}
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func usd(amount string) money.Money { return money.MustParse(amount, "USD") }

func testProducts() []*domain.Product {
	red := usd("22.00")
	sale := usd("8.00")
	return []*domain.Product{
		{
			ID: "tee", Name: "Tee", BasePrice: usd("20.00"), CategoryIDs: []string{"apparel"},
			TaxClass: "standard", WeightGrams: 300, Active: true,
			Variants: []domain.Variant{{ID: "red", ProductID: "tee", Name: "Red", Price: &red, Active: true}},
		},
		{ID: "mug", Name: "Mug", BasePrice: usd("10.00"), SalePrice: &sale, WeightGrams: 500, Active: true},
		{ID: "retired", Name: "Retired", BasePrice: usd("5.00"), Active: false},
	}
}

func testAddress(postal string) domain.Address {
	return domain.Address{
		FullName: "Ada Lovelace", Line1: "1 Analytical Way", City: "London",
		PostalCode: postal, Country: "GB",
	}
}

type fixture struct {
	svc      *Service
	products *memory.ProductRepository
	ledger   *inventory.Ledger
	engine   *discount.Engine
	pub      *event.MemoryPublisher
	clock    *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, memory.NewCartRepository())
}

func newFixtureWithRepo(t *testing.T, repo repository.CartRepository) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := newTestLogger()
	m := metrics.New(prometheus.NewRegistry())
	pub := event.NewMemoryPublisher(0)
	producer := event.NewProducer(pub, clk, logger)

	products := memory.NewProductRepository(testProducts()...)
	ledger := inventory.NewLedger(memory.NewLedgerStore(), producer, m, clk, logger, 15*time.Minute)
	engine := discount.NewEngine(memory.NewDiscountRepository(), clk, m, logger)
	quoter := NewQuoter(pricing.NewResolver(mock.NewTaxRates(decimal.Zero), clk, logger, false), engine)

	svc := NewService(repo, products, ledger, quoter, mock.NewShippingRates("USD"), producer, m, clk, logger, "USD")

	f := &fixture{svc: svc, products: products, ledger: ledger, engine: engine, pub: pub, clock: clk}
	for _, sku := range []domain.SKU{teeSKU, redSKU, mugSKU} {
		f.setStock(t, sku, 100)
	}
	return f
}

func (f *fixture) setStock(t *testing.T, sku domain.SKU, qty int) {
	t.Helper()
	_, err := f.ledger.SetStock(context.Background(), sku, qty, "initial", "test")
	require.NoError(t, err)
}

func (f *fixture) add(t *testing.T, sku domain.SKU, qty int) *domain.Cart {
	t.Helper()
	c, err := f.svc.AddItem(context.Background(), shopper, AddItemInput{
		ProductID: sku.ProductID, VariantID: sku.VariantID, Quantity: qty,
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) saveCoupon(t *testing.T, code string, edit func(d *domain.Discount)) {
	t.Helper()
	d := domain.Discount{
		ID: "coupon-" + code, Code: code, Type: domain.DiscountPercentage, Scope: domain.ScopeOrder,
		Value: decimal.RequireFromString("10"), Combinable: true, Active: true,
	}
	if edit != nil {
		edit(&d)
	}
	require.NoError(t, f.svc.quoter.Discounts().SaveDiscount(context.Background(), &d))
}

// ============================================================================
// AddItem
// ============================================================================

func TestAddItem_CreatesActiveCart(t *testing.T) {
	f := newFixture(t)

	c := f.add(t, teeSKU, 2)

	assert.Equal(t, domain.CartActive, c.Status)
	assert.Equal(t, 1, c.Version)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "Tee", c.Items[0].Name)
	assert.Equal(t, "USD 20.00", c.Items[0].UnitPrice.String())
	assert.Equal(t, "USD 40.00", c.Items[0].LineTotal.String())
	assert.Equal(t, "USD 40.00", c.Totals.Total.String())
	types := f.pub.Types()
	assert.Equal(t, event.CartUpdated, types[len(types)-1])
}

func TestAddItem_MergesBySKU(t *testing.T) {
	f := newFixture(t)

	first := f.add(t, teeSKU, 2)
	c := f.add(t, teeSKU, 3)

	require.Len(t, c.Items, 1)
	assert.Equal(t, first.Items[0].ID, c.Items[0].ID)
	assert.Equal(t, 5, c.Items[0].Quantity)
	assert.Equal(t, "USD 100.00", c.Totals.Subtotal.String())
	assert.Equal(t, 5, c.ItemCount())
}

func TestAddItem_MergeRefreshesPriceSnapshot(t *testing.T) {
	f := newFixture(t)
	f.add(t, teeSKU, 2)

	products := testProducts()
	products[0].BasePrice = usd("25.00")
	f.products.Put(products[0])
	c := f.add(t, teeSKU, 1)

	require.Len(t, c.Items, 1)
	assert.Equal(t, "USD 25.00", c.Items[0].UnitPrice.String())
	assert.Equal(t, "USD 75.00", c.Items[0].LineTotal.String())

	issues, err := f.svc.ValidateForCheckout(context.Background(), shopper)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestAddItem_ResolvesVariantAndSalePrices(t *testing.T) {
	f := newFixture(t)

	f.add(t, redSKU, 1)
	c := f.add(t, mugSKU, 2)

	require.Len(t, c.Items, 2)
	assert.Equal(t, "Tee - Red", c.Items[0].Name)
	assert.Equal(t, "USD 22.00", c.Items[0].UnitPrice.String())
	assert.Equal(t, "USD 8.00", c.Items[1].UnitPrice.String())
	assert.Equal(t, "USD 38.00", c.Totals.Total.String())
	assert.Equal(t, 1300, c.WeightGrams())
}

func TestAddItem_InsufficientStock(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, teeSKU, 3)
	f.add(t, teeSKU, 2)

	_, err := f.svc.AddItem(context.Background(), shopper, AddItemInput{ProductID: "tee", Quantity: 2})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientStock))
	var stockErr *apperrors.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "tee", stockErr.SKU)
	assert.Equal(t, 4, stockErr.Requested)
	assert.Equal(t, 3, stockErr.Available)

	c, err := f.svc.GetCart(context.Background(), shopper)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Items[0].Quantity)
}

func TestAddItem_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		owner   domain.Owner
		input   AddItemInput
		wantErr error
	}{
		{"no owner", domain.Owner{}, AddItemInput{ProductID: "tee", Quantity: 1}, apperrors.ErrInvalidInput},
		{"missing product id", shopper, AddItemInput{Quantity: 1}, apperrors.ErrValidation},
		{"zero quantity", shopper, AddItemInput{ProductID: "tee"}, apperrors.ErrValidation},
		{"quantity over limit", shopper, AddItemInput{ProductID: "tee", Quantity: MaxQuantityPerItem + 1}, apperrors.ErrInvalidInput},
		{"unknown product", shopper, AddItemInput{ProductID: "ghost", Quantity: 1}, apperrors.ErrNotFound},
		{"inactive product", shopper, AddItemInput{ProductID: "retired", Quantity: 1}, apperrors.ErrInvalidInput},
		{"unknown variant", shopper, AddItemInput{ProductID: "tee", VariantID: "blue", Quantity: 1}, apperrors.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.AddItem(context.Background(), tt.owner, tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestAddItem_CombinedQuantityLimit(t *testing.T) {
	f := newFixture(t)
	f.add(t, teeSKU, MaxQuantityPerItem)

	_, err := f.svc.AddItem(context.Background(), shopper, AddItemInput{ProductID: "tee", Quantity: 1})

	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestAddItem_ConcurrentIncrementsAreNotLost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddItem(ctx, shopper, AddItemInput{ProductID: "tee", Quantity: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c, err := f.svc.GetCart(ctx, shopper)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 20, c.Items[0].Quantity)
	assert.Equal(t, 20, c.Version)
}

// ============================================================================
// UpdateQuantity / RemoveItem / Clear
// ============================================================================

func TestUpdateQuantity(t *testing.T) {
	f := newFixture(t)
	c := f.add(t, teeSKU, 2)
	itemID := c.Items[0].ID

	c, err := f.svc.UpdateQuantity(context.Background(), shopper, itemID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Items[0].Quantity)
	assert.Equal(t, "USD 80.00", c.Totals.Total.String())

	c, err = f.svc.UpdateQuantity(context.Background(), shopper, itemID, 0)
	require.NoError(t, err)
	assert.Empty(t, c.Items)
	assert.Equal(t, domain.CartEmpty, c.Status)
	assert.Equal(t, "USD 0.00", c.Totals.Total.String())
}

func TestUpdateQuantity_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpdateQuantity(ctx, shopper, "item-1", 1)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound), "cart does not exist")

	c := f.add(t, teeSKU, 1)

	_, err = f.svc.UpdateQuantity(ctx, shopper, "missing", 1)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = f.svc.UpdateQuantity(ctx, shopper, c.Items[0].ID, -1)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	_, err = f.svc.UpdateQuantity(ctx, shopper, c.Items[0].ID, 101)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	f.setStock(t, teeSKU, 3)
	_, err = f.svc.UpdateQuantity(ctx, shopper, c.Items[0].ID, 4)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientStock))
}

func TestRemoveItem(t *testing.T) {
	f := newFixture(t)
	f.add(t, teeSKU, 1)
	c := f.add(t, mugSKU, 1)

	c, err := f.svc.RemoveItem(context.Background(), shopper, c.Items[0].ID)

	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, mugSKU, c.Items[0].SKU)
	assert.Equal(t, domain.CartActive, c.Status)
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	f.add(t, teeSKU, 1)

	c, err := f.svc.Clear(context.Background(), shopper)

	require.NoError(t, err)
	assert.Empty(t, c.Items)
	assert.Equal(t, domain.CartEmpty, c.Status)
	types := f.pub.Types()
	assert.Equal(t, event.CartCleared, types[len(types)-1])
}

// ============================================================================
// Coupons
// ============================================================================

func TestApplyCoupon(t *testing.T) {
	f := newFixture(t)
	f.saveCoupon(t, "SAVE10", nil)
	f.add(t, teeSKU, 2)

	c, err := f.svc.ApplyCoupon(context.Background(), shopper, " save10 ")

	require.NoError(t, err)
	assert.Equal(t, "SAVE10", c.CouponCode)
	assert.Equal(t, []string{"coupon-SAVE10"}, c.AppliedDiscountIDs)
	assert.Equal(t, "USD 4.00", c.Totals.Discount.String())
	assert.Equal(t, "USD 36.00", c.Totals.Total.String())
	assert.Equal(t, "USD 4.00", c.Items[0].LineDiscount.String())
}

func TestApplyCoupon_ReplacesPrevious(t *testing.T) {
	f := newFixture(t)
	f.saveCoupon(t, "SAVE10", nil)
	f.saveCoupon(t, "SAVE20", func(d *domain.Discount) { d.Value = decimal.RequireFromString("20") })
	f.add(t, teeSKU, 1)

	_, err := f.svc.ApplyCoupon(context.Background(), shopper, "SAVE10")
	require.NoError(t, err)
	c, err := f.svc.ApplyCoupon(context.Background(), shopper, "SAVE20")
	require.NoError(t, err)

	assert.Equal(t, "SAVE20", c.CouponCode)
	assert.Equal(t, []string{"coupon-SAVE20"}, c.AppliedDiscountIDs)
	assert.Equal(t, "USD 16.00", c.Totals.Total.String())
}

func TestApplyCoupon_Rejected(t *testing.T) {
	f := newFixture(t)
	f.saveCoupon(t, "BIGSPEND", func(d *domain.Discount) {
		minimum := decimal.RequireFromString("100")
		d.MinOrderAmount = &minimum
	})
	f.add(t, teeSKU, 1)

	_, err := f.svc.ApplyCoupon(context.Background(), shopper, "BIGSPEND")

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "COUPON_REJECTED", appErr.Code)
	assert.Equal(t, string(discount.ReasonMinimumNotMet), appErr.Fields["reason"])

	c, err := f.svc.GetCart(context.Background(), shopper)
	require.NoError(t, err)
	assert.Empty(t, c.CouponCode)

	_, err = f.svc.ApplyCoupon(context.Background(), shopper, "  ")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestCoupon_StaysButStopsApplyingBelowMinimum(t *testing.T) {
	f := newFixture(t)
	f.saveCoupon(t, "OVER30", func(d *domain.Discount) {
		minimum := decimal.RequireFromString("30")
		d.MinOrderAmount = &minimum
	})
	c := f.add(t, teeSKU, 2)
	_, err := f.svc.ApplyCoupon(context.Background(), shopper, "OVER30")
	require.NoError(t, err)

	c, err = f.svc.UpdateQuantity(context.Background(), shopper, c.Items[0].ID, 1)

	require.NoError(t, err)
	assert.Equal(t, "OVER30", c.CouponCode)
	assert.Empty(t, c.AppliedDiscountIDs)
	assert.Equal(t, "USD 20.00", c.Totals.Total.String())

	c, err = f.svc.RemoveCoupon(context.Background(), shopper)
	require.NoError(t, err)
	assert.Empty(t, c.CouponCode)
}

// ============================================================================
// Addresses and shipping
// ============================================================================

func TestShipping_SelectMethodAndInvalidateOnAddressChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, teeSKU, 2)

	_, err := f.svc.SetShippingMethod(ctx, shopper, "express")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidState), "address required first")

	_, err = f.svc.SetShippingAddress(ctx, shopper, testAddress("N1 1AA"))
	require.NoError(t, err)

	options, err := f.svc.ShippingOptions(ctx, shopper)
	require.NoError(t, err)
	require.Len(t, options, 2)

	c, err := f.svc.SetShippingMethod(ctx, shopper, "express")
	require.NoError(t, err)
	require.NotNil(t, c.ShippingMethod)
	assert.Equal(t, "USD 15.00", c.Totals.Shipping.String())
	assert.Equal(t, "USD 55.00", c.Totals.Total.String())

	c, err = f.svc.SetShippingAddress(ctx, shopper, testAddress("N1 1AA"))
	require.NoError(t, err)
	assert.NotNil(t, c.ShippingMethod, "same address keeps the method")

	c, err = f.svc.SetShippingAddress(ctx, shopper, testAddress("E2 2BB"))
	require.NoError(t, err)
	assert.Nil(t, c.ShippingMethod)
	assert.Equal(t, "USD 40.00", c.Totals.Total.String())

	_, err = f.svc.SetShippingMethod(ctx, shopper, "teleport")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestShipping_MethodDroppedWhenParcelChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.add(t, teeSKU, 2)
	itemID := c.Items[0].ID
	_, err := f.svc.SetShippingAddress(ctx, shopper, testAddress("N1 1AA"))
	require.NoError(t, err)
	_, err = f.svc.SetShippingMethod(ctx, shopper, "express")
	require.NoError(t, err)

	c, err = f.svc.UpdateQuantity(ctx, shopper, itemID, 2)
	require.NoError(t, err)
	assert.NotNil(t, c.ShippingMethod, "same parcel keeps the method")

	c = f.add(t, mugSKU, 1)
	assert.Nil(t, c.ShippingMethod)
	assert.True(t, c.Totals.Shipping.IsZero())

	_, err = f.svc.SetShippingMethod(ctx, shopper, "express")
	require.NoError(t, err)
	c, err = f.svc.UpdateQuantity(ctx, shopper, itemID, 3)
	require.NoError(t, err)
	assert.Nil(t, c.ShippingMethod)

	_, err = f.svc.SetShippingMethod(ctx, shopper, "express")
	require.NoError(t, err)
	c, err = f.svc.RemoveItem(ctx, shopper, itemID)
	require.NoError(t, err)
	assert.Nil(t, c.ShippingMethod)
}

func TestSetShippingAddress_Validation(t *testing.T) {
	f := newFixture(t)
	addr := testAddress("N1 1AA")
	addr.Country = "GBR"
	addr.City = ""

	_, err := f.svc.SetShippingAddress(context.Background(), shopper, addr)

	require.Error(t, err)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Fields, "country")
	assert.Contains(t, appErr.Fields, "city")
}

func TestSetBillingAddress(t *testing.T) {
	f := newFixture(t)

	c, err := f.svc.SetBillingAddress(context.Background(), shopper, testAddress("N1 1AA"))

	require.NoError(t, err)
	require.NotNil(t, c.BillingAddress)
	assert.Equal(t, "N1 1AA", c.BillingAddress.PostalCode)
	assert.Equal(t, domain.CartEmpty, c.Status)
}

func TestShippingOptions_RequiresItems(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetShippingAddress(context.Background(), shopper, testAddress("N1 1AA"))
	require.NoError(t, err)

	_, err = f.svc.ShippingOptions(context.Background(), shopper)

	assert.True(t, errors.Is(err, apperrors.ErrEmptyCart))
}

// ============================================================================
// ValidateForCheckout
// ============================================================================

func TestValidateForCheckout_Clean(t *testing.T) {
	f := newFixture(t)
	f.add(t, teeSKU, 2)

	issues, err := f.svc.ValidateForCheckout(context.Background(), shopper)

	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.NoError(t, IssuesError(issues))
}

func TestValidateForCheckout_ReportsEachLine(t *testing.T) {
	f := newFixture(t)
	f.add(t, teeSKU, 3)
	f.add(t, redSKU, 1)
	c := f.add(t, mugSKU, 1)

	f.setStock(t, teeSKU, 2)
	f.setStock(t, redSKU, 0)
	products := testProducts()
	products[1].SalePrice = nil
	f.products.Put(products[1])

	issues, err := f.svc.ValidateForCheckout(context.Background(), shopper)
	require.NoError(t, err)
	require.Len(t, issues, 3)

	assert.Equal(t, IssueInsufficientQuantity, issues[0].Kind)
	assert.Equal(t, 2, issues[0].Available)
	assert.Equal(t, IssueOutOfStock, issues[1].Kind)
	assert.Equal(t, "tee:red", issues[1].SKU)
	assert.Equal(t, IssuePriceChanged, issues[2].Kind)

	err = IssuesError(issues)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Fields, "items."+c.Items[2].ID)

	after, err := f.svc.GetCart(context.Background(), shopper)
	require.NoError(t, err)
	assert.Equal(t, c.Version, after.Version, "validation must not modify the cart")
}

func TestValidateForCheckout_ProductUnavailable(t *testing.T) {
	f := newFixture(t)
	f.add(t, teeSKU, 1)
	products := testProducts()
	products[0].Active = false
	f.products.Put(products[0])

	issues, err := f.svc.ValidateForCheckout(context.Background(), shopper)

	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueProductUnavailable, issues[0].Kind)
}

func TestValidateForCheckout_EmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ValidateForCheckout(context.Background(), shopper)

	assert.True(t, errors.Is(err, apperrors.ErrEmptyCart))
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestMarkCheckedOut_ThenReactivate(t *testing.T) {
	f := newFixture(t)
	f.saveCoupon(t, "SAVE10", nil)
	c := f.add(t, teeSKU, 1)
	_, err := f.svc.ApplyCoupon(context.Background(), shopper, "SAVE10")
	require.NoError(t, err)

	_, err = f.svc.MarkCheckedOut(context.Background(), shopper, "other-cart")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	c, err = f.svc.MarkCheckedOut(context.Background(), shopper, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CartCheckedOut, c.Status)
	assert.Empty(t, c.Items)
	assert.Empty(t, c.CouponCode)

	c = f.add(t, mugSKU, 1)
	assert.Equal(t, domain.CartActive, c.Status)
}

func TestMarkAbandoned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.MarkAbandoned(ctx, shopper)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	f.add(t, teeSKU, 2)
	c, err := f.svc.MarkAbandoned(ctx, shopper)
	require.NoError(t, err)
	assert.Equal(t, domain.CartAbandoned, c.Status)
	assert.Len(t, c.Items, 1)

	c = f.add(t, teeSKU, 1)
	assert.Equal(t, domain.CartActive, c.Status)
	assert.Equal(t, 3, c.Items[0].Quantity)
}

func TestGetCart_ReturnsUnsavedEmptyCart(t *testing.T) {
	f := newFixture(t)

	c, err := f.svc.GetCart(context.Background(), shopper)

	require.NoError(t, err)
	assert.Equal(t, domain.CartEmpty, c.Status)
	assert.Equal(t, 0, c.Version)
	assert.Equal(t, "USD", c.Currency)

	_, err = f.svc.GetCart(context.Background(), domain.Owner{})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

// ============================================================================
// Optimistic concurrency
// ============================================================================

type conflictingRepo struct {
	*memory.CartRepository
	mu        sync.Mutex
	conflicts int
	saves     int
}

func (r *conflictingRepo) SaveIfVersion(ctx context.Context, c *domain.Cart, expected int) error {
	r.mu.Lock()
	r.saves++
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return apperrors.Conflict("cart was modified concurrently")
	}
	r.mu.Unlock()
	return r.CartRepository.SaveIfVersion(ctx, c, expected)
}

func TestMutate_RetriesConflict(t *testing.T) {
	repo := &conflictingRepo{CartRepository: memory.NewCartRepository(), conflicts: 2}
	f := newFixtureWithRepo(t, repo)

	c := f.add(t, teeSKU, 1)

	assert.Equal(t, 1, c.Items[0].Quantity)
	assert.Equal(t, 3, repo.saves)
}

func TestMutate_GivesUpAfterRetries(t *testing.T) {
	repo := &conflictingRepo{CartRepository: memory.NewCartRepository(), conflicts: 10}
	f := newFixtureWithRepo(t, repo)

	_, err := f.svc.AddItem(context.Background(), shopper, AddItemInput{ProductID: "tee", Quantity: 1})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, maxConflictRetries+1, repo.saves)
}

func TestMutate_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.pub.Err = errors.New("broker down")

	c := f.add(t, teeSKU, 1)

	assert.Equal(t, domain.CartActive, c.Status)
}
