package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/event"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/inventory"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/metrics"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/order"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository/memory"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/clock"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/health"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/httputil"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
)

// --- Test Helpers ---

var tee = domain.SKU{ProductID: "tee", VariantID: "red"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	router http.Handler
	ledger *inventory.Ledger
	orders *order.Service
	clock  *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := testLogger()
	m := metrics.New(prometheus.NewRegistry())
	producer := event.NewProducer(event.NewMemoryPublisher(0), clk, logger)
	ledger := inventory.NewLedger(memory.NewLedgerStore(), producer, m, clk, logger, 15*time.Minute)
	orders := order.NewService(memory.NewOrderRepository(), ledger, producer, m, clk, logger)

	_, err := ledger.SetStock(context.Background(), tee, 10, "initial", "test")
	require.NoError(t, err)

	return &fixture{
		router: NewRouter(ledger, orders, health.NewHandler(), logger),
		ledger: ledger,
		orders: orders,
		clock:  clk,
	}
}

// placeOrder runs the reserve, commit and order steps of a completed checkout.
func (f *fixture) placeOrder(t *testing.T, sessionID, customerID string, qty int) *domain.Order {
	t.Helper()
	ctx := context.Background()
	res, err := f.ledger.Reserve(ctx, sessionID, []domain.ReservationLine{{SKU: tee, Quantity: qty}})
	require.NoError(t, err)
	_, err = f.ledger.Commit(ctx, res.ID)
	require.NoError(t, err)

	unit := money.MustParse("20.00", "USD")
	totals := domain.ZeroTotals("USD")
	totals.Subtotal = unit.MulInt(qty)
	totals.Total = totals.Subtotal

	o, err := f.orders.CreateFromCheckout(ctx, &domain.CheckoutSession{
		ID:       sessionID,
		CartID:   "cart-" + sessionID,
		Owner:    domain.Owner{CustomerID: customerID},
		Status:   domain.CheckoutPaymentPending,
		Currency: "USD",
		Lines: []domain.CartItem{{
			ID: "line-1", SKU: tee, Name: "Tee - Red", Quantity: qty,
			UnitPrice: unit, LineTotal: totals.Subtotal, LineDiscount: money.Zero("USD"),
		}},
		Totals:          totals,
		ReservationID:   res.ID,
		PaymentIntentID: "pi_" + sessionID,
	}, "txn-"+sessionID)
	require.NoError(t, err)
	return o
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func dataMap(t *testing.T, resp httputil.Response) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data should be an object, got %T", resp.Data)
	return m
}

// ============================================================================
// Health
// ============================================================================

func TestRouter_Health(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ============================================================================
// Inventory
// ============================================================================

func TestGetStock(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/internal/inventory/stock/tee:red", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := dataMap(t, decodeResponse(t, rec))
	assert.Equal(t, float64(10), data["on_hand"])
	assert.Equal(t, float64(10), data["available"])
}

func TestGetStock_UnknownSKU(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/internal/inventory/stock/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestAdjustStock_RecordsMovement(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/internal/inventory/stock/tee:red/adjust", AdjustStockRequest{
		Delta: -3, Reason: "damaged", Actor: "ops@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataMap(t, decodeResponse(t, rec))
	assert.Equal(t, float64(7), data["on_hand"])

	rec = f.do(t, http.MethodGet, "/internal/inventory/stock/tee:red/movements?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	movements, ok := decodeResponse(t, rec).Data.([]any)
	require.True(t, ok)
	require.Len(t, movements, 2)

	newest := movements[0].(map[string]any)
	assert.Equal(t, "adjust", newest["kind"])
	assert.Equal(t, float64(-3), newest["delta"])
	assert.Equal(t, float64(7), newest["balance"])
	assert.Equal(t, "ops@example.com", newest["actor"])
}

func TestAdjustStock_Validation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/internal/inventory/stock/tee:red/adjust", AdjustStockRequest{Delta: 0, Reason: "", Actor: "ops"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_FAILED", resp.Error.Code)
	assert.NotEmpty(t, resp.Error.Fields)
}

func TestAdjustStock_RequiresJSON(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/internal/inventory/stock/tee:red/adjust",
		bytes.NewBufferString(`<delta>1</delta>`))
	req.Header.Set("Content-Type", "application/xml")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestSetStockAndPolicy(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/internal/inventory/stock/mug", SetStockRequest{Quantity: 4, Reason: "count", Actor: "ops"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), dataMap(t, decodeResponse(t, rec))["on_hand"])

	rec = f.do(t, http.MethodPut, "/internal/inventory/stock/mug/policy", SetPolicyRequest{LowStockThreshold: 2, AllowBackorder: true})
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataMap(t, decodeResponse(t, rec))
	assert.Equal(t, true, data["allow_backorder"])
	assert.Equal(t, float64(domain.UnlimitedStock), data["available"])
}

func TestReleaseExpired(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Reserve(context.Background(), "sess-1", []domain.ReservationLine{{SKU: tee, Quantity: 4}})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/internal/inventory/release-expired", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), dataMap(t, decodeResponse(t, rec))["released"])

	f.clock.Advance(16 * time.Minute)

	rec = f.do(t, http.MethodPost, "/internal/inventory/release-expired", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), dataMap(t, decodeResponse(t, rec))["released"])

	available, err := f.ledger.GetStock(context.Background(), tee)
	require.NoError(t, err)
	assert.Equal(t, 10, available)
}

// ============================================================================
// Orders
// ============================================================================

func TestGetOrderByNumber(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, "sess-1", "cust-1", 2)

	rec := f.do(t, http.MethodGet, "/internal/orders/"+o.Number, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := dataMap(t, decodeResponse(t, rec))
	assert.Equal(t, o.ID, data["id"])
	assert.Equal(t, "paid", data["status"])

	rec = f.do(t, http.MethodGet, "/internal/orders/ORD-19990101-000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListCustomerOrders_Paginates(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"sess-1", "sess-2", "sess-3"} {
		f.placeOrder(t, id, "cust-1", 1)
		f.clock.Advance(time.Minute)
	}
	f.placeOrder(t, "sess-4", "cust-2", 1)

	rec := f.do(t, http.MethodGet, "/internal/customers/cust-1/orders?page=1&per_page=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Data       []domain.Order `json:"data"`
		TotalCount int            `json:"total_count"`
		TotalPages int            `json:"total_pages"`
		HasNext    bool           `json:"has_next"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, 3, page.TotalCount)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.HasNext)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "sess-3", page.Data[0].CheckoutSessionID)
}

func TestCancelOrder_RestocksCommittedUnits(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, "sess-1", "cust-1", 3)

	rec := f.do(t, http.MethodPost, "/internal/orders/"+o.ID+"/cancel", CancelOrderRequest{Reason: "customer request", Actor: "agent-7"})
	require.Equal(t, http.StatusOK, rec.Code)

	data := dataMap(t, decodeResponse(t, rec))
	assert.Equal(t, "cancelled", data["status"])
	assert.Equal(t, "customer request", data["cancel_reason"])

	rec2, err := f.ledger.GetRecord(context.Background(), tee)
	require.NoError(t, err)
	assert.Equal(t, 10, rec2.OnHand)
}

func TestCancelOrder_EmptyBody(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, "sess-1", "cust-1", 1)

	rec := f.do(t, http.MethodPost, "/internal/orders/"+o.ID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelOrder_AfterShipment(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, "sess-1", "cust-1", 1)

	rec := f.do(t, http.MethodPost, "/internal/orders/"+o.ID+"/transition", TransitionRequest{Status: "shipped"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/internal/orders/"+o.ID+"/cancel", CancelOrderRequest{Reason: "too late"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_TRANSITION", resp.Error.Code)
}

func TestTransitionOrder_RejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, "sess-1", "cust-1", 1)

	rec := f.do(t, http.MethodPost, "/internal/orders/"+o.ID+"/transition", TransitionRequest{Status: "teleported"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSetTrackingAndNotes(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, "sess-1", "cust-1", 1)

	rec := f.do(t, http.MethodPut, "/internal/orders/"+o.ID+"/tracking", TrackingRequest{Carrier: "DHL", TrackingNumber: "JD0001"})
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataMap(t, decodeResponse(t, rec))
	assert.Equal(t, "DHL", data["carrier"])
	assert.Equal(t, "JD0001", data["tracking_number"])

	rec = f.do(t, http.MethodPut, "/internal/orders/"+o.ID+"/notes", NotesRequest{Notes: "leave at door"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "leave at door", dataMap(t, decodeResponse(t, rec))["notes"])
}
