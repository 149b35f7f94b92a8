package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/inventory"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/httputil"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/validator"
)

const maxBodyBytes = 1 << 20

// InventoryHandler exposes ledger operations to operators and the sweep.
type InventoryHandler struct {
	ledger *inventory.Ledger
	logger *slog.Logger
}

// NewInventoryHandler creates a new inventory HTTP handler.
func NewInventoryHandler(ledger *inventory.Ledger, logger *slog.Logger) *InventoryHandler {
	return &InventoryHandler{
		ledger: ledger,
		logger: logger,
	}
}

// AdjustStockRequest is the JSON body for a relative stock change.
type AdjustStockRequest struct {
	Delta  int    `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required,max=200"`
	Actor  string `json:"actor" validate:"required,max=100"`
}

// SetStockRequest is the JSON body for an absolute stock count.
type SetStockRequest struct {
	Quantity int    `json:"quantity" validate:"gte=0"`
	Reason   string `json:"reason" validate:"required,max=200"`
	Actor    string `json:"actor" validate:"required,max=100"`
}

// SetPolicyRequest is the JSON body for low-stock and backorder settings.
type SetPolicyRequest struct {
	LowStockThreshold int  `json:"low_stock_threshold" validate:"gte=0"`
	AllowBackorder    bool `json:"allow_backorder"`
}

// StockResponse is a stock record with its derived availability.
type StockResponse struct {
	*domain.StockRecord
	Available int `json:"available"`
}

func stockResponse(rec *domain.StockRecord) StockResponse {
	return StockResponse{StockRecord: rec, Available: rec.Available()}
}

// ReleaseExpired handles POST /internal/inventory/release-expired.
func (h *InventoryHandler) ReleaseExpired(w http.ResponseWriter, r *http.Request) {
	n, err := h.ledger.ReleaseExpired(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, map[string]int{"released": n})
}

// GetStock handles GET /internal/inventory/stock/{sku}.
func (h *InventoryHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	sku, ok := parseSKU(w, r)
	if !ok {
		return
	}
	rec, err := h.ledger.GetRecord(r.Context(), sku)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, stockResponse(rec))
}

// AdjustStock handles POST /internal/inventory/stock/{sku}/adjust.
func (h *InventoryHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	sku, ok := parseSKU(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req AdjustStockRequest
	if err := validator.DecodeAndValidate(r.Body, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	rec, err := h.ledger.AdjustStock(r.Context(), sku, req.Delta, req.Reason, req.Actor)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, stockResponse(rec))
}

// SetStock handles PUT /internal/inventory/stock/{sku}.
func (h *InventoryHandler) SetStock(w http.ResponseWriter, r *http.Request) {
	sku, ok := parseSKU(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req SetStockRequest
	if err := validator.DecodeAndValidate(r.Body, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	rec, err := h.ledger.SetStock(r.Context(), sku, req.Quantity, req.Reason, req.Actor)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, stockResponse(rec))
}

// SetPolicy handles PUT /internal/inventory/stock/{sku}/policy.
func (h *InventoryHandler) SetPolicy(w http.ResponseWriter, r *http.Request) {
	sku, ok := parseSKU(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req SetPolicyRequest
	if err := validator.DecodeAndValidate(r.Body, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	rec, err := h.ledger.SetPolicy(r.Context(), sku, req.LowStockThreshold, req.AllowBackorder)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, stockResponse(rec))
}

// ListMovements handles GET /internal/inventory/stock/{sku}/movements?limit=.
func (h *InventoryHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	sku, ok := parseSKU(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.WriteError(w, r, apperrors.InvalidInput("limit must be a positive integer"), h.logger)
			return
		}
		limit = n
	}

	movements, err := h.ledger.ListMovements(r.Context(), sku, limit)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if movements == nil {
		movements = []domain.StockMovement{}
	}
	httputil.WriteData(w, http.StatusOK, movements)
}

// parseSKU reads the {sku} path parameter in "product" or "product:variant"
// form and writes a 400 when it is unusable.
func parseSKU(w http.ResponseWriter, r *http.Request) (domain.SKU, bool) {
	sku := domain.ParseSKU(chi.URLParam(r, "sku"))
	if sku.ProductID == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("sku must name a product"), nil)
		return domain.SKU{}, false
	}
	return sku, true
}
