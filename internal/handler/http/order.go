package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/order"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/httputil"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/pagination"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/validator"
)

// OrderHandler handles the internal order endpoints.
type OrderHandler struct {
	service *order.Service
	logger  *slog.Logger
}

// NewOrderHandler creates a new order HTTP handler.
func NewOrderHandler(svc *order.Service, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		service: svc,
		logger:  logger,
	}
}

// CancelOrderRequest is the JSON body for cancelling an order.
type CancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
	Actor  string `json:"actor" validate:"max=100"`
}

// TransitionRequest is the JSON body for moving an order forward.
type TransitionRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed paid shipped delivered completed"`
	Note   string `json:"note" validate:"max=500"`
}

// TrackingRequest is the JSON body for recording shipment tracking.
type TrackingRequest struct {
	Carrier        string `json:"carrier" validate:"required,max=100"`
	TrackingNumber string `json:"tracking_number" validate:"required,max=100"`
}

// NotesRequest is the JSON body for replacing order notes.
type NotesRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

// GetOrderByNumber handles GET /internal/orders/{number}.
func (h *OrderHandler) GetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.GetByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, o)
}

// ListCustomerOrders handles GET /internal/customers/{customerID}/orders.
func (h *OrderHandler) ListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)

	orders, total, err := h.service.ListByCustomer(r.Context(), chi.URLParam(r, "customerID"), params.PerPage, params.Offset())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(orders, total, params))
}

// CancelOrder handles POST /internal/orders/{id}/cancel. An empty body
// cancels without a reason.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body: "+err.Error()), h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = "ops"
	}

	o, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason, actor)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, o)
}

// TransitionOrder handles POST /internal/orders/{id}/transition.
func (h *OrderHandler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req TransitionRequest
	if err := validator.DecodeAndValidate(r.Body, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	o, err := h.service.Transition(r.Context(), chi.URLParam(r, "id"), domain.OrderStatus(req.Status), req.Note)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, o)
}

// SetTracking handles PUT /internal/orders/{id}/tracking.
func (h *OrderHandler) SetTracking(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req TrackingRequest
	if err := validator.DecodeAndValidate(r.Body, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	o, err := h.service.SetTracking(r.Context(), chi.URLParam(r, "id"), req.Carrier, req.TrackingNumber)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, o)
}

// UpdateNotes handles PUT /internal/orders/{id}/notes.
func (h *OrderHandler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req NotesRequest
	if err := validator.DecodeAndValidate(r.Body, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	o, err := h.service.UpdateNotes(r.Context(), chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, o)
}
