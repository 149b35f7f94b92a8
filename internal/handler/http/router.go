package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/inventory"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/order"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/health"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/middleware"
)

// NewRouter creates the chi router for the ops surface: health, metrics and
// the internal inventory and order endpoints.
func NewRouter(
	ledger *inventory.Ledger,
	orderService *order.Service,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("commerce"))
	r.Use(middleware.Tracing("commerce"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	inventoryHandler := NewInventoryHandler(ledger, logger)
	orderHandler := NewOrderHandler(orderService, logger)

	r.Route("/internal", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Route("/inventory", func(r chi.Router) {
			r.Post("/release-expired", inventoryHandler.ReleaseExpired)
			r.Get("/stock/{sku}", inventoryHandler.GetStock)
			r.Put("/stock/{sku}", inventoryHandler.SetStock)
			r.Post("/stock/{sku}/adjust", inventoryHandler.AdjustStock)
			r.Put("/stock/{sku}/policy", inventoryHandler.SetPolicy)
			r.Get("/stock/{sku}/movements", inventoryHandler.ListMovements)
		})

		r.Get("/orders/{number}", orderHandler.GetOrderByNumber)
		r.Post("/orders/{id}/cancel", orderHandler.CancelOrder)
		r.Post("/orders/{id}/transition", orderHandler.TransitionOrder)
		r.Put("/orders/{id}/tracking", orderHandler.SetTracking)
		r.Put("/orders/{id}/notes", orderHandler.UpdateNotes)
		r.Get("/customers/{customerID}/orders", orderHandler.ListCustomerOrders)
	})

	return r
}
