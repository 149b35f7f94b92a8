package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's business metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	reservations     *prometheus.CounterVec
	reservedUnits    prometheus.Counter
	expiredReleased  prometheus.Counter
	couponRejections *prometheus.CounterVec
	checkouts        *prometheus.CounterVec
	orderTransitions *prometheus.CounterVec
	cartConflicts    prometheus.Counter
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "commerce",
			Subsystem: "inventory",
			Name:      "reservation_operations_total",
			Help:      "Reservation operations by outcome.",
		}, []string{"outcome"}),
		reservedUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "commerce",
			Subsystem: "inventory",
			Name:      "reserved_units_total",
			Help:      "Units placed on hold.",
		}),
		expiredReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "commerce",
			Subsystem: "inventory",
			Name:      "expired_reservations_released_total",
			Help:      "Held reservations released by the expiry sweep.",
		}),
		couponRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "commerce",
			Subsystem: "discount",
			Name:      "coupon_rejections_total",
			Help:      "Coupon validations that failed, by reason.",
		}, []string{"reason"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "commerce",
			Subsystem: "checkout",
			Name:      "sessions_finished_total",
			Help:      "Checkout sessions that reached a terminal state or failed payment, by result.",
		}, []string{"result"}),
		orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "commerce",
			Subsystem: "order",
			Name:      "status_transitions_total",
			Help:      "Order status transitions by target status.",
		}, []string{"to"}),
		cartConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "commerce",
			Subsystem: "cart",
			Name:      "version_conflicts_total",
			Help:      "Cart writes rejected by the version check.",
		}),
	}

	reg.MustRegister(
		m.reservations, m.reservedUnits, m.expiredReleased,
		m.couponRejections, m.checkouts, m.orderTransitions, m.cartConflicts,
	)
	return m
}

// Reservation records a reservation outcome such as "reserved" or "insufficient_stock".
func (m *Metrics) Reservation(outcome string, units int) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(outcome).Inc()
	if outcome == "reserved" {
		m.reservedUnits.Add(float64(units))
	}
}

// ExpiredReleased records reservations released by the sweep.
func (m *Metrics) ExpiredReleased(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expiredReleased.Add(float64(n))
}

// CouponRejected records a coupon rejection reason.
func (m *Metrics) CouponRejected(reason string) {
	if m == nil {
		return
	}
	m.couponRejections.WithLabelValues(reason).Inc()
}

// Checkout records a checkout result: completed, payment_failed, cancelled, expired.
func (m *Metrics) Checkout(result string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(result).Inc()
}

// OrderTransition records an order moving to status.
func (m *Metrics) OrderTransition(to string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(to).Inc()
}

// CartConflict records a rejected cart write.
func (m *Metrics) CartConflict() {
	if m == nil {
		return
	}
	m.cartConflicts.Inc()
}
