// Package order implements the order aggregate: the durable record of a
// placed purchase and its one-directional status machine.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/event"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/inventory"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/metrics"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/clock"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/keylock"
)

const (
	// MaxNotesLength bounds free-text order notes.
	MaxNotesLength = 2000
	// MaxPageSize bounds ListByCustomer.
	MaxPageSize = 100

	numberAttempts = 5
)

// StockCompensator returns stock held or consumed by a cancelled order.
type StockCompensator interface {
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)
	Release(ctx context.Context, reservationID, reason string) error
	Restock(ctx context.Context, reservationID, actor string) error
}

// Service implements the business logic for order operations.
type Service struct {
	repo      repository.OrderRepository
	inventory StockCompensator
	producer  *event.Producer
	metrics   *metrics.Metrics
	clock     clock.Clock
	logger    *slog.Logger
	locks     *keylock.Locker
	newNumber func(time.Time) string
}

// NewService creates a new order service.
func NewService(
	repo repository.OrderRepository,
	inv StockCompensator,
	producer *event.Producer,
	m *metrics.Metrics,
	clk clock.Clock,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		inventory: inv,
		producer:  producer,
		metrics:   m,
		clock:     clk,
		logger:    logger,
		locks:     keylock.New(),
		newNumber: NewNumber,
	}
}

// CreateFromCheckout materializes an order from a checkout session. With a
// payment transaction id the order is recorded as paid, otherwise it stays
// pending.
func (s *Service) CreateFromCheckout(ctx context.Context, sess *domain.CheckoutSession, transactionID string) (*domain.Order, error) {
	if len(sess.Lines) == 0 {
		return nil, apperrors.EmptyCart(sess.CartID)
	}

	now := s.clock.Now()
	o := &domain.Order{
		ID:                 uuid.New().String(),
		CustomerID:         sess.Owner.CustomerID,
		Status:             domain.OrderPending,
		FulfillmentStatus:  domain.FulfillmentFor(domain.OrderPending),
		Currency:           sess.Currency,
		Items:              orderItems(sess.Lines),
		Totals:             sess.Totals,
		CouponCode:         sess.CouponCode,
		AppliedDiscountIDs: append([]string(nil), sess.AppliedDiscountIDs...),
		ShippingAddress:    sess.ShippingAddress.Clone(),
		BillingAddress:     sess.BillingAddress.Clone(),
		ReservationID:      sess.ReservationID,
		CheckoutSessionID:  sess.ID,
		PaymentIntentID:    sess.PaymentIntentID,
		TransactionID:      transactionID,
		StatusHistory:      []domain.StatusChange{{To: domain.OrderPending, At: now, Note: "created from checkout"}},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if o.CustomerID == "" {
		o.GuestEmail = guestEmail(sess)
	}
	if sess.ShippingMethod != nil {
		m := *sess.ShippingMethod
		o.ShippingMethod = &m
	}
	if transactionID != "" {
		if err := o.Transition(domain.OrderConfirmed, now, "payment confirmed"); err != nil {
			return nil, err
		}
		if err := o.Transition(domain.OrderPaid, now, "transaction "+transactionID); err != nil {
			return nil, err
		}
	}

	var err error
	for attempt := 0; attempt < numberAttempts; attempt++ {
		o.Number = s.newNumber(now)
		err = s.repo.Create(ctx, o)
		if !errors.Is(err, repository.ErrDuplicateNumber) {
			break
		}
		s.logger.WarnContext(ctx, "order number collision, retrying",
			slog.String("number", o.Number),
			slog.Int("attempt", attempt+1),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	if err := s.producer.PublishOrder(ctx, event.OrderCreated, o, ""); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.created event",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
	s.metrics.OrderTransition(string(o.Status))

	s.logger.InfoContext(ctx, "order created",
		slog.String("order_id", o.ID),
		slog.String("number", o.Number),
		slog.String("checkout_id", sess.ID),
		slog.String("status", string(o.Status)),
		slog.String("total", o.Totals.Total.String()),
	)
	return o, nil
}

// GetOrder retrieves an order by id.
func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("order id is required")
	}
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetByNumber retrieves an order by its human-readable number.
func (s *Service) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	number = strings.ToUpper(strings.TrimSpace(number))
	if number == "" {
		return nil, apperrors.InvalidInput("order number is required")
	}
	o, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("get order by number: %w", err)
	}
	return o, nil
}

// ListByCustomer returns a page of a customer's orders, newest first, and
// the total number of orders.
func (s *Service) ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]domain.Order, int, error) {
	if customerID == "" {
		return nil, 0, apperrors.InvalidInput("customer id is required")
	}
	if limit <= 0 || limit > MaxPageSize {
		return nil, 0, apperrors.InvalidInput(fmt.Sprintf("limit must be between 1 and %d", MaxPageSize))
	}
	if offset < 0 {
		return nil, 0, apperrors.InvalidInput("offset must not be negative")
	}
	orders, total, err := s.repo.ListByCustomer(ctx, customerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return orders, total, nil
}

// CanCancel reports whether the order may still be cancelled.
func (s *Service) CanCancel(ctx context.Context, id string) (bool, error) {
	o, err := s.GetOrder(ctx, id)
	if err != nil {
		return false, err
	}
	return o.CanCancel(), nil
}

// Transition moves an order one step forward. Moving to cancelled goes
// through Cancel so stock is compensated.
func (s *Service) Transition(ctx context.Context, id string, to domain.OrderStatus, note string) (*domain.Order, error) {
	if to == domain.OrderCancelled {
		return s.Cancel(ctx, id, note, "system")
	}
	return s.update(ctx, id, func(o *domain.Order) (string, error) {
		from := o.Status
		if err := o.Transition(to, s.clock.Now(), note); err != nil {
			return "", err
		}
		s.logger.InfoContext(ctx, "order status changed",
			slog.String("order_id", o.ID),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return string(from), nil
	})
}

// Cancel cancels an order that has not shipped. A held reservation is
// released; a committed one is restocked. Cancelling a cancelled order
// returns it unchanged.
func (s *Service) Cancel(ctx context.Context, id, reason, actor string) (*domain.Order, error) {
	if actor == "" {
		actor = "system"
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	o, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status == domain.OrderCancelled {
		return o, nil
	}
	if !o.CanCancel() {
		return nil, apperrors.InvalidTransition("order", string(o.Status), string(domain.OrderCancelled))
	}
	expected := o.Version
	from := o.Status

	if err := s.compensate(ctx, o, actor); err != nil {
		return nil, err
	}

	if err := o.Transition(domain.OrderCancelled, s.clock.Now(), reason); err != nil {
		return nil, err
	}
	o.CancelReason = reason
	if err := s.repo.UpdateIfVersion(ctx, o, expected); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := s.producer.PublishOrder(ctx, event.OrderCancelled, o, from); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.cancelled event",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
	s.metrics.OrderTransition(string(domain.OrderCancelled))

	s.logger.InfoContext(ctx, "order cancelled",
		slog.String("order_id", o.ID),
		slog.String("from", string(from)),
		slog.String("actor", actor),
		slog.String("reason", reason),
	)
	return o, nil
}

// UpdateNotes replaces the order's free-text notes.
func (s *Service) UpdateNotes(ctx context.Context, id, notes string) (*domain.Order, error) {
	if len(notes) > MaxNotesLength {
		return nil, apperrors.InvalidInput(fmt.Sprintf("notes must not exceed %d characters", MaxNotesLength))
	}
	return s.update(ctx, id, func(o *domain.Order) (string, error) {
		o.Notes = notes
		o.UpdatedAt = s.clock.Now()
		return "", nil
	})
}

// SetTracking records the carrier and tracking number of a paid or
// shipped order.
func (s *Service) SetTracking(ctx context.Context, id, carrier, trackingNumber string) (*domain.Order, error) {
	carrier = strings.TrimSpace(carrier)
	trackingNumber = strings.TrimSpace(trackingNumber)
	if carrier == "" || trackingNumber == "" {
		return nil, apperrors.InvalidInput("carrier and tracking number are required")
	}
	return s.update(ctx, id, func(o *domain.Order) (string, error) {
		switch o.Status {
		case domain.OrderPaid, domain.OrderShipped, domain.OrderDelivered:
		default:
			return "", apperrors.InvalidState(fmt.Sprintf("cannot set tracking on a %s order", o.Status))
		}
		o.Carrier = carrier
		o.TrackingNumber = trackingNumber
		o.UpdatedAt = s.clock.Now()
		return "", nil
	})
}

// update applies fn under the order's lock and saves with a version check.
// fn returns the previous status when it changed the status, else "".
func (s *Service) update(ctx context.Context, id string, fn func(o *domain.Order) (string, error)) (*domain.Order, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	o, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	expected := o.Version

	from, err := fn(o)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateIfVersion(ctx, o, expected); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	if from != "" {
		if err := s.producer.PublishOrder(ctx, event.OrderStatusChanged, o, domain.OrderStatus(from)); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish order.status_changed event",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
		s.metrics.OrderTransition(string(o.Status))
	}
	return o, nil
}

func (s *Service) compensate(ctx context.Context, o *domain.Order, actor string) error {
	if o.ReservationID == "" {
		return nil
	}
	res, err := s.inventory.GetReservation(ctx, o.ReservationID)
	if err != nil {
		return fmt.Errorf("get reservation: %w", err)
	}
	switch res.State {
	case domain.ReservationHeld:
		if err := s.inventory.Release(ctx, res.ID, inventory.ReasonCancelled); err != nil {
			return fmt.Errorf("release reservation: %w", err)
		}
	case domain.ReservationCommitted:
		if err := s.inventory.Restock(ctx, res.ID, actor); err != nil {
			return fmt.Errorf("restock reservation: %w", err)
		}
	}
	return nil
}

func orderItems(lines []domain.CartItem) []domain.OrderItem {
	items := make([]domain.OrderItem, len(lines))
	for i, l := range lines {
		items[i] = domain.OrderItem{
			ID:           uuid.New().String(),
			SKU:          l.SKU,
			Name:         l.Name,
			Quantity:     l.Quantity,
			UnitPrice:    l.UnitPrice,
			LineTotal:    l.LineTotal,
			LineDiscount: l.LineDiscount,
			TaxClass:     l.TaxClass,
		}
	}
	return items
}

func guestEmail(sess *domain.CheckoutSession) string {
	switch {
	case sess.Owner.Email != "":
		return sess.Owner.Email
	case sess.BillingAddress != nil && sess.BillingAddress.Email != "":
		return sess.BillingAddress.Email
	case sess.ShippingAddress != nil:
		return sess.ShippingAddress.Email
	}
	return ""
}
