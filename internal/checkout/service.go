// Package checkout implements the checkout session: the time-boxed workflow
// that turns a cart snapshot into a paid order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/cart"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/event"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/inventory"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/metrics"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/provider"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/clock"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/keylock"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/validator"
)

// DefaultSessionTTL is how long a checkout session remains valid.
const DefaultSessionTTL = 30 * time.Minute

// actor recorded on stock movements made by checkout compensation.
const actor = "checkout"

// Inventory is the part of the stock ledger checkout drives.
type Inventory interface {
	Reserve(ctx context.Context, ownerID string, lines []domain.ReservationLine) (*domain.Reservation, error)
	Commit(ctx context.Context, reservationID string) (*domain.Reservation, error)
	Release(ctx context.Context, reservationID, reason string) error
	Extend(ctx context.Context, reservationID string) (*domain.Reservation, error)
	Restock(ctx context.Context, reservationID, actor string) error
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)
}

// OrderPlacer materializes an order from a paid session.
type OrderPlacer interface {
	CreateFromCheckout(ctx context.Context, session *domain.CheckoutSession, transactionID string) (*domain.Order, error)
}

// Service implements the business logic for checkout operations.
type Service struct {
	repo       repository.CheckoutRepository
	carts      *cart.Service
	quoter     *cart.Quoter
	inventory  Inventory
	orders     OrderPlacer
	payments   provider.PaymentProvider
	shipping   provider.ShippingRateSource
	producer   *event.Producer
	metrics    *metrics.Metrics
	clock      clock.Clock
	logger     *slog.Logger
	sessionTTL time.Duration
	locks      *keylock.Locker
}

// NewService creates a new checkout service.
func NewService(
	repo repository.CheckoutRepository,
	carts *cart.Service,
	quoter *cart.Quoter,
	inv Inventory,
	orders OrderPlacer,
	payments provider.PaymentProvider,
	shipping provider.ShippingRateSource,
	producer *event.Producer,
	m *metrics.Metrics,
	clk clock.Clock,
	logger *slog.Logger,
	sessionTTL time.Duration,
) *Service {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &Service{
		repo:       repo,
		carts:      carts,
		quoter:     quoter,
		inventory:  inv,
		orders:     orders,
		payments:   payments,
		shipping:   shipping,
		producer:   producer,
		metrics:    m,
		clock:      clk,
		logger:     logger,
		sessionTTL: sessionTTL,
		locks:      keylock.New(),
	}
}

// Initialize opens a checkout session over a snapshot of the owner's cart.
// The cart must be non-empty and pass checkout validation.
func (s *Service) Initialize(ctx context.Context, owner domain.Owner) (*domain.CheckoutSession, error) {
	c, err := s.carts.GetCart(ctx, owner)
	if err != nil {
		return nil, err
	}
	if len(c.Items) == 0 {
		return nil, apperrors.EmptyCart(c.ID)
	}
	issues, err := s.carts.ValidateLines(ctx, c.Items)
	if err != nil {
		return nil, fmt.Errorf("validate cart: %w", err)
	}
	if err := cart.IssuesError(issues); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	sess := &domain.CheckoutSession{
		ID:             uuid.New().String(),
		CartID:         c.ID,
		Owner:          c.Owner,
		Status:         domain.CheckoutInitialized,
		Currency:       c.Currency,
		Lines:          domain.CloneItems(c.Items),
		CouponCode:     c.CouponCode,
		BillingAddress: c.BillingAddress.Clone(),
		ExpiresAt:      now.Add(s.sessionTTL),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if owner.Email != "" {
		sess.Owner.Email = owner.Email
	}
	if c.ShippingAddress != nil {
		sess.ShippingAddress = c.ShippingAddress.Clone()
		sess.Status = domain.CheckoutAddressSet
	}
	if err := s.recompute(ctx, sess); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	s.logger.InfoContext(ctx, "checkout session initialized",
		slog.String("checkout_id", sess.ID),
		slog.String("cart_id", sess.CartID),
		slog.String("status", string(sess.Status)),
		slog.Int("lines", len(sess.Lines)),
		slog.String("total", sess.Totals.Total.String()),
	)
	return sess, nil
}

// Get retrieves a session. An open session past its expiry is expired first
// and SessionExpired is returned.
func (s *Service) Get(ctx context.Context, id string) (*domain.CheckoutSession, error) {
	sess, unlock, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock()
	return sess, nil
}

// UpdateShippingAddress sets the shipping address. A different address
// discards quoted options and the selected method, steps the session back to
// AddressSet and releases any stock held for payment.
func (s *Service) UpdateShippingAddress(ctx context.Context, id string, addr domain.Address) (*domain.CheckoutSession, error) {
	if err := validator.Validate(&addr); err != nil {
		return nil, err
	}
	sess, unlock, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	expected := sess.Version

	if !sess.ShippingAddress.SameAs(&addr) || sess.Status == domain.CheckoutInitialized {
		if err := s.releaseHold(ctx, sess, inventory.ReasonAborted); err != nil {
			return nil, err
		}
		sess.ShippingAddress = addr.Clone()
		sess.ShippingOptions = nil
		sess.ShippingMethod = nil
		if err := transition(sess, domain.CheckoutAddressSet); err != nil {
			return nil, err
		}
	}
	if err := s.recompute(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.save(ctx, sess, expected); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "checkout shipping address updated",
		slog.String("checkout_id", sess.ID),
		slog.String("country", addr.Country),
		slog.String("status", string(sess.Status)),
	)
	return sess, nil
}

// UpdateBillingAddress sets the billing address without changing state.
func (s *Service) UpdateBillingAddress(ctx context.Context, id string, addr domain.Address) (*domain.CheckoutSession, error) {
	if err := validator.Validate(&addr); err != nil {
		return nil, err
	}
	sess, unlock, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	expected := sess.Version

	sess.BillingAddress = addr.Clone()
	if err := s.save(ctx, sess, expected); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetShippingOptions quotes shipping for the session's address and lines and
// remembers the quote. UpdateShippingMethod only accepts quoted options.
func (s *Service) GetShippingOptions(ctx context.Context, id string) ([]domain.ShippingOption, error) {
	sess, unlock, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	expected := sess.Version

	if sess.ShippingAddress == nil {
		return nil, apperrors.InvalidState("shipping address must be set before requesting shipping options")
	}
	options, err := cart.QuoteShipping(ctx, s.shipping, *sess.ShippingAddress, sess.Lines, sess.Currency)
	if err != nil {
		return nil, err
	}
	sess.ShippingOptions = options
	if err := s.save(ctx, sess, expected); err != nil {
		return nil, err
	}
	return options, nil
}

// UpdateShippingMethod selects one of the quoted options. Changing the method
// while payment is pending releases the held stock.
func (s *Service) UpdateShippingMethod(ctx context.Context, id, methodID string) (*domain.CheckoutSession, error) {
	if methodID == "" {
		return nil, apperrors.InvalidInput("shipping method id is required")
	}
	sess, unlock, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	expected := sess.Version

	if sess.ShippingAddress == nil {
		return nil, apperrors.InvalidState("shipping address must be set before choosing shipping")
	}
	opt, ok := sess.HasShippingOption(methodID)
	if !ok {
		return nil, apperrors.ValidationFailed("shipping method is not available", map[string]string{
			"shipping_method_id": fmt.Sprintf("%q was not quoted for the current address", methodID),
		})
	}
	if err := transition(sess, domain.CheckoutShippingSelected); err != nil {
		return nil, err
	}
	if err := s.releaseHold(ctx, sess, inventory.ReasonAborted); err != nil {
		return nil, err
	}
	sess.ShippingMethod = &opt
	if err := s.recompute(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.save(ctx, sess, expected); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "checkout shipping method selected",
		slog.String("checkout_id", sess.ID),
		slog.String("method", opt.ID),
		slog.String("total", sess.Totals.Total.String()),
	)
	return sess, nil
}

// CreatePaymentIntent reserves stock for every line and opens a payment
// intent for the final total. A reservation failure leaves the session as it
// was; a provider failure releases the reservation before returning.
func (s *Service) CreatePaymentIntent(ctx context.Context, id string) (*domain.CheckoutSession, error) {
	sess, unlock, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	switch sess.Status {
	case domain.CheckoutShippingSelected:
	case domain.CheckoutPaymentPending:
		if sess.ReservationID != "" {
			return sess, nil
		}
	default:
		return nil, apperrors.InvalidState("shipping method must be selected before payment")
	}
	expected := sess.Version

	if err := s.recompute(ctx, sess); err != nil {
		return nil, err
	}

	res, err := s.inventory.Reserve(ctx, sess.ID, reservationLines(sess.Lines))
	if err != nil {
		return nil, fmt.Errorf("reserve inventory: %w", err)
	}

	intent, err := s.payments.CreateIntent(ctx, sess.Totals.Total, sess.ID)
	if err != nil {
		s.releaseQuietly(ctx, sess.ID, res.ID, inventory.ReasonAborted)
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	sess.ReservationID = res.ID
	sess.PaymentIntentID = intent.ID
	sess.ClientSecret = intent.ClientSecret
	sess.FailureReason = ""
	if err := transition(sess, domain.CheckoutPaymentPending); err != nil {
		s.releaseQuietly(ctx, sess.ID, res.ID, inventory.ReasonAborted)
		return nil, err
	}
	if err := s.save(ctx, sess, expected); err != nil {
		s.releaseQuietly(ctx, sess.ID, res.ID, inventory.ReasonAborted)
		return nil, err
	}

	s.logger.InfoContext(ctx, "payment intent created",
		slog.String("checkout_id", sess.ID),
		slog.String("reservation_id", res.ID),
		slog.String("payment_intent_id", intent.ID),
		slog.String("provider", s.payments.Name()),
		slog.String("amount", sess.Totals.Total.String()),
	)
	return sess, nil
}

// Complete verifies the held reservation and the payment, then commits the
// stock, creates the order, checks out the cart and completes the session.
// A declined or unconfirmable payment releases the reservation and leaves the
// session in PaymentPending so a new intent can be created. A hold that has
// expired or been swept expires the whole session. The hold is renewed before
// the payment is confirmed; if the order still cannot be created after the
// payment is captured, the session ends Failed with the transaction id kept
// for a refund.
func (s *Service) Complete(ctx context.Context, id, paymentIntentID string) (*domain.CheckoutSession, error) {
	sess, unlock, err := s.open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if sess.Status != domain.CheckoutPaymentPending || sess.ReservationID == "" {
		return nil, apperrors.InvalidState("checkout session has no payment in progress")
	}
	if paymentIntentID != "" && paymentIntentID != sess.PaymentIntentID {
		return nil, apperrors.ValidationFailed("payment intent does not match the session", map[string]string{
			"payment_intent_id": "unknown payment intent for this checkout session",
		})
	}
	expected := sess.Version

	res, err := s.inventory.GetReservation(ctx, sess.ReservationID)
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	if res.State != domain.ReservationHeld || res.IsExpired(s.clock.Now()) {
		return nil, s.expireLapsedHold(ctx, sess)
	}
	// A renewed hold cannot be swept while the payment is being captured.
	if _, err := s.inventory.Extend(ctx, sess.ReservationID); err != nil {
		if errors.Is(err, apperrors.ErrInvalidState) {
			return nil, s.expireLapsedHold(ctx, sess)
		}
		return nil, fmt.Errorf("extend reservation: %w", err)
	}

	discounts := s.quoter.Discounts()
	if err := discounts.Claim(ctx, sess.AppliedDiscountIDs, sess.Owner.CustomerID, sess.ID, sess.Totals.Total); err != nil {
		if errors.Is(err, apperrors.ErrUsageLimitReached) {
			s.abandonPayment(ctx, sess, expected, "discount is no longer available", inventory.ReasonAborted, domain.CheckoutShippingSelected)
		}
		return nil, fmt.Errorf("claim discounts: %w", err)
	}

	conf, err := s.payments.ConfirmIntent(ctx, sess.PaymentIntentID)
	if err != nil || !conf.Success {
		discounts.Release(ctx, sess.AppliedDiscountIDs, sess.ID)
		reason := "payment could not be confirmed"
		if err == nil {
			reason = conf.FailureReason
		}
		sess.PaymentAttempts++
		s.abandonPayment(ctx, sess, expected, reason, inventory.ReasonPaymentFailed, domain.CheckoutPaymentPending)
		s.metrics.Checkout("payment_failed")
		if err != nil {
			return nil, fmt.Errorf("confirm payment: %w", err)
		}
		return nil, apperrors.PaymentFailed(reason)
	}
	sess.PaymentAttempts++
	sess.TransactionID = conf.TransactionID

	if _, err := s.inventory.Commit(ctx, sess.ReservationID); err != nil {
		s.failCaptured(ctx, sess, expected, "stock reservation could not be committed", err)
		return nil, fmt.Errorf("commit reservation: %w", err)
	}

	order, err := s.orders.CreateFromCheckout(ctx, sess, conf.TransactionID)
	if err != nil {
		if rerr := s.inventory.Restock(ctx, sess.ReservationID, actor); rerr != nil {
			s.logger.ErrorContext(ctx, "failed to restock after order creation failure",
				slog.String("checkout_id", sess.ID),
				slog.String("reservation_id", sess.ReservationID),
				slog.String("error", rerr.Error()),
			)
		}
		s.failCaptured(ctx, sess, expected, "order could not be created", err)
		return nil, fmt.Errorf("create order: %w", err)
	}

	now := s.clock.Now()
	sess.OrderID = order.ID
	sess.CompletedAt = &now
	sess.ClientSecret = ""
	sess.FailureReason = ""
	if err := transition(sess, domain.CheckoutCompleted); err != nil {
		return nil, err
	}
	if err := s.save(ctx, sess, expected); err != nil {
		s.logger.ErrorContext(ctx, "order created but checkout session could not be completed",
			slog.String("checkout_id", sess.ID),
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if _, err := s.carts.MarkCheckedOut(ctx, sess.Owner, sess.CartID); err != nil {
		s.logger.WarnContext(ctx, "failed to check out cart",
			slog.String("checkout_id", sess.ID),
			slog.String("cart_id", sess.CartID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.producer.PublishCheckout(ctx, event.CheckoutCompleted, sess); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish checkout.completed event",
			slog.String("checkout_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}
	s.metrics.Checkout("completed")

	s.logger.InfoContext(ctx, "checkout completed",
		slog.String("checkout_id", sess.ID),
		slog.String("order_id", order.ID),
		slog.String("order_number", order.Number),
		slog.String("transaction_id", conf.TransactionID),
		slog.String("total", sess.Totals.Total.String()),
	)
	return sess, nil
}

// Cancel releases any held stock and cancels the session. Cancelling a
// cancelled session returns it unchanged.
func (s *Service) Cancel(ctx context.Context, id string) (*domain.CheckoutSession, error) {
	sess, unlock, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	switch sess.Status {
	case domain.CheckoutCancelled:
		return sess, nil
	case domain.CheckoutExpired:
		return nil, apperrors.SessionExpired(sess.ID)
	case domain.CheckoutCompleted, domain.CheckoutFailed:
		return nil, apperrors.InvalidState(fmt.Sprintf("cannot cancel a %s checkout session", sess.Status))
	}
	expected := sess.Version

	if err := s.releaseHold(ctx, sess, inventory.ReasonCancelled); err != nil {
		return nil, err
	}
	if err := transition(sess, domain.CheckoutCancelled); err != nil {
		return nil, err
	}
	if err := s.save(ctx, sess, expected); err != nil {
		return nil, err
	}

	if err := s.producer.PublishCheckout(ctx, event.CheckoutCancelled, sess); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish checkout.cancelled event",
			slog.String("checkout_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}
	s.metrics.Checkout("cancelled")

	s.logger.InfoContext(ctx, "checkout cancelled", slog.String("checkout_id", sess.ID))
	return sess, nil
}

// acquire locks and loads a session, expiring it if it is open and past its
// expiry. The returned func releases the lock.
func (s *Service) acquire(ctx context.Context, id string) (*domain.CheckoutSession, func(), error) {
	if id == "" {
		return nil, nil, apperrors.InvalidInput("checkout session id is required")
	}
	unlock := s.locks.Lock(id)

	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, fmt.Errorf("get checkout session: %w", err)
	}
	if sess.IsExpired(s.clock.Now()) {
		err := s.expire(ctx, sess)
		unlock()
		if err != nil {
			return nil, nil, err
		}
		return nil, nil, apperrors.SessionExpired(id)
	}
	return sess, unlock, nil
}

// open is acquire for operations that need a non-terminal session.
func (s *Service) open(ctx context.Context, id string) (*domain.CheckoutSession, func(), error) {
	sess, unlock, err := s.acquire(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status == domain.CheckoutExpired {
		unlock()
		return nil, nil, apperrors.SessionExpired(id)
	}
	if sess.IsTerminal() {
		unlock()
		return nil, nil, apperrors.InvalidState(fmt.Sprintf("checkout session is %s", sess.Status))
	}
	return sess, unlock, nil
}

func (s *Service) expire(ctx context.Context, sess *domain.CheckoutSession) error {
	expected := sess.Version
	if err := s.releaseHold(ctx, sess, inventory.ReasonExpired); err != nil {
		return err
	}
	if err := transition(sess, domain.CheckoutExpired); err != nil {
		return err
	}
	if err := s.save(ctx, sess, expected); err != nil {
		return err
	}

	if err := s.producer.PublishCheckout(ctx, event.CheckoutExpired, sess); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish checkout.expired event",
			slog.String("checkout_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}
	s.metrics.Checkout("expired")
	s.logger.InfoContext(ctx, "checkout session expired",
		slog.String("checkout_id", sess.ID),
		slog.Time("expires_at", sess.ExpiresAt),
	)
	return nil
}

// expireLapsedHold expires a session whose reservation lapsed or was swept
// before completion and returns the SessionExpired error for it.
func (s *Service) expireLapsedHold(ctx context.Context, sess *domain.CheckoutSession) error {
	sess.FailureReason = "stock reservation expired"
	if err := s.expire(ctx, sess); err != nil {
		return err
	}
	return apperrors.SessionExpired(sess.ID)
}

// failCaptured ends a session whose payment was captured but whose order could
// not be created. Any stock still held and the claimed discounts are returned;
// the session keeps the transaction id so the charge can be refunded.
func (s *Service) failCaptured(ctx context.Context, sess *domain.CheckoutSession, expected int, reason string, cause error) {
	s.quoter.Discounts().Release(ctx, sess.AppliedDiscountIDs, sess.ID)
	s.releaseQuietly(ctx, sess.ID, sess.ReservationID, inventory.ReasonAborted)

	s.logger.ErrorContext(ctx, "payment captured but order not created, refund required",
		slog.String("checkout_id", sess.ID),
		slog.String("reservation_id", sess.ReservationID),
		slog.String("transaction_id", sess.TransactionID),
		slog.String("reason", reason),
		slog.String("error", cause.Error()),
	)
	s.metrics.Checkout("capture_failed")

	sess.FailureReason = reason
	sess.ClientSecret = ""
	if err := transition(sess, domain.CheckoutFailed); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark checkout session failed",
			slog.String("checkout_id", sess.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.save(ctx, sess, expected); err != nil {
		s.logger.ErrorContext(ctx, "failed to save failed checkout session",
			slog.String("checkout_id", sess.ID),
			slog.String("transaction_id", sess.TransactionID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.producer.PublishCheckout(ctx, event.CheckoutFailed, sess); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish checkout.failed event",
			slog.String("checkout_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}
}

// releaseHold releases the session's reservation, if any, and forgets the
// payment intent that was opened for it.
func (s *Service) releaseHold(ctx context.Context, sess *domain.CheckoutSession, reason string) error {
	if sess.ReservationID == "" {
		return nil
	}
	if err := s.inventory.Release(ctx, sess.ReservationID, reason); err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	sess.ReservationID = ""
	sess.PaymentIntentID = ""
	sess.ClientSecret = ""
	return nil
}

func (s *Service) releaseQuietly(ctx context.Context, sessionID, reservationID, reason string) {
	if err := s.inventory.Release(ctx, reservationID, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to release reservation",
			slog.String("checkout_id", sessionID),
			slog.String("reservation_id", reservationID),
			slog.String("error", err.Error()),
		)
	}
}

// abandonPayment releases the hold, records why payment could not proceed
// and moves the session to status. Failures are logged because the caller is
// already returning an error.
func (s *Service) abandonPayment(
	ctx context.Context,
	sess *domain.CheckoutSession,
	expected int,
	failure, releaseReason string,
	status domain.CheckoutStatus,
) {
	if err := s.releaseHold(ctx, sess, releaseReason); err != nil {
		s.logger.ErrorContext(ctx, "failed to release reservation after payment failure",
			slog.String("checkout_id", sess.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	sess.FailureReason = failure
	if err := transition(sess, status); err != nil {
		s.logger.ErrorContext(ctx, "failed to step back checkout session",
			slog.String("checkout_id", sess.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.save(ctx, sess, expected); err != nil {
		s.logger.ErrorContext(ctx, "failed to save checkout session after payment failure",
			slog.String("checkout_id", sess.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.WarnContext(ctx, "checkout payment abandoned",
		slog.String("checkout_id", sess.ID),
		slog.String("reason", failure),
		slog.String("status", string(sess.Status)),
		slog.Int("payment_attempts", sess.PaymentAttempts),
	)
}

// recompute reprices the snapshot lines with the current discounts, shipping
// method and address.
func (s *Service) recompute(ctx context.Context, sess *domain.CheckoutSession) error {
	q, err := s.quoter.Quote(ctx, cart.QuoteInput{
		Currency:        sess.Currency,
		Lines:           sess.Lines,
		CouponCode:      sess.CouponCode,
		CustomerID:      sess.Owner.CustomerID,
		ShippingMethod:  sess.ShippingMethod,
		ShippingAddress: sess.ShippingAddress,
	})
	if err != nil {
		return fmt.Errorf("quote checkout: %w", err)
	}
	sess.Lines = q.Lines
	sess.Totals = q.Totals
	sess.AppliedDiscountIDs = q.AppliedDiscountIDs
	return nil
}

func (s *Service) save(ctx context.Context, sess *domain.CheckoutSession, expected int) error {
	sess.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateIfVersion(ctx, sess, expected); err != nil {
		return fmt.Errorf("update checkout session: %w", err)
	}
	return nil
}

func transition(sess *domain.CheckoutSession, to domain.CheckoutStatus) error {
	if sess.Status == to {
		return nil
	}
	if err := domain.CheckoutTransitions.Check("checkout session", sess.Status, to); err != nil {
		return err
	}
	sess.Status = to
	return nil
}

func reservationLines(lines []domain.CartItem) []domain.ReservationLine {
	out := make([]domain.ReservationLine, len(lines))
	for i, l := range lines {
		out[i] = domain.ReservationLine{SKU: l.SKU, Quantity: l.Quantity}
	}
	return out
}
