// Package cart implements the cart aggregate: the mutable basket a shopper
// builds before checkout.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/discount"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/event"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/metrics"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/provider"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/clock"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/keylock"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/validator"
)

// Cart operation upper-bound limits to prevent abuse.
const (
	// MaxQuantityPerItem is the maximum quantity allowed for a single cart item.
	MaxQuantityPerItem = 100
	// MaxItemsPerCart is the maximum number of distinct items allowed in a cart.
	MaxItemsPerCart = 50
)

const (
	maxConflictRetries = 3
	conflictBaseWait   = 10 * time.Millisecond
)

// StockChecker reports how many units of a SKU can still be reserved.
type StockChecker interface {
	GetStock(ctx context.Context, sku domain.SKU) (int, error)
}

// AddItemInput holds the parameters for adding an item to the cart.
type AddItemInput struct {
	ProductID string `json:"product_id" validate:"required"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity" validate:"required,gte=1"`
}

// Service implements the business logic for cart operations.
type Service struct {
	repo     repository.CartRepository
	products repository.ProductRepository
	stock    StockChecker
	quoter   *Quoter
	shipping provider.ShippingRateSource
	producer *event.Producer
	metrics  *metrics.Metrics
	clock    clock.Clock
	logger   *slog.Logger
	currency string
	locks    *keylock.Locker
}

// NewService creates a new cart service. New carts are priced in currency.
func NewService(
	repo repository.CartRepository,
	products repository.ProductRepository,
	stock StockChecker,
	quoter *Quoter,
	shipping provider.ShippingRateSource,
	producer *event.Producer,
	m *metrics.Metrics,
	clk clock.Clock,
	logger *slog.Logger,
	currency string,
) *Service {
	return &Service{
		repo:     repo,
		products: products,
		stock:    stock,
		quoter:   quoter,
		shipping: shipping,
		producer: producer,
		metrics:  m,
		clock:    clk,
		logger:   logger,
		currency: currency,
		locks:    keylock.New(),
	}
}

// GetCart retrieves the cart for an owner. If no cart exists, returns an
// unsaved empty cart.
func (s *Service) GetCart(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	if owner.IsZero() {
		return nil, apperrors.InvalidInput("customer id or session id is required")
	}
	cart, err := s.repo.Get(ctx, owner.Key())
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return s.newEmptyCart(owner), nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return cart, nil
}

// AddItem adds units of a SKU. A line for the same SKU is merged and its
// price snapshot refreshed to the current price. Stock is checked but not
// reserved. A change in parcel weight drops the selected shipping method.
func (s *Service) AddItem(ctx context.Context, owner domain.Owner, input AddItemInput) (*domain.Cart, error) {
	if err := validator.Validate(&input); err != nil {
		return nil, err
	}
	if input.Quantity > MaxQuantityPerItem {
		return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
	}

	sku := domain.SKU{ProductID: input.ProductID, VariantID: input.VariantID}
	product, err := s.products.GetProduct(ctx, sku.ProductID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	variant, err := resolveVariant(product, sku)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	price := s.quoter.Pricer().ResolveUnitPrice(ctx, product, variant)

	return s.mutate(ctx, owner, mutation{
		event: event.CartUpdated,
		apply: func(c *domain.Cart) error {
			if price.Currency != c.Currency {
				return apperrors.InvalidInput(fmt.Sprintf("product is priced in %s, cart currency is %s", price.Currency, c.Currency))
			}
			idx := c.FindItem(sku)
			qty := input.Quantity
			if idx >= 0 {
				qty += c.Items[idx].Quantity
			}
			if qty > MaxQuantityPerItem {
				return apperrors.InvalidInput(fmt.Sprintf("combined quantity must not exceed %d", MaxQuantityPerItem))
			}
			if idx < 0 && len(c.Items) >= MaxItemsPerCart {
				return apperrors.InvalidInput(fmt.Sprintf("cart must not contain more than %d items", MaxItemsPerCart))
			}
			if err := s.checkStock(ctx, sku, qty); err != nil {
				return err
			}
			defer dropStaleShipping(c, c.WeightGrams())

			item := domain.CartItem{
				SKU:         sku,
				Name:        product.DisplayName(variant),
				Quantity:    qty,
				UnitPrice:   price,
				CategoryIDs: append([]string(nil), product.CategoryIDs...),
				TaxClass:    product.TaxClass,
				WeightGrams: product.WeightFor(variant),
			}
			if idx >= 0 {
				item.ID = c.Items[idx].ID
				c.Items[idx] = item
				return nil
			}
			item.ID = uuid.New().String()
			c.Items = append(c.Items, item)
			return nil
		},
	})
}

// UpdateQuantity sets the quantity of a line. Zero removes it. A change in
// parcel weight drops the selected shipping method.
func (s *Service) UpdateQuantity(ctx context.Context, owner domain.Owner, itemID string, quantity int) (*domain.Cart, error) {
	if itemID == "" {
		return nil, apperrors.InvalidInput("item id is required")
	}
	if quantity < 0 {
		return nil, apperrors.InvalidInput("quantity must not be negative")
	}
	if quantity > MaxQuantityPerItem {
		return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
	}

	return s.mutate(ctx, owner, mutation{
		event:     event.CartUpdated,
		mustExist: true,
		apply: func(c *domain.Cart) error {
			idx := c.FindItemByID(itemID)
			if idx < 0 {
				return apperrors.NotFound("cart item", itemID)
			}
			defer dropStaleShipping(c, c.WeightGrams())
			if quantity == 0 {
				c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
				return nil
			}
			if err := s.checkStock(ctx, c.Items[idx].SKU, quantity); err != nil {
				return err
			}
			c.Items[idx].Quantity = quantity
			return nil
		},
	})
}

// dropStaleShipping clears the selected method when the parcel no longer
// weighs what it was quoted for.
func dropStaleShipping(c *domain.Cart, quotedWeight int) {
	if c.WeightGrams() != quotedWeight {
		c.ShippingMethod = nil
	}
}

// RemoveItem removes a line from the cart.
func (s *Service) RemoveItem(ctx context.Context, owner domain.Owner, itemID string) (*domain.Cart, error) {
	return s.UpdateQuantity(ctx, owner, itemID, 0)
}

// Clear removes every line and the selected shipping method.
func (s *Service) Clear(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	return s.mutate(ctx, owner, mutation{
		event:     event.CartCleared,
		mustExist: true,
		apply: func(c *domain.Cart) error {
			c.Items = nil
			c.ShippingMethod = nil
			return nil
		},
	})
}

// ApplyCoupon validates a coupon against the cart and makes it the cart's
// only coupon, replacing any previous one.
func (s *Service) ApplyCoupon(ctx context.Context, owner domain.Owner, code string) (*domain.Cart, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperrors.InvalidInput("coupon code is required")
	}

	return s.mutate(ctx, owner, mutation{
		event: event.CartUpdated,
		apply: func(c *domain.Cart) error {
			v, err := s.quoter.Discounts().ValidateCoupon(ctx, code, basketOf(c))
			if err != nil {
				return fmt.Errorf("validate coupon: %w", err)
			}
			if !v.Valid {
				return v.Err()
			}
			c.CouponCode = v.Discount.Code
			return nil
		},
	})
}

// RemoveCoupon drops the cart's coupon.
func (s *Service) RemoveCoupon(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	return s.mutate(ctx, owner, mutation{
		event:     event.CartUpdated,
		mustExist: true,
		apply: func(c *domain.Cart) error {
			c.CouponCode = ""
			return nil
		},
	})
}

// SetShippingAddress stores the shipping address. A different address
// invalidates the selected shipping method.
func (s *Service) SetShippingAddress(ctx context.Context, owner domain.Owner, addr domain.Address) (*domain.Cart, error) {
	if err := validator.Validate(&addr); err != nil {
		return nil, err
	}
	return s.mutate(ctx, owner, mutation{
		event: event.CartUpdated,
		apply: func(c *domain.Cart) error {
			if !c.ShippingAddress.SameAs(&addr) {
				c.ShippingMethod = nil
			}
			c.ShippingAddress = addr.Clone()
			return nil
		},
	})
}

// SetBillingAddress stores the billing address.
func (s *Service) SetBillingAddress(ctx context.Context, owner domain.Owner, addr domain.Address) (*domain.Cart, error) {
	if err := validator.Validate(&addr); err != nil {
		return nil, err
	}
	return s.mutate(ctx, owner, mutation{
		event: event.CartUpdated,
		apply: func(c *domain.Cart) error {
			c.BillingAddress = addr.Clone()
			return nil
		},
	})
}

// ShippingOptions quotes shipping for the cart's address and parcel.
func (s *Service) ShippingOptions(ctx context.Context, owner domain.Owner) ([]domain.ShippingOption, error) {
	cart, err := s.GetCart(ctx, owner)
	if err != nil {
		return nil, err
	}
	return s.optionsFor(ctx, cart)
}

// SetShippingMethod selects one of the options currently quoted for the
// cart's address and weight.
func (s *Service) SetShippingMethod(ctx context.Context, owner domain.Owner, methodID string) (*domain.Cart, error) {
	if methodID == "" {
		return nil, apperrors.InvalidInput("shipping method id is required")
	}
	return s.mutate(ctx, owner, mutation{
		event:     event.CartUpdated,
		mustExist: true,
		apply: func(c *domain.Cart) error {
			options, err := s.optionsFor(ctx, c)
			if err != nil {
				return err
			}
			for i := range options {
				if options[i].ID == methodID {
					opt := options[i]
					c.ShippingMethod = &opt
					return nil
				}
			}
			return apperrors.ValidationFailed("shipping method is not available", map[string]string{
				"shipping_method_id": fmt.Sprintf("%q is not offered for this address", methodID),
			})
		},
	})
}

// ValidateForCheckout re-checks every line against current catalog prices
// and stock without modifying the cart.
func (s *Service) ValidateForCheckout(ctx context.Context, owner domain.Owner) ([]Issue, error) {
	cart, err := s.GetCart(ctx, owner)
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, apperrors.EmptyCart(cart.ID)
	}
	return s.ValidateLines(ctx, cart.Items)
}

// MarkCheckedOut empties the cart after its checkout completed. cartID
// guards against marking a cart that replaced the checked-out one.
func (s *Service) MarkCheckedOut(ctx context.Context, owner domain.Owner, cartID string) (*domain.Cart, error) {
	return s.mutate(ctx, owner, mutation{
		event:     event.CartCleared,
		target:    domain.CartCheckedOut,
		mustExist: true,
		apply: func(c *domain.Cart) error {
			if c.ID != cartID {
				return apperrors.NotFound("cart", cartID)
			}
			c.Items = nil
			c.CouponCode = ""
			c.ShippingMethod = nil
			return nil
		},
	})
}

// MarkAbandoned flags an idle cart. Items are kept so the shopper can resume.
func (s *Service) MarkAbandoned(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	return s.mutate(ctx, owner, mutation{
		event:     event.CartUpdated,
		target:    domain.CartAbandoned,
		mustExist: true,
		apply:     func(*domain.Cart) error { return nil },
	})
}

// mutation describes one read-modify-write of a cart.
type mutation struct {
	event string
	// target overrides the status derived from the cart's contents.
	target    domain.CartStatus
	mustExist bool
	apply     func(c *domain.Cart) error
}

// mutate applies m under the owner's lock and saves with an optimistic
// version check, retrying a conflicting save with a fresh read.
func (s *Service) mutate(ctx context.Context, owner domain.Owner, m mutation) (*domain.Cart, error) {
	if owner.IsZero() {
		return nil, apperrors.InvalidInput("customer id or session id is required")
	}
	unlock := s.locks.Lock(owner.Key())
	defer unlock()

	var lastErr error
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		if attempt > 0 {
			s.metrics.CartConflict()
			wait := conflictBackoff(attempt - 1)
			s.logger.WarnContext(ctx, "cart version conflict, retrying",
				slog.String("owner", owner.Key()),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", wait),
			)
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, fmt.Errorf("save cart: %w", err)
			}
		}

		cart, err := s.load(ctx, owner, m.mustExist)
		if err != nil {
			return nil, err
		}
		expectedVersion := cart.Version

		if err := m.apply(cart); err != nil {
			return nil, err
		}
		if err := settleStatus(cart, m.target); err != nil {
			return nil, err
		}
		if err := s.recompute(ctx, cart); err != nil {
			return nil, err
		}
		cart.UpdatedAt = s.clock.Now()

		err = s.repo.SaveIfVersion(ctx, cart, expectedVersion)
		if err == nil {
			s.logger.InfoContext(ctx, "cart updated",
				slog.String("cart_id", cart.ID),
				slog.String("owner", owner.Key()),
				slog.String("status", string(cart.Status)),
				slog.Int("items", len(cart.Items)),
				slog.String("total", cart.Totals.Total.String()),
			)
			if err := s.producer.PublishCart(ctx, m.event, cart); err != nil {
				s.logger.ErrorContext(ctx, "failed to publish cart event",
					slog.String("cart_id", cart.ID),
					slog.String("error", err.Error()),
				)
			}
			return cart, nil
		}
		if !apperrors.IsRetryable(err) {
			return nil, fmt.Errorf("save cart: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("save cart: %w", lastErr)
}

func (s *Service) load(ctx context.Context, owner domain.Owner, mustExist bool) (*domain.Cart, error) {
	cart, err := s.repo.Get(ctx, owner.Key())
	if err == nil {
		// Owner email may be learned after the cart was created.
		if owner.Email != "" {
			cart.Owner.Email = owner.Email
		}
		return cart, nil
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		if mustExist {
			return nil, apperrors.NotFound("cart", owner.Key())
		}
		return s.newEmptyCart(owner), nil
	}
	return nil, fmt.Errorf("get cart: %w", err)
}

// recompute refreshes line totals, discounts and totals. A coupon that no
// longer validates stays on the cart but is not applied.
func (s *Service) recompute(ctx context.Context, c *domain.Cart) error {
	q, err := s.quoter.Quote(ctx, QuoteInput{
		Currency:        c.Currency,
		Lines:           c.Items,
		CouponCode:      c.CouponCode,
		CustomerID:      c.Owner.CustomerID,
		ShippingMethod:  c.ShippingMethod,
		ShippingAddress: c.ShippingAddress,
	})
	if err != nil {
		return fmt.Errorf("quote cart: %w", err)
	}
	c.Items = q.Lines
	c.Totals = q.Totals
	c.AppliedDiscountIDs = q.AppliedDiscountIDs
	return nil
}

func (s *Service) optionsFor(ctx context.Context, c *domain.Cart) ([]domain.ShippingOption, error) {
	if c.ShippingAddress == nil {
		return nil, apperrors.InvalidState("shipping address must be set before choosing shipping")
	}
	if len(c.Items) == 0 {
		return nil, apperrors.EmptyCart(c.ID)
	}
	return QuoteShipping(ctx, s.shipping, *c.ShippingAddress, c.Items, c.Currency)
}

func (s *Service) checkStock(ctx context.Context, sku domain.SKU, quantity int) error {
	available, err := s.stock.GetStock(ctx, sku)
	if err != nil {
		return fmt.Errorf("get stock: %w", err)
	}
	if quantity > available {
		return apperrors.InsufficientStock(sku.Key(), quantity, available)
	}
	return nil
}

func (s *Service) newEmptyCart(owner domain.Owner) *domain.Cart {
	now := s.clock.Now()
	return &domain.Cart{
		ID:        uuid.New().String(),
		Owner:     owner,
		Status:    domain.CartEmpty,
		Currency:  s.currency,
		Items:     []domain.CartItem{},
		Totals:    domain.ZeroTotals(s.currency),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// QuoteShipping asks src for the options that ship the given lines to addr,
// keeping only options priced in currency.
func QuoteShipping(
	ctx context.Context,
	src provider.ShippingRateSource,
	addr domain.Address,
	lines []domain.CartItem,
	currency string,
) ([]domain.ShippingOption, error) {
	value := money.Zero(currency)
	units := 0
	for _, l := range lines {
		value = value.Add(l.UnitPrice.MulInt(l.Quantity))
		units += l.Quantity
	}
	options, err := src.GetOptions(ctx, addr, provider.Parcel{
		WeightGrams: domain.LinesWeight(lines),
		ItemCount:   units,
		Value:       value.Round(),
	})
	if err != nil {
		return nil, fmt.Errorf("get shipping options: %w", err)
	}

	out := make([]domain.ShippingOption, 0, len(options))
	for _, o := range options {
		if o.Cost.Currency == currency {
			out = append(out, o)
		}
	}
	return out, nil
}

// settleStatus moves the cart to target, or to Active/Empty by its contents
// when target is empty.
func settleStatus(c *domain.Cart, target domain.CartStatus) error {
	to := target
	if to == "" {
		to = domain.CartEmpty
		if len(c.Items) > 0 {
			to = domain.CartActive
		}
	}
	if to == c.Status {
		return nil
	}
	if err := domain.CartTransitions.Check("cart", c.Status, to); err != nil {
		return err
	}
	c.Status = to
	return nil
}

func basketOf(c *domain.Cart) discount.Basket {
	shipping := money.Zero(c.Currency)
	if c.ShippingMethod != nil && c.ShippingMethod.Cost.Currency == c.Currency {
		shipping = c.ShippingMethod.Cost
	}
	return discount.Basket{
		Currency:   c.Currency,
		Lines:      c.Items,
		Shipping:   shipping,
		CustomerID: c.Owner.CustomerID,
	}
}

// conflictBackoff returns the wait before conflict retry n (0-indexed):
// 10ms, 20ms, 40ms with ±50% jitter.
func conflictBackoff(n int) time.Duration {
	base := conflictBaseWait << n
	jitter := time.Duration(float64(base) * 0.5 * (2*rand.Float64() - 1)) // #nosec G404 -- retry jitter
	return base + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
