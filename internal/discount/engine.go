// Package discount evaluates which discounts apply to a basket and composes
// their effect. Evaluation is free of side effects; redemption is recorded
// separately through Claim and Release.
package discount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/metrics"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/clock"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
)

// Reason explains why a discount does not apply.
type Reason string

const (
	ReasonNotFound          Reason = "NotFound"
	ReasonExpired           Reason = "Expired"
	ReasonNotStarted        Reason = "NotStarted"
	ReasonUsageLimitReached Reason = "UsageLimitReached"
	ReasonMinimumNotMet     Reason = "MinimumNotMet"
	ReasonNotApplicable     Reason = "NotApplicable"
)

var reasonMessages = map[Reason]string{
	ReasonNotFound:          "coupon code does not exist",
	ReasonExpired:           "coupon has expired",
	ReasonNotStarted:        "coupon is not active yet",
	ReasonUsageLimitReached: "coupon usage limit has been reached",
	ReasonMinimumNotMet:     "cart does not meet the coupon minimum",
	ReasonNotApplicable:     "coupon does not apply to any item in the cart",
}

// CouponValidation is the outcome of ValidateCoupon. Reason is empty when Valid.
type CouponValidation struct {
	Valid    bool             `json:"valid"`
	Code     string           `json:"code"`
	Discount *domain.Discount `json:"discount,omitempty"`
	Reason   Reason           `json:"reason,omitempty"`
	Message  string           `json:"message"`
}

// Err converts a rejected validation into a COUPON_REJECTED error carrying
// the reason as a field. It returns nil for a valid coupon.
func (v *CouponValidation) Err() error {
	if v.Valid {
		return nil
	}
	appErr := apperrors.ValidationFailed(v.Message, map[string]string{
		"coupon_code": v.Code,
		"reason":      string(v.Reason),
	})
	appErr.Code = "COUPON_REJECTED"
	if v.Reason == ReasonUsageLimitReached {
		appErr.Err = apperrors.ErrUsageLimitReached
	}
	return appErr
}

// Evaluation is the composed discount state of a basket.
type Evaluation struct {
	Result
	// Coupon is the accepted coupon, if a code was given and it validated.
	Coupon *domain.Discount
	// CouponRejection is set when a code was given but did not validate.
	CouponRejection *CouponValidation
}

// Engine evaluates and redeems discounts.
type Engine struct {
	repo    repository.DiscountRepository
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewEngine creates a new discount Engine.
func NewEngine(repo repository.DiscountRepository, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{repo: repo, clock: clk, metrics: m, logger: logger}
}

// SaveDiscount validates and stores a discount definition.
func (e *Engine) SaveDiscount(ctx context.Context, d *domain.Discount) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.Code = strings.ToUpper(strings.TrimSpace(d.Code))
	if err := d.Validate(); err != nil {
		return err
	}
	now := e.clock.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if err := e.repo.Save(ctx, d); err != nil {
		return fmt.Errorf("save discount: %w", err)
	}

	e.logger.InfoContext(ctx, "discount saved",
		slog.String("discount_id", d.ID),
		slog.String("code", d.Code),
		slog.String("type", string(d.Type)),
		slog.String("scope", string(d.Scope)),
	)
	return nil
}

// FindApplicable returns the automatic discounts that apply to the basket,
// sorted for composition.
func (e *Engine) FindApplicable(ctx context.Context, b Basket) ([]domain.Discount, error) {
	candidates, err := e.repo.ListAutomatic(ctx)
	if err != nil {
		return nil, fmt.Errorf("list automatic discounts: %w", err)
	}

	now := e.clock.Now()
	out := make([]domain.Discount, 0, len(candidates))
	for i := range candidates {
		reason, err := e.check(ctx, &candidates[i], b, now)
		if err != nil {
			return nil, err
		}
		if reason == "" {
			out = append(out, candidates[i])
		}
	}
	SortDiscounts(out)
	return out, nil
}

// ValidateCoupon looks a coupon up by code and checks it against the basket.
// A returned error means the check could not be made; a rejection is
// reported in the validation with a specific reason.
func (e *Engine) ValidateCoupon(ctx context.Context, code string, b Basket) (*CouponValidation, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, apperrors.InvalidInput("coupon code is required")
	}

	d, err := e.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return e.reject(ctx, code, ReasonNotFound), nil
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}

	reason, err := e.check(ctx, d, b, e.clock.Now())
	if err != nil {
		return nil, err
	}
	if reason != "" {
		v := e.reject(ctx, code, reason)
		v.Discount = d
		return v, nil
	}
	return &CouponValidation{Valid: true, Code: code, Discount: d, Message: "coupon applied"}, nil
}

func (e *Engine) reject(ctx context.Context, code string, reason Reason) *CouponValidation {
	e.metrics.CouponRejected(string(reason))
	e.logger.DebugContext(ctx, "coupon rejected",
		slog.String("code", code),
		slog.String("reason", string(reason)),
	)
	return &CouponValidation{Code: code, Reason: reason, Message: reasonMessages[reason]}
}

// Evaluate composes the automatic discounts and the coupon, if any, for the
// basket. A coupon that no longer validates is left out and reported in
// CouponRejection.
func (e *Engine) Evaluate(ctx context.Context, b Basket, couponCode string) (*Evaluation, error) {
	discounts, err := e.FindApplicable(ctx, b)
	if err != nil {
		return nil, err
	}

	ev := &Evaluation{}
	if couponCode != "" {
		v, err := e.ValidateCoupon(ctx, couponCode, b)
		if err != nil {
			return nil, err
		}
		if v.Valid {
			ev.Coupon = v.Discount
			discounts = append(discounts, *v.Discount)
			SortDiscounts(discounts)
		} else {
			ev.CouponRejection = v
		}
	}

	ev.Result = Compose(b, discounts)
	return ev, nil
}

// check applies the filters a discount must pass for a basket: active,
// inside its window, usage not exhausted, minimum order amount met,
// targeting at least one line, minimum eligible quantity met.
func (e *Engine) check(ctx context.Context, d *domain.Discount, b Basket, now time.Time) (Reason, error) {
	if !d.Active {
		return ReasonNotApplicable, nil
	}
	if d.Ended(now) {
		return ReasonExpired, nil
	}
	if d.NotStarted(now) {
		return ReasonNotStarted, nil
	}
	if d.UsageExhausted() {
		return ReasonUsageLimitReached, nil
	}
	if d.PerCustomerLimit > 0 && b.CustomerID != "" {
		used, err := e.repo.CustomerUsage(ctx, d.ID, b.CustomerID)
		if err != nil {
			return "", fmt.Errorf("get customer usage: %w", err)
		}
		if used >= d.PerCustomerLimit {
			return ReasonUsageLimitReached, nil
		}
	}
	if !currencyMatches(d, b.Currency) {
		return ReasonNotApplicable, nil
	}
	if d.MinOrderAmount != nil && b.Subtotal().LessThan(money.New(*d.MinOrderAmount, b.Currency)) {
		return ReasonMinimumNotMet, nil
	}

	units := 0
	for _, l := range b.Lines {
		if d.Eligible(l.SKU.ProductID, l.CategoryIDs) {
			units += l.Quantity
		}
	}
	if units == 0 {
		return ReasonNotApplicable, nil
	}
	if d.MinQuantity > 0 && units < d.MinQuantity {
		return ReasonMinimumNotMet, nil
	}
	if d.Type == domain.DiscountBuyXGetY && d.BuyXGetY != nil &&
		units < d.BuyXGetY.BuyQuantity+d.BuyXGetY.GetQuantity {
		return ReasonMinimumNotMet, nil
	}
	return "", nil
}

// Claim records one redemption of each discount for referenceID, stamping
// each with the order's total discount. If any claim fails, the claims
// already made are released and the error returned.
func (e *Engine) Claim(ctx context.Context, discountIDs []string, customerID, referenceID string, total money.Money) error {
	claimed := make([]string, 0, len(discountIDs))
	for _, id := range discountIDs {
		usage := &domain.DiscountUsage{
			ID:          uuid.New().String(),
			DiscountID:  id,
			CustomerID:  customerID,
			ReferenceID: referenceID,
			Amount:      total.Amount,
			CreatedAt:   e.clock.Now(),
		}
		if err := e.repo.ClaimUsage(ctx, usage); err != nil {
			if errors.Is(err, apperrors.ErrUsageLimitReached) {
				e.metrics.CouponRejected(string(ReasonUsageLimitReached))
			}
			e.release(ctx, claimed, referenceID)
			return fmt.Errorf("claim discount %s: %w", id, err)
		}
		claimed = append(claimed, id)
	}

	if len(claimed) > 0 {
		e.logger.InfoContext(ctx, "discount usage claimed",
			slog.String("reference_id", referenceID),
			slog.Int("discounts", len(claimed)),
		)
	}
	return nil
}

// Release removes the redemptions recorded for referenceID. Failures are
// logged, not returned.
func (e *Engine) Release(ctx context.Context, discountIDs []string, referenceID string) {
	e.release(ctx, discountIDs, referenceID)
}

func (e *Engine) release(ctx context.Context, discountIDs []string, referenceID string) {
	for _, id := range discountIDs {
		if err := e.repo.ReleaseUsage(ctx, id, referenceID); err != nil {
			e.logger.ErrorContext(ctx, "failed to release discount usage",
				slog.String("discount_id", id),
				slog.String("reference_id", referenceID),
				slog.String("error", err.Error()),
			)
		}
	}
}
