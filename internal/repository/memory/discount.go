package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
)

// DiscountRepository is an in-memory repository.DiscountRepository.
type DiscountRepository struct {
	mu        sync.Mutex
	discounts map[string]*domain.Discount
	byCode    map[string]string
	usages    []domain.DiscountUsage
}

var _ repository.DiscountRepository = (*DiscountRepository)(nil)

// NewDiscountRepository creates an empty DiscountRepository.
func NewDiscountRepository() *DiscountRepository {
	return &DiscountRepository{
		discounts: make(map[string]*domain.Discount),
		byCode:    make(map[string]string),
	}
}

func (r *DiscountRepository) ListAutomatic(_ context.Context) ([]domain.Discount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Discount, 0)
	for _, d := range r.discounts {
		if d.Active && !d.IsCoupon() {
			out = append(out, *d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *DiscountRepository) GetByCode(_ context.Context, code string) (*domain.Discount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, apperrors.NotFound("coupon", code)
	}
	return r.discounts[id].Clone(), nil
}

func (r *DiscountRepository) GetByID(_ context.Context, id string) (*domain.Discount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.discounts[id]
	if !ok {
		return nil, apperrors.NotFound("discount", id)
	}
	return d.Clone(), nil
}

func (r *DiscountRepository) Save(_ context.Context, d *domain.Discount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.discounts[d.ID]; ok && prev.Code != "" {
		delete(r.byCode, strings.ToUpper(prev.Code))
	}
	if d.Code != "" {
		code := strings.ToUpper(d.Code)
		if owner, taken := r.byCode[code]; taken && owner != d.ID {
			return apperrors.Conflict("coupon code " + d.Code + " already exists")
		}
		r.byCode[code] = d.ID
	}
	r.discounts[d.ID] = d.Clone()
	return nil
}

func (r *DiscountRepository) CustomerUsage(_ context.Context, discountID, customerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.customerUsageLocked(discountID, customerID), nil
}

func (r *DiscountRepository) customerUsageLocked(discountID, customerID string) int {
	n := 0
	for _, u := range r.usages {
		if u.DiscountID == discountID && u.CustomerID == customerID {
			n++
		}
	}
	return n
}

func (r *DiscountRepository) ClaimUsage(_ context.Context, usage *domain.DiscountUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.discounts[usage.DiscountID]
	if !ok {
		return apperrors.NotFound("discount", usage.DiscountID)
	}
	for _, u := range r.usages {
		if u.DiscountID == usage.DiscountID && u.ReferenceID == usage.ReferenceID {
			return nil
		}
	}
	if d.UsageExhausted() {
		return apperrors.UsageLimitReached(d.ID)
	}
	if d.PerCustomerLimit > 0 && usage.CustomerID != "" &&
		r.customerUsageLocked(d.ID, usage.CustomerID) >= d.PerCustomerLimit {
		return apperrors.UsageLimitReached(d.ID)
	}

	r.usages = append(r.usages, *usage)
	d.UsageCount++
	return nil
}

func (r *DiscountRepository) ReleaseUsage(_ context.Context, discountID, referenceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, u := range r.usages {
		if u.DiscountID == discountID && u.ReferenceID == referenceID {
			r.usages = append(r.usages[:i], r.usages[i+1:]...)
			if d, ok := r.discounts[discountID]; ok && d.UsageCount > 0 {
				d.UsageCount--
			}
			return nil
		}
	}
	return nil
}
