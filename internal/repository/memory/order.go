package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
)

// OrderRepository is an in-memory repository.OrderRepository.
type OrderRepository struct {
	mu       sync.Mutex
	orders   map[string]*domain.Order
	byNumber map[string]string
}

var _ repository.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository creates an empty OrderRepository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:   make(map[string]*domain.Order),
		byNumber: make(map[string]string),
	}
}

func (r *OrderRepository) Create(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byNumber[o.Number]; taken {
		return repository.ErrDuplicateNumber
	}
	if _, exists := r.orders[o.ID]; exists {
		return apperrors.Conflict("order " + o.ID + " already exists")
	}
	o.Version = 1
	r.orders[o.ID] = o.Clone()
	r.byNumber[o.Number] = o.ID
	return nil
}

func (r *OrderRepository) GetByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	return o.Clone(), nil
}

func (r *OrderRepository) GetByNumber(_ context.Context, number string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byNumber[number]
	if !ok {
		return nil, apperrors.NotFound("order", number)
	}
	return r.orders[id].Clone(), nil
}

func (r *OrderRepository) ListByCustomer(_ context.Context, customerID string, limit, offset int) ([]domain.Order, int, error) {
	r.mu.Lock()
	matched := make([]*domain.Order, 0)
	for _, o := range r.orders {
		if o.CustomerID == customerID {
			matched = append(matched, o)
		}
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return []domain.Order{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]domain.Order, 0, end-offset)
	for _, o := range matched[offset:end] {
		out = append(out, *o.Clone())
	}
	return out, total, nil
}

func (r *OrderRepository) UpdateIfVersion(_ context.Context, o *domain.Order, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[o.ID]
	if !ok {
		return apperrors.NotFound("order", o.ID)
	}
	if stored.Version != expectedVersion {
		return apperrors.Conflict("order " + o.ID + " was modified concurrently")
	}
	o.Version = expectedVersion + 1
	r.orders[o.ID] = o.Clone()
	return nil
}
