package memory

import (
	"context"
	"sync"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
)

// CartRepository is an in-memory repository.CartRepository.
type CartRepository struct {
	mu    sync.Mutex
	carts map[string]*domain.Cart
}

var _ repository.CartRepository = (*CartRepository)(nil)

// NewCartRepository creates an empty CartRepository.
func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[string]*domain.Cart)}
}

func (r *CartRepository) Get(_ context.Context, ownerKey string) (*domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[ownerKey]
	if !ok {
		return nil, apperrors.NotFound("cart", ownerKey)
	}
	return cart.Clone(), nil
}

func (r *CartRepository) SaveIfVersion(_ context.Context, cart *domain.Cart, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cart.Owner.Key()
	current := 0
	if stored, ok := r.carts[key]; ok {
		current = stored.Version
	}
	if current != expectedVersion {
		return apperrors.Conflict("cart " + key + " was modified concurrently")
	}
	cart.Version = expectedVersion + 1
	r.carts[key] = cart.Clone()
	return nil
}

func (r *CartRepository) Delete(_ context.Context, ownerKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, ownerKey)
	return nil
}
