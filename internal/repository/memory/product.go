package memory

import (
	"context"
	"sync"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
)

// ProductRepository is an in-memory repository.ProductRepository.
type ProductRepository struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
}

var _ repository.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository creates a ProductRepository seeded with products.
func NewProductRepository(products ...*domain.Product) *ProductRepository {
	r := &ProductRepository{products: make(map[string]*domain.Product)}
	for _, p := range products {
		r.Put(p)
	}
	return r
}

// Put inserts or replaces a product.
func (r *ProductRepository) Put(p *domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p.Clone()
}

func (r *ProductRepository) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return nil, apperrors.NotFound("product", id)
	}
	return p.Clone(), nil
}
