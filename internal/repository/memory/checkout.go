package memory

import (
	"context"
	"sync"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
)

// CheckoutRepository is an in-memory repository.CheckoutRepository.
type CheckoutRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.CheckoutSession
}

var _ repository.CheckoutRepository = (*CheckoutRepository)(nil)

// NewCheckoutRepository creates an empty CheckoutRepository.
func NewCheckoutRepository() *CheckoutRepository {
	return &CheckoutRepository{sessions: make(map[string]*domain.CheckoutSession)}
}

func (r *CheckoutRepository) Create(_ context.Context, s *domain.CheckoutSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID]; exists {
		return apperrors.Conflict("checkout session " + s.ID + " already exists")
	}
	s.Version = 1
	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *CheckoutRepository) GetByID(_ context.Context, id string) (*domain.CheckoutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("checkout session", id)
	}
	return s.Clone(), nil
}

func (r *CheckoutRepository) UpdateIfVersion(_ context.Context, s *domain.CheckoutSession, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[s.ID]
	if !ok {
		return apperrors.NotFound("checkout session", s.ID)
	}
	if stored.Version != expectedVersion {
		return apperrors.Conflict("checkout session " + s.ID + " was modified concurrently")
	}
	s.Version = expectedVersion + 1
	r.sessions[s.ID] = s.Clone()
	return nil
}
