package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/database"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
)

// CheckoutRepository implements repository.CheckoutRepository using PostgreSQL.
type CheckoutRepository struct {
	pool database.DBTX
}

var _ repository.CheckoutRepository = (*CheckoutRepository)(nil)

// NewCheckoutRepository creates a new PostgreSQL-backed checkout repository.
func NewCheckoutRepository(pool database.DBTX) *CheckoutRepository {
	return &CheckoutRepository{pool: pool}
}

// Create inserts a new checkout session with version 1.
func (r *CheckoutRepository) Create(ctx context.Context, session *domain.CheckoutSession) error {
	doc := session.Clone()
	doc.Version = 1
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal checkout session: %w", err)
	}

	query := `
		INSERT INTO checkout_sessions (id, cart_id, status, expires_at, version, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.pool.Exec(ctx, query,
		doc.ID,
		doc.CartID,
		string(doc.Status),
		doc.ExpiresAt,
		doc.Version,
		data,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.Conflict("checkout session " + doc.ID + " already exists")
		}
		return fmt.Errorf("insert checkout session: %w", err)
	}

	session.Version = 1
	return nil
}

// GetByID retrieves a checkout session by its id.
func (r *CheckoutRepository) GetByID(ctx context.Context, id string) (*domain.CheckoutSession, error) {
	query := `SELECT document, version FROM checkout_sessions WHERE id = $1`

	var (
		data    []byte
		version int
	)
	if err := r.pool.QueryRow(ctx, query, id).Scan(&data, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("checkout session", id)
		}
		return nil, fmt.Errorf("get checkout session: %w", err)
	}

	var s domain.CheckoutSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal checkout session: %w", err)
	}
	s.Version = version
	return &s, nil
}

// UpdateIfVersion stores the session only if the stored version equals
// expectedVersion, then bumps session.Version.
func (r *CheckoutRepository) UpdateIfVersion(ctx context.Context, session *domain.CheckoutSession, expectedVersion int) error {
	doc := session.Clone()
	doc.Version = expectedVersion + 1
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal checkout session: %w", err)
	}

	query := `
		UPDATE checkout_sessions
		SET status = $1, expires_at = $2, version = $3, document = $4, updated_at = $5
		WHERE id = $6 AND version = $7`

	ct, err := r.pool.Exec(ctx, query,
		string(doc.Status),
		doc.ExpiresAt,
		doc.Version,
		data,
		doc.UpdatedAt,
		doc.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update checkout session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return versionMiss(ctx, r.pool, "checkout_sessions", "checkout session", doc.ID)
	}

	session.Version = doc.Version
	return nil
}
