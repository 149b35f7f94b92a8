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

const orderNumberConstraint = "orders_number_key"

// OrderRepository implements repository.OrderRepository using PostgreSQL.
// The order aggregate is stored as a JSON document next to the columns it is
// looked up and listed by.
type OrderRepository struct {
	pool database.DBTX
}

var _ repository.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool database.DBTX) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts a new order with version 1.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	doc := order.Clone()
	doc.Version = 1
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	query := `
		INSERT INTO orders (id, number, customer_id, status, version, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.pool.Exec(ctx, query,
		doc.ID,
		doc.Number,
		doc.CustomerID,
		string(doc.Status),
		doc.Version,
		data,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == orderNumberConstraint {
				return repository.ErrDuplicateNumber
			}
			return apperrors.Conflict("order " + doc.ID + " already exists")
		}
		return fmt.Errorf("insert order: %w", err)
	}

	order.Version = 1
	return nil
}

// GetByID retrieves an order by its id.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT document, version FROM orders WHERE id = $1`

	o, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetByNumber retrieves an order by its number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	query := `SELECT document, version FROM orders WHERE number = $1`

	o, err := scanOrder(r.pool.QueryRow(ctx, query, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", number)
		}
		return nil, fmt.Errorf("get order by number: %w", err)
	}
	return o, nil
}

// ListByCustomer returns a page of a customer's orders, newest first, and
// the total number of orders the customer has.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]domain.Order, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE customer_id = $1`, customerID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	if total == 0 || offset >= total {
		return []domain.Order{}, total, nil
	}

	query := `
		SELECT document, version FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, customerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, total, nil
}

// UpdateIfVersion stores the order only if the stored version equals
// expectedVersion, then bumps order.Version.
func (r *OrderRepository) UpdateIfVersion(ctx context.Context, order *domain.Order, expectedVersion int) error {
	doc := order.Clone()
	doc.Version = expectedVersion + 1
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	query := `
		UPDATE orders
		SET status = $1, version = $2, document = $3, updated_at = $4
		WHERE id = $5 AND version = $6`

	ct, err := r.pool.Exec(ctx, query,
		string(doc.Status),
		doc.Version,
		data,
		doc.UpdatedAt,
		doc.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return versionMiss(ctx, r.pool, "orders", "order", doc.ID)
	}

	order.Version = doc.Version
	return nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		data    []byte
		version int
	)
	if err := row.Scan(&data, &version); err != nil {
		return nil, err
	}
	var o domain.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	o.Version = version
	return &o, nil
}

// versionMiss explains a guarded UPDATE that matched no row: the row is
// either gone or was written by someone else since it was read.
func versionMiss(ctx context.Context, db database.DBTX, table, entity, id string) error {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM ` + table + ` WHERE id = $1)`
	if err := db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return fmt.Errorf("check %s exists: %w", entity, err)
	}
	if !exists {
		return apperrors.NotFound(entity, id)
	}
	return apperrors.Conflict(entity + " " + id + " was modified concurrently")
}
