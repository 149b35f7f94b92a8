package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/database"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
)

const uniqueViolation = "23505"

// DiscountRepository implements repository.DiscountRepository using
// PostgreSQL. The definition is stored as a JSON document; the columns that
// are filtered on or updated atomically are kept alongside it.
type DiscountRepository struct {
	pool database.DBTX
}

var _ repository.DiscountRepository = (*DiscountRepository)(nil)

// NewDiscountRepository creates a new PostgreSQL-backed discount repository.
func NewDiscountRepository(pool database.DBTX) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// ListAutomatic returns active discounts without a code.
func (r *DiscountRepository) ListAutomatic(ctx context.Context) ([]domain.Discount, error) {
	query := `
		SELECT definition, usage_count FROM discounts
		WHERE code IS NULL AND active
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list automatic discounts: %w", err)
	}
	defer rows.Close()

	discounts := make([]domain.Discount, 0)
	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan discount: %w", err)
		}
		discounts = append(discounts, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discounts: %w", err)
	}
	return discounts, nil
}

// GetByCode retrieves a coupon by code, case-insensitively.
func (r *DiscountRepository) GetByCode(ctx context.Context, code string) (*domain.Discount, error) {
	query := `SELECT definition, usage_count FROM discounts WHERE code = $1`

	d, err := scanDiscount(r.pool.QueryRow(ctx, query, normalizeCode(code)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("coupon", code)
		}
		return nil, fmt.Errorf("get discount by code: %w", err)
	}
	return d, nil
}

// GetByID retrieves a discount by id.
func (r *DiscountRepository) GetByID(ctx context.Context, id string) (*domain.Discount, error) {
	query := `SELECT definition, usage_count FROM discounts WHERE id = $1`

	d, err := scanDiscount(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("discount", id)
		}
		return nil, fmt.Errorf("get discount: %w", err)
	}
	return d, nil
}

// Save inserts or updates a discount definition. The usage counter is only
// written on insert; afterwards it is owned by ClaimUsage and ReleaseUsage.
func (r *DiscountRepository) Save(ctx context.Context, d *domain.Discount) error {
	definition, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal discount: %w", err)
	}

	var code *string
	if d.Code != "" {
		c := normalizeCode(d.Code)
		code = &c
	}

	query := `
		INSERT INTO discounts (id, code, active, usage_limit, per_customer_limit, usage_count, definition, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			active = EXCLUDED.active,
			usage_limit = EXCLUDED.usage_limit,
			per_customer_limit = EXCLUDED.per_customer_limit,
			definition = EXCLUDED.definition,
			updated_at = EXCLUDED.updated_at`

	_, err = r.pool.Exec(ctx, query,
		d.ID,
		code,
		d.Active,
		d.UsageLimit,
		d.PerCustomerLimit,
		d.UsageCount,
		definition,
		d.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.Conflict("coupon code " + d.Code + " already exists")
		}
		return fmt.Errorf("save discount: %w", err)
	}
	return nil
}

// CustomerUsage counts a customer's redemptions of a discount.
func (r *DiscountRepository) CustomerUsage(ctx context.Context, discountID, customerID string) (int, error) {
	query := `SELECT COUNT(*) FROM discount_usages WHERE discount_id = $1 AND customer_id = $2`

	var n int
	if err := r.pool.QueryRow(ctx, query, discountID, customerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count customer usage: %w", err)
	}
	return n, nil
}

// ClaimUsage locks the discount row, checks both limits and records the
// usage in one transaction.
func (r *DiscountRepository) ClaimUsage(ctx context.Context, usage *domain.DiscountUsage) (err error) {
	ctx, end := database.TraceQuery(ctx, "ClaimUsage", "discount usage claim")
	defer func() { end(err) }()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var usageLimit, perCustomerLimit, usageCount int
	err = tx.QueryRow(ctx,
		`SELECT usage_limit, per_customer_limit, usage_count FROM discounts WHERE id = $1 FOR UPDATE`,
		usage.DiscountID,
	).Scan(&usageLimit, &perCustomerLimit, &usageCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("discount", usage.DiscountID)
		}
		return fmt.Errorf("lock discount: %w", err)
	}

	var claimed bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM discount_usages WHERE discount_id = $1 AND reference_id = $2)`,
		usage.DiscountID, usage.ReferenceID,
	).Scan(&claimed)
	if err != nil {
		return fmt.Errorf("check existing usage: %w", err)
	}
	if claimed {
		return nil
	}

	if usageLimit > 0 && usageCount >= usageLimit {
		return apperrors.UsageLimitReached(usage.DiscountID)
	}
	if perCustomerLimit > 0 && usage.CustomerID != "" {
		var used int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM discount_usages WHERE discount_id = $1 AND customer_id = $2`,
			usage.DiscountID, usage.CustomerID,
		).Scan(&used)
		if err != nil {
			return fmt.Errorf("count customer usage: %w", err)
		}
		if used >= perCustomerLimit {
			return apperrors.UsageLimitReached(usage.DiscountID)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO discount_usages (id, discount_id, customer_id, reference_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		usage.ID,
		usage.DiscountID,
		usage.CustomerID,
		usage.ReferenceID,
		usage.Amount,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert discount usage: %w", err)
	}
	if _, err = tx.Exec(ctx,
		`UPDATE discounts SET usage_count = usage_count + 1 WHERE id = $1`, usage.DiscountID,
	); err != nil {
		return fmt.Errorf("increment usage count: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ReleaseUsage deletes the usage for (discount, reference) and decrements
// the counter if a row was removed.
func (r *DiscountRepository) ReleaseUsage(ctx context.Context, discountID, referenceID string) error {
	query := `
		WITH removed AS (
			DELETE FROM discount_usages
			WHERE discount_id = $1 AND reference_id = $2
			RETURNING discount_id
		)
		UPDATE discounts SET usage_count = GREATEST(usage_count - 1, 0)
		WHERE id IN (SELECT discount_id FROM removed)`

	if _, err := r.pool.Exec(ctx, query, discountID, referenceID); err != nil {
		return fmt.Errorf("release discount usage: %w", err)
	}
	return nil
}

func scanDiscount(row pgx.Row) (*domain.Discount, error) {
	var (
		definition []byte
		usageCount int
	)
	if err := row.Scan(&definition, &usageCount); err != nil {
		return nil, err
	}
	var d domain.Discount
	if err := json.Unmarshal(definition, &d); err != nil {
		return nil, fmt.Errorf("unmarshal discount: %w", err)
	}
	d.UsageCount = usageCount
	return &d, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
