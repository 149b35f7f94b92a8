package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/database"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/money"
)

// ProductRepository implements repository.ProductRepository using PostgreSQL.
// The catalog is owned elsewhere; this is the read model pricing needs.
type ProductRepository struct {
	pool database.DBTX
}

var _ repository.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository creates a new PostgreSQL-backed product repository.
func NewProductRepository(pool database.DBTX) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetProduct retrieves a product and its variants by id.
func (r *ProductRepository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	query := `
		SELECT id, name, currency, base_price, sale_price, sale_ends_at,
			category_ids, tax_class, weight_grams, active, variants, updated_at
		FROM products
		WHERE id = $1`

	var (
		p            domain.Product
		currency     string
		basePrice    decimal.Decimal
		salePrice    decimal.NullDecimal
		variantsJSON []byte
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&currency,
		&basePrice,
		&salePrice,
		&p.SaleEndsAt,
		&p.CategoryIDs,
		&p.TaxClass,
		&p.WeightGrams,
		&p.Active,
		&variantsJSON,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("product", id)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	p.BasePrice = money.New(basePrice, currency)
	if salePrice.Valid {
		sale := money.New(salePrice.Decimal, currency)
		p.SalePrice = &sale
	}
	if len(variantsJSON) > 0 {
		if err := json.Unmarshal(variantsJSON, &p.Variants); err != nil {
			return nil, fmt.Errorf("unmarshal variants: %w", err)
		}
	}
	return &p, nil
}

// Upsert writes a product snapshot. It is used by catalog sync and seeding.
func (r *ProductRepository) Upsert(ctx context.Context, p *domain.Product) error {
	variantsJSON, err := json.Marshal(p.Variants)
	if err != nil {
		return fmt.Errorf("marshal variants: %w", err)
	}

	var salePrice decimal.NullDecimal
	if p.SalePrice != nil {
		salePrice = decimal.NullDecimal{Decimal: p.SalePrice.Amount, Valid: true}
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO products (
			id, name, currency, base_price, sale_price, sale_ends_at,
			category_ids, tax_class, weight_grams, active, variants, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			currency = EXCLUDED.currency,
			base_price = EXCLUDED.base_price,
			sale_price = EXCLUDED.sale_price,
			sale_ends_at = EXCLUDED.sale_ends_at,
			category_ids = EXCLUDED.category_ids,
			tax_class = EXCLUDED.tax_class,
			weight_grams = EXCLUDED.weight_grams,
			active = EXCLUDED.active,
			variants = EXCLUDED.variants,
			updated_at = EXCLUDED.updated_at`

	_, err = r.pool.Exec(ctx, query,
		p.ID,
		p.Name,
		p.BasePrice.Currency,
		p.BasePrice.Amount,
		salePrice,
		p.SaleEndsAt,
		p.CategoryIDs,
		p.TaxClass,
		p.WeightGrams,
		p.Active,
		variantsJSON,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}
