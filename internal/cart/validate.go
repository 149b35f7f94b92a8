package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
)

// IssueKind classifies a problem found by ValidateLines.
type IssueKind string

const (
	IssuePriceChanged         IssueKind = "price_changed"
	IssueOutOfStock           IssueKind = "out_of_stock"
	IssueInsufficientQuantity IssueKind = "insufficient_quantity"
	IssueProductUnavailable   IssueKind = "product_unavailable"
)

// Issue is one line-level problem that blocks checkout.
type Issue struct {
	ItemID    string    `json:"item_id"`
	SKU       string    `json:"sku"`
	Kind      IssueKind `json:"kind"`
	Message   string    `json:"message"`
	Available int       `json:"available,omitempty"`
}

// IssuesError turns issues into a ValidationFailed error with one field per
// offending line.
func IssuesError(issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}
	fields := make(map[string]string, len(issues))
	for _, is := range issues {
		fields["items."+is.ItemID] = string(is.Kind) + ": " + is.Message
	}
	return apperrors.ValidationFailed("cart is not ready for checkout", fields)
}

// ValidateLines re-checks every line's price and stock against the current
// catalog and ledger. It reports one issue per line at most and never
// modifies lines.
func (s *Service) ValidateLines(ctx context.Context, lines []domain.CartItem) ([]Issue, error) {
	issues := make([]Issue, 0)
	for _, line := range lines {
		issue, err := s.validateLine(ctx, line)
		if err != nil {
			return nil, err
		}
		if issue != nil {
			issues = append(issues, *issue)
		}
	}
	return issues, nil
}

func (s *Service) validateLine(ctx context.Context, line domain.CartItem) (*Issue, error) {
	newIssue := func(kind IssueKind, msg string) *Issue {
		return &Issue{ItemID: line.ID, SKU: line.SKU.Key(), Kind: kind, Message: msg}
	}

	product, err := s.products.GetProduct(ctx, line.SKU.ProductID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return newIssue(IssueProductUnavailable, "product no longer exists"), nil
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	variant, err := resolveVariant(product, line.SKU)
	if err != nil {
		return newIssue(IssueProductUnavailable, err.Error()), nil
	}

	price := s.quoter.Pricer().ResolveUnitPrice(ctx, product, variant)
	if !price.Equal(line.UnitPrice) {
		return newIssue(IssuePriceChanged, fmt.Sprintf("price changed from %s to %s", line.UnitPrice, price)), nil
	}

	available, err := s.stock.GetStock(ctx, line.SKU)
	if err != nil {
		return nil, fmt.Errorf("get stock: %w", err)
	}
	switch {
	case available <= 0:
		is := newIssue(IssueOutOfStock, "item is out of stock")
		return is, nil
	case line.Quantity > available:
		is := newIssue(IssueInsufficientQuantity, fmt.Sprintf("only %d available", available))
		is.Available = available
		return is, nil
	}
	return nil, nil
}

// resolveVariant checks that the product and the SKU's variant, if any, can
// be sold.
func resolveVariant(product *domain.Product, sku domain.SKU) (*domain.Variant, error) {
	if !product.Active {
		return nil, errors.New("product is not available")
	}
	if sku.VariantID == "" {
		return nil, nil
	}
	v, ok := product.Variant(sku.VariantID)
	if !ok {
		return nil, errors.New("variant no longer exists")
	}
	if !v.Active {
		return nil, errors.New("variant is not available")
	}
	return v, nil
}
