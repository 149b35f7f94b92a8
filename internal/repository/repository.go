package repository

import (
	"context"
	"errors"
	"time"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
)

// ErrDuplicateNumber is returned by OrderRepository.Create when the order
// number is already taken.
var ErrDuplicateNumber = errors.New("order number already exists")

// LedgerStore persists stock records, reservations and stock movements.
// All mutations go through InTx so that a multi-SKU reservation is applied
// atomically.
type LedgerStore interface {
	// InTx runs fn in a unit of work. Writes staged through tx are applied
	// only if fn returns nil; row locks taken through tx are held until it ends.
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error

	// GetStock reads a stock record without locking it.
	GetStock(ctx context.Context, sku domain.SKU) (*domain.StockRecord, error)

	// GetReservation reads a reservation without locking it.
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)

	// ListExpiredReservations returns ids of held reservations whose expiry is before now.
	ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]string, error)

	// ListMovements returns the newest stock movements for a SKU, newest first.
	ListMovements(ctx context.Context, sku domain.SKU, limit int) ([]domain.StockMovement, error)
}

// LedgerTx is the locked view of the ledger inside LedgerStore.InTx.
// Callers lock in the order owner, reservation, then stock by sorted SKU key.
type LedgerTx interface {
	// LockOwner serializes reservation creation for a single owner.
	LockOwner(ctx context.Context, ownerID string) error

	// ActiveReservationFor returns the owner's held or committed reservation, or nil.
	ActiveReservationFor(ctx context.Context, ownerID string) (*domain.Reservation, error)

	// LockStock reads a stock record and holds its row lock until the unit of work ends.
	LockStock(ctx context.Context, sku domain.SKU) (*domain.StockRecord, error)

	// SaveStock inserts or updates a stock record.
	SaveStock(ctx context.Context, rec *domain.StockRecord) error

	// LockReservation reads a reservation and holds its row lock.
	LockReservation(ctx context.Context, id string) (*domain.Reservation, error)

	// SaveReservation inserts or updates a reservation.
	SaveReservation(ctx context.Context, res *domain.Reservation) error

	// AppendMovement records a stock movement.
	AppendMovement(ctx context.Context, m *domain.StockMovement) error
}

// CartRepository persists carts keyed by owner.
type CartRepository interface {
	// Get retrieves the cart for an owner key.
	Get(ctx context.Context, ownerKey string) (*domain.Cart, error)

	// SaveIfVersion stores the cart only if the stored version equals
	// expectedVersion (0 for a cart that has never been saved). On success
	// cart.Version is set to expectedVersion+1.
	SaveIfVersion(ctx context.Context, cart *domain.Cart, expectedVersion int) error

	// Delete removes the cart for an owner key.
	Delete(ctx context.Context, ownerKey string) error
}

// CheckoutRepository persists checkout sessions.
type CheckoutRepository interface {
	// Create inserts a new session with version 1.
	Create(ctx context.Context, session *domain.CheckoutSession) error

	// GetByID retrieves a session by its id.
	GetByID(ctx context.Context, id string) (*domain.CheckoutSession, error)

	// UpdateIfVersion stores the session only if the stored version equals
	// expectedVersion, then bumps session.Version.
	UpdateIfVersion(ctx context.Context, session *domain.CheckoutSession, expectedVersion int) error
}

// OrderRepository persists orders.
type OrderRepository interface {
	// Create inserts a new order with version 1. Returns ErrDuplicateNumber on a number clash.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID retrieves an order by its id.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// GetByNumber retrieves an order by its human-readable number.
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)

	// ListByCustomer returns a page of a customer's orders, newest first, and the total count.
	ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]domain.Order, int, error)

	// UpdateIfVersion stores the order only if the stored version equals expectedVersion.
	UpdateIfVersion(ctx context.Context, order *domain.Order, expectedVersion int) error
}

// DiscountRepository persists discounts and their redemptions.
type DiscountRepository interface {
	// ListAutomatic returns active discounts that apply without a code.
	ListAutomatic(ctx context.Context) ([]domain.Discount, error)

	// GetByCode retrieves a coupon by code, case-insensitively.
	GetByCode(ctx context.Context, code string) (*domain.Discount, error)

	// GetByID retrieves a discount by id.
	GetByID(ctx context.Context, id string) (*domain.Discount, error)

	// Save inserts or updates a discount definition.
	Save(ctx context.Context, d *domain.Discount) error

	// CustomerUsage counts a customer's redemptions of a discount.
	CustomerUsage(ctx context.Context, discountID, customerID string) (int, error)

	// ClaimUsage atomically checks the total and per-customer limits of the
	// discount and records the usage. Returns apperrors.ErrUsageLimitReached
	// when either limit is exhausted. Claiming the same (discount, reference)
	// twice is a no-op.
	ClaimUsage(ctx context.Context, usage *domain.DiscountUsage) error

	// ReleaseUsage removes the usage recorded for (discount, reference), if any.
	ReleaseUsage(ctx context.Context, discountID, referenceID string) error
}

// ProductRepository reads the catalog data pricing needs.
type ProductRepository interface {
	// GetProduct retrieves a product with its variants.
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}
