package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/database"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
)

const (
	advisoryLockQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`

	stockColumns = `product_id, variant_id, on_hand, reserved, low_stock_threshold, allow_backorder, version, updated_at`

	reservationColumns = `id, owner_id, lines, state, created_at, expires_at,
		committed_at, released_at, restocked_at, version`

	movementColumns = `id, product_id, variant_id, kind, delta, reason, actor, reference_id, balance, created_at`

	lockStockQuery = `SELECT ` + stockColumns + ` FROM stock
		WHERE product_id = $1 AND variant_id = $2
		FOR UPDATE`

	lockReservationQuery = `SELECT ` + reservationColumns + ` FROM reservations
		WHERE id = $1
		FOR UPDATE`
)

// LedgerStore implements repository.LedgerStore using PostgreSQL. Row locks
// are SELECT ... FOR UPDATE inside one transaction per unit of work. Owners
// and stock keys are additionally serialized with transaction-scoped advisory
// locks so that first-time rows cannot be created twice.
type LedgerStore struct {
	pool database.DBTX
}

var _ repository.LedgerStore = (*LedgerStore)(nil)

// NewLedgerStore creates a new PostgreSQL-backed ledger store.
func NewLedgerStore(pool database.DBTX) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// InTx runs fn inside a database transaction and commits if it returns nil.
func (s *LedgerStore) InTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetStock reads a stock record without locking it.
func (s *LedgerStore) GetStock(ctx context.Context, sku domain.SKU) (*domain.StockRecord, error) {
	query := `SELECT ` + stockColumns + ` FROM stock WHERE product_id = $1 AND variant_id = $2`

	rec, err := scanStock(s.pool.QueryRow(ctx, query, sku.ProductID, sku.VariantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("stock", sku.Key())
		}
		return nil, fmt.Errorf("get stock: %w", err)
	}
	return rec, nil
}

// GetReservation reads a reservation without locking it.
func (s *LedgerStore) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`

	res, err := scanReservation(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("reservation", id)
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return res, nil
}

// ListExpiredReservations returns ids of held reservations past their
// expiry, oldest first.
func (s *LedgerStore) ListExpiredReservations(ctx context.Context, now time.Time, limit int) (ids []string, err error) {
	query := `
		SELECT id FROM reservations
		WHERE state = 'held' AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2`

	ctx, end := database.TraceQuery(ctx, "ListExpiredReservations", query)
	defer func() { end(err) }()

	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	defer rows.Close()

	ids = make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired reservation: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired reservations: %w", err)
	}
	return ids, nil
}

// ListMovements returns the newest movements for a SKU, newest first.
func (s *LedgerStore) ListMovements(ctx context.Context, sku domain.SKU, limit int) ([]domain.StockMovement, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements
		WHERE product_id = $1 AND variant_id = $2
		ORDER BY created_at DESC, seq DESC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, sku.ProductID, sku.VariantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0)
	for rows.Next() {
		var (
			m    domain.StockMovement
			kind string
		)
		if err := rows.Scan(
			&m.ID,
			&m.SKU.ProductID,
			&m.SKU.VariantID,
			&kind,
			&m.Delta,
			&m.Reason,
			&m.Actor,
			&m.ReferenceID,
			&m.Balance,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		m.Kind = domain.MovementKind(kind)
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock movements: %w", err)
	}
	return movements, nil
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) LockOwner(ctx context.Context, ownerID string) error {
	if _, err := t.tx.Exec(ctx, advisoryLockQuery, "reservation-owner:"+ownerID); err != nil {
		return fmt.Errorf("lock reservation owner: %w", err)
	}
	return nil
}

func (t *ledgerTx) ActiveReservationFor(ctx context.Context, ownerID string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE owner_id = $1
		  AND (state = 'held' OR (state = 'committed' AND restocked_at IS NULL))
		ORDER BY created_at DESC
		LIMIT 1`

	res, err := scanReservation(t.tx.QueryRow(ctx, query, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active reservation: %w", err)
	}
	return res, nil
}

func (t *ledgerTx) LockStock(ctx context.Context, sku domain.SKU) (rec *domain.StockRecord, err error) {
	ctx, end := database.TraceQuery(ctx, "LockStock", lockStockQuery)
	defer func() { end(err) }()

	if _, err = t.tx.Exec(ctx, advisoryLockQuery, "stock:"+sku.Key()); err != nil {
		return nil, fmt.Errorf("lock stock key: %w", err)
	}
	rec, err = scanStock(t.tx.QueryRow(ctx, lockStockQuery, sku.ProductID, sku.VariantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("stock", sku.Key())
		}
		return nil, fmt.Errorf("lock stock: %w", err)
	}
	return rec, nil
}

func (t *ledgerTx) SaveStock(ctx context.Context, rec *domain.StockRecord) error {
	query := `
		INSERT INTO stock (` + stockColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (product_id, variant_id) DO UPDATE SET
			on_hand = EXCLUDED.on_hand,
			reserved = EXCLUDED.reserved,
			low_stock_threshold = EXCLUDED.low_stock_threshold,
			allow_backorder = EXCLUDED.allow_backorder,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at`

	_, err := t.tx.Exec(ctx, query,
		rec.SKU.ProductID,
		rec.SKU.VariantID,
		rec.OnHand,
		rec.Reserved,
		rec.LowStockThreshold,
		rec.AllowBackorder,
		rec.Version,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save stock: %w", err)
	}
	return nil
}

func (t *ledgerTx) LockReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	res, err := scanReservation(t.tx.QueryRow(ctx, lockReservationQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("reservation", id)
		}
		return nil, fmt.Errorf("lock reservation: %w", err)
	}
	return res, nil
}

func (t *ledgerTx) SaveReservation(ctx context.Context, res *domain.Reservation) error {
	linesJSON, err := json.Marshal(res.Lines)
	if err != nil {
		return fmt.Errorf("marshal reservation lines: %w", err)
	}

	query := `
		INSERT INTO reservations (` + reservationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			expires_at = EXCLUDED.expires_at,
			committed_at = EXCLUDED.committed_at,
			released_at = EXCLUDED.released_at,
			restocked_at = EXCLUDED.restocked_at,
			version = EXCLUDED.version`

	_, err = t.tx.Exec(ctx, query,
		res.ID,
		res.OwnerID,
		linesJSON,
		string(res.State),
		res.CreatedAt,
		res.ExpiresAt,
		res.CommittedAt,
		res.ReleasedAt,
		res.RestockedAt,
		res.Version,
	)
	if err != nil {
		return fmt.Errorf("save reservation: %w", err)
	}
	return nil
}

func (t *ledgerTx) AppendMovement(ctx context.Context, m *domain.StockMovement) error {
	query := `INSERT INTO stock_movements (` + movementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := t.tx.Exec(ctx, query,
		m.ID,
		m.SKU.ProductID,
		m.SKU.VariantID,
		string(m.Kind),
		m.Delta,
		m.Reason,
		m.Actor,
		m.ReferenceID,
		m.Balance,
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}
	return nil
}

func scanStock(row pgx.Row) (*domain.StockRecord, error) {
	var rec domain.StockRecord
	err := row.Scan(
		&rec.SKU.ProductID,
		&rec.SKU.VariantID,
		&rec.OnHand,
		&rec.Reserved,
		&rec.LowStockThreshold,
		&rec.AllowBackorder,
		&rec.Version,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var (
		res       domain.Reservation
		linesJSON []byte
		state     string
	)
	err := row.Scan(
		&res.ID,
		&res.OwnerID,
		&linesJSON,
		&state,
		&res.CreatedAt,
		&res.ExpiresAt,
		&res.CommittedAt,
		&res.ReleasedAt,
		&res.RestockedAt,
		&res.Version,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(linesJSON, &res.Lines); err != nil {
		return nil, fmt.Errorf("unmarshal reservation lines: %w", err)
	}
	res.State = domain.ReservationState(state)
	return &res, nil
}
