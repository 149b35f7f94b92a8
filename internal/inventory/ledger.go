// Package inventory implements the stock ledger: authoritative on-hand
// counts per SKU and the reservations held against them.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/event"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/metrics"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/clock"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
)

// DefaultReservationTTL is used when the ledger is built with a zero TTL.
const DefaultReservationTTL = 15 * time.Minute

// sweepBatchSize bounds how many expired reservations one sweep pass loads.
const sweepBatchSize = 500

// Release reasons recorded on inventory.released events.
const (
	ReasonCancelled     = "cancelled"
	ReasonExpired       = "expired"
	ReasonPaymentFailed = "payment_failed"
	ReasonAborted       = "aborted"
)

// Ledger implements the business logic for stock and reservations.
type Ledger struct {
	store          repository.LedgerStore
	producer       *event.Producer
	metrics        *metrics.Metrics
	clock          clock.Clock
	logger         *slog.Logger
	reservationTTL time.Duration
}

// NewLedger creates a new Ledger.
func NewLedger(
	store repository.LedgerStore,
	producer *event.Producer,
	m *metrics.Metrics,
	clk clock.Clock,
	logger *slog.Logger,
	reservationTTL time.Duration,
) *Ledger {
	if reservationTTL <= 0 {
		reservationTTL = DefaultReservationTTL
	}
	return &Ledger{
		store:          store,
		producer:       producer,
		metrics:        m,
		clock:          clk,
		logger:         logger,
		reservationTTL: reservationTTL,
	}
}

// GetStock returns the quantity available to reserve: onHand - reserved, or
// domain.UnlimitedStock when backorders are allowed. An unknown SKU has none.
func (l *Ledger) GetStock(ctx context.Context, sku domain.SKU) (int, error) {
	rec, err := l.store.GetStock(ctx, sku)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get stock: %w", err)
	}
	return rec.Available(), nil
}

// GetRecord returns the full stock record for a SKU.
func (l *Ledger) GetRecord(ctx context.Context, sku domain.SKU) (*domain.StockRecord, error) {
	rec, err := l.store.GetStock(ctx, sku)
	if err != nil {
		return nil, fmt.Errorf("get stock record: %w", err)
	}
	return rec, nil
}

// GetReservation returns a reservation by id.
func (l *Ledger) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	res, err := l.store.GetReservation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return res, nil
}

// ListMovements returns the newest audit entries for a SKU.
func (l *Ledger) ListMovements(ctx context.Context, sku domain.SKU, limit int) ([]domain.StockMovement, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	movements, err := l.store.ListMovements(ctx, sku, limit)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return movements, nil
}

// Reserve places an all-or-nothing hold on every line for ownerID. Lines for
// the same SKU are merged. If any SKU is short and does not allow
// backorders, nothing is reserved and an InsufficientStock error naming that
// SKU is returned. An owner may hold only one active reservation.
func (l *Ledger) Reserve(ctx context.Context, ownerID string, lines []domain.ReservationLine) (*domain.Reservation, error) {
	if ownerID == "" {
		return nil, apperrors.InvalidInput("owner_id is required")
	}
	merged, err := mergeLines(lines)
	if err != nil {
		return nil, err
	}

	now := l.clock.Now()
	res := &domain.Reservation{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Lines:     merged,
		State:     domain.ReservationHeld,
		CreatedAt: now,
		ExpiresAt: now.Add(l.reservationTTL),
		Version:   1,
	}

	var touched []*domain.StockRecord
	err = l.store.InTx(ctx, func(tx repository.LedgerTx) error {
		if err := tx.LockOwner(ctx, ownerID); err != nil {
			return err
		}
		active, err := tx.ActiveReservationFor(ctx, ownerID)
		if err != nil {
			return err
		}
		if active != nil {
			return apperrors.InvalidState(fmt.Sprintf("owner %s already holds reservation %s", ownerID, active.ID))
		}

		records := make([]*domain.StockRecord, len(merged))
		for i, line := range merged {
			rec, err := tx.LockStock(ctx, line.SKU)
			if err != nil {
				if errors.Is(err, apperrors.ErrNotFound) {
					return apperrors.InsufficientStock(line.SKU.Key(), line.Quantity, 0)
				}
				return err
			}
			if !rec.CanReserve(line.Quantity) {
				return apperrors.InsufficientStock(line.SKU.Key(), line.Quantity, rec.Available())
			}
			records[i] = rec
		}

		for i, line := range merged {
			rec := records[i]
			rec.Reserved += line.Quantity
			rec.Version++
			rec.UpdatedAt = now
			if err := tx.SaveStock(ctx, rec); err != nil {
				return err
			}
		}
		touched = records
		return tx.SaveReservation(ctx, res)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInsufficientStock) {
			l.metrics.Reservation("insufficient_stock", 0)
			l.logger.InfoContext(ctx, "reservation rejected",
				slog.String("owner_id", ownerID),
				slog.String("error", err.Error()),
			)
		}
		return nil, fmt.Errorf("reserve stock: %w", err)
	}

	l.metrics.Reservation("reserved", res.Quantity())
	if err := l.producer.PublishReservation(ctx, event.InventoryReserved, res, ""); err != nil {
		l.logger.ErrorContext(ctx, "failed to publish inventory.reserved event",
			slog.String("reservation_id", res.ID),
			slog.String("error", err.Error()),
		)
	}
	l.signalLowStock(ctx, touched)

	l.logger.InfoContext(ctx, "stock reserved",
		slog.String("reservation_id", res.ID),
		slog.String("owner_id", ownerID),
		slog.Int("lines", len(res.Lines)),
		slog.Int("units", res.Quantity()),
		slog.Time("expires_at", res.ExpiresAt),
	)
	return res, nil
}

// Commit consumes a held reservation: onHand and reserved both drop by the
// held quantities. A held reservation past its expiry that has not yet been
// swept may still be committed.
func (l *Ledger) Commit(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	now := l.clock.Now()

	var (
		res       *domain.Reservation
		touched   []*domain.StockRecord
		movements []*domain.StockMovement
	)
	err := l.store.InTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		res, err = tx.LockReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if err := domain.ReservationTransitions.Check("reservation", res.State, domain.ReservationCommitted); err != nil {
			return apperrors.InvalidState(fmt.Sprintf("reservation %s is %s, not held", res.ID, res.State))
		}

		for _, line := range sortedLines(res.Lines) {
			rec, err := tx.LockStock(ctx, line.SKU)
			if err != nil {
				return err
			}
			rec.OnHand -= line.Quantity
			rec.Reserved -= line.Quantity
			if rec.Reserved < 0 {
				rec.Reserved = 0
			}
			rec.Version++
			rec.UpdatedAt = now
			if err := tx.SaveStock(ctx, rec); err != nil {
				return err
			}
			m := newMovement(rec, domain.MovementCommit, -line.Quantity, "order committed", res.OwnerID, res.ID, now)
			if err := tx.AppendMovement(ctx, m); err != nil {
				return err
			}
			touched = append(touched, rec)
			movements = append(movements, m)
		}

		res.State = domain.ReservationCommitted
		res.CommittedAt = &now
		res.Version++
		return tx.SaveReservation(ctx, res)
	})
	if err != nil {
		return nil, fmt.Errorf("commit reservation: %w", err)
	}

	l.metrics.Reservation("committed", res.Quantity())
	if err := l.producer.PublishReservation(ctx, event.InventoryCommitted, res, ""); err != nil {
		l.logger.ErrorContext(ctx, "failed to publish inventory.committed event",
			slog.String("reservation_id", res.ID),
			slog.String("error", err.Error()),
		)
	}
	l.publishMovements(ctx, touched, movements)
	l.signalLowStock(ctx, touched)

	l.logger.InfoContext(ctx, "reservation committed",
		slog.String("reservation_id", res.ID),
		slog.String("owner_id", res.OwnerID),
		slog.Int("units", res.Quantity()),
	)
	return res, nil
}

// Release returns a held reservation's units to the pool. Releasing a
// reservation that is already released or committed is a no-op.
func (l *Ledger) Release(ctx context.Context, reservationID, reason string) error {
	_, err := l.release(ctx, reservationID, reason, func(*domain.Reservation) bool { return true })
	return err
}

// release runs the release unit of work when cond holds for the locked
// reservation and reports whether anything changed.
func (l *Ledger) release(ctx context.Context, reservationID, reason string, cond func(*domain.Reservation) bool) (bool, error) {
	now := l.clock.Now()

	var (
		res      *domain.Reservation
		released bool
	)
	err := l.store.InTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		res, err = tx.LockReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if res.State != domain.ReservationHeld || !cond(res) {
			return nil
		}

		for _, line := range sortedLines(res.Lines) {
			rec, err := tx.LockStock(ctx, line.SKU)
			if err != nil {
				return err
			}
			rec.Reserved -= line.Quantity
			if rec.Reserved < 0 {
				rec.Reserved = 0
			}
			rec.Version++
			rec.UpdatedAt = now
			if err := tx.SaveStock(ctx, rec); err != nil {
				return err
			}
		}

		res.State = domain.ReservationReleased
		res.ReleasedAt = &now
		res.Version++
		released = true
		return tx.SaveReservation(ctx, res)
	})
	if err != nil {
		return false, fmt.Errorf("release reservation: %w", err)
	}
	if !released {
		return false, nil
	}

	l.metrics.Reservation("released", res.Quantity())
	if err := l.producer.PublishReservation(ctx, event.InventoryReleased, res, reason); err != nil {
		l.logger.ErrorContext(ctx, "failed to publish inventory.released event",
			slog.String("reservation_id", res.ID),
			slog.String("error", err.Error()),
		)
	}

	l.logger.InfoContext(ctx, "reservation released",
		slog.String("reservation_id", res.ID),
		slog.String("owner_id", res.OwnerID),
		slog.String("reason", reason),
		slog.Int("units", res.Quantity()),
	)
	return true, nil
}

// ReleaseExpired releases every held reservation whose expiry has passed and
// returns how many were released. Failures on individual reservations are
// logged and skipped.
func (l *Ledger) ReleaseExpired(ctx context.Context) (int, error) {
	total := 0
	for {
		now := l.clock.Now()
		ids, err := l.store.ListExpiredReservations(ctx, now, sweepBatchSize)
		if err != nil {
			return total, fmt.Errorf("list expired reservations: %w", err)
		}

		released := 0
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return total + released, err
			}
			ok, err := l.release(ctx, id, ReasonExpired, func(r *domain.Reservation) bool {
				return r.IsExpired(now)
			})
			if err != nil {
				l.logger.WarnContext(ctx, "failed to release expired reservation",
					slog.String("reservation_id", id),
					slog.String("error", err.Error()),
				)
				continue
			}
			if ok {
				released++
			}
		}
		total += released

		if len(ids) < sweepBatchSize || released == 0 {
			break
		}
	}

	if total > 0 {
		l.metrics.ExpiredReleased(total)
		l.logger.InfoContext(ctx, "expired reservations released", slog.Int("count", total))
	}
	return total, nil
}

// Extend renews a held reservation for another full TTL from now so that the
// expiry sweep cannot release it while a payment is being confirmed. A hold
// that is no longer held, or has already expired, cannot be extended.
func (l *Ledger) Extend(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	now := l.clock.Now()

	var res *domain.Reservation
	err := l.store.InTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		res, err = tx.LockReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if res.State != domain.ReservationHeld {
			return apperrors.InvalidState(fmt.Sprintf("reservation %s is %s, not held", res.ID, res.State))
		}
		if res.IsExpired(now) {
			return apperrors.InvalidState(fmt.Sprintf("reservation %s has expired", res.ID))
		}
		res.ExpiresAt = now.Add(l.reservationTTL)
		res.Version++
		return tx.SaveReservation(ctx, res)
	})
	if err != nil {
		return nil, fmt.Errorf("extend reservation: %w", err)
	}

	l.logger.InfoContext(ctx, "reservation extended",
		slog.String("reservation_id", res.ID),
		slog.Time("expires_at", res.ExpiresAt),
	)
	return res, nil
}

// Restock returns a committed reservation's units to onHand, compensating
// for a cancelled order. Restocking the same reservation twice is a no-op.
func (l *Ledger) Restock(ctx context.Context, reservationID, actor string) error {
	now := l.clock.Now()

	var (
		res       *domain.Reservation
		touched   []*domain.StockRecord
		movements []*domain.StockMovement
	)
	err := l.store.InTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		res, err = tx.LockReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if res.State != domain.ReservationCommitted {
			return apperrors.InvalidState(fmt.Sprintf("reservation %s is %s, not committed", res.ID, res.State))
		}
		if res.RestockedAt != nil {
			return nil
		}

		for _, line := range sortedLines(res.Lines) {
			rec, err := tx.LockStock(ctx, line.SKU)
			if err != nil {
				return err
			}
			rec.OnHand += line.Quantity
			rec.Version++
			rec.UpdatedAt = now
			if err := tx.SaveStock(ctx, rec); err != nil {
				return err
			}
			m := newMovement(rec, domain.MovementRestock, line.Quantity, "order cancelled", actor, res.ID, now)
			if err := tx.AppendMovement(ctx, m); err != nil {
				return err
			}
			touched = append(touched, rec)
			movements = append(movements, m)
		}

		res.RestockedAt = &now
		res.Version++
		return tx.SaveReservation(ctx, res)
	})
	if err != nil {
		return fmt.Errorf("restock reservation: %w", err)
	}
	if len(movements) == 0 {
		return nil
	}

	if err := l.producer.PublishReservation(ctx, event.InventoryRestocked, res, "order cancelled"); err != nil {
		l.logger.ErrorContext(ctx, "failed to publish inventory.restocked event",
			slog.String("reservation_id", res.ID),
			slog.String("error", err.Error()),
		)
	}
	l.publishMovements(ctx, touched, movements)

	l.logger.InfoContext(ctx, "reservation restocked",
		slog.String("reservation_id", res.ID),
		slog.String("actor", actor),
		slog.Int("units", res.Quantity()),
	)
	return nil
}

// AdjustStock changes onHand by delta. A missing record is created.
func (l *Ledger) AdjustStock(ctx context.Context, sku domain.SKU, delta int, reason, actor string) (*domain.StockRecord, error) {
	if delta == 0 {
		return nil, apperrors.InvalidInput("delta must not be zero")
	}
	return l.mutateOnHand(ctx, sku, domain.MovementAdjust, reason, actor, func(onHand int) int {
		return onHand + delta
	})
}

// SetStock sets onHand to quantity. A missing record is created.
func (l *Ledger) SetStock(ctx context.Context, sku domain.SKU, quantity int, reason, actor string) (*domain.StockRecord, error) {
	if quantity < 0 {
		return nil, apperrors.InvalidInput("quantity must be non-negative")
	}
	return l.mutateOnHand(ctx, sku, domain.MovementSet, reason, actor, func(int) int {
		return quantity
	})
}

func (l *Ledger) mutateOnHand(
	ctx context.Context,
	sku domain.SKU,
	kind domain.MovementKind,
	reason, actor string,
	next func(onHand int) int,
) (*domain.StockRecord, error) {
	if sku.ProductID == "" {
		return nil, apperrors.InvalidInput("product_id is required")
	}
	if reason == "" {
		return nil, apperrors.InvalidInput("reason is required")
	}
	now := l.clock.Now()

	var (
		rec *domain.StockRecord
		m   *domain.StockMovement
	)
	err := l.store.InTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		rec, err = lockOrNew(ctx, tx, sku)
		if err != nil {
			return err
		}

		onHand := next(rec.OnHand)
		if onHand < 0 {
			return apperrors.InvalidInput(fmt.Sprintf("on-hand for %s cannot go below zero", sku.Key()))
		}
		if !rec.AllowBackorder && rec.Reserved > onHand {
			return apperrors.InvalidState(fmt.Sprintf(
				"on-hand %d for %s would fall below reserved %d", onHand, sku.Key(), rec.Reserved))
		}

		delta := onHand - rec.OnHand
		rec.OnHand = onHand
		rec.Version++
		rec.UpdatedAt = now
		if err := tx.SaveStock(ctx, rec); err != nil {
			return err
		}
		m = newMovement(rec, kind, delta, reason, actor, "", now)
		return tx.AppendMovement(ctx, m)
	})
	if err != nil {
		return nil, fmt.Errorf("%s stock: %w", kind, err)
	}

	l.publishMovements(ctx, []*domain.StockRecord{rec}, []*domain.StockMovement{m})
	l.signalLowStock(ctx, []*domain.StockRecord{rec})

	l.logger.InfoContext(ctx, "stock changed",
		slog.String("sku", sku.Key()),
		slog.String("kind", string(kind)),
		slog.Int("delta", m.Delta),
		slog.String("reason", reason),
		slog.String("actor", actor),
		slog.Int("on_hand", rec.OnHand),
		slog.Int("available", rec.Available()),
	)
	return rec, nil
}

// SetPolicy updates the low-stock threshold and backorder flag of a SKU.
// Backorders cannot be switched off while more units are reserved than on hand.
func (l *Ledger) SetPolicy(ctx context.Context, sku domain.SKU, lowStockThreshold int, allowBackorder bool) (*domain.StockRecord, error) {
	if lowStockThreshold < 0 {
		return nil, apperrors.InvalidInput("low_stock_threshold must be non-negative")
	}

	var rec *domain.StockRecord
	err := l.store.InTx(ctx, func(tx repository.LedgerTx) error {
		var err error
		rec, err = lockOrNew(ctx, tx, sku)
		if err != nil {
			return err
		}
		if !allowBackorder && rec.Reserved > rec.OnHand {
			return apperrors.InvalidState(fmt.Sprintf(
				"cannot disable backorders for %s while %d are reserved against %d on hand",
				sku.Key(), rec.Reserved, rec.OnHand))
		}
		rec.LowStockThreshold = lowStockThreshold
		rec.AllowBackorder = allowBackorder
		rec.Version++
		rec.UpdatedAt = l.clock.Now()
		return tx.SaveStock(ctx, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("set stock policy: %w", err)
	}

	l.logger.InfoContext(ctx, "stock policy updated",
		slog.String("sku", sku.Key()),
		slog.Int("low_stock_threshold", lowStockThreshold),
		slog.Bool("allow_backorder", allowBackorder),
	)
	return rec, nil
}

func (l *Ledger) publishMovements(ctx context.Context, recs []*domain.StockRecord, movements []*domain.StockMovement) {
	for i, m := range movements {
		if err := l.producer.PublishStockChanged(ctx, recs[i], m); err != nil {
			l.logger.ErrorContext(ctx, "failed to publish inventory.stock_changed event",
				slog.String("sku", m.SKU.Key()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (l *Ledger) signalLowStock(ctx context.Context, recs []*domain.StockRecord) {
	for _, rec := range recs {
		if !rec.IsLow() {
			continue
		}
		if err := l.producer.PublishLowStock(ctx, rec); err != nil {
			l.logger.ErrorContext(ctx, "failed to publish inventory.low_stock event",
				slog.String("sku", rec.SKU.Key()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func lockOrNew(ctx context.Context, tx repository.LedgerTx, sku domain.SKU) (*domain.StockRecord, error) {
	rec, err := tx.LockStock(ctx, sku)
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		return &domain.StockRecord{SKU: sku}, nil
	}
	return nil, err
}

func newMovement(
	rec *domain.StockRecord,
	kind domain.MovementKind,
	delta int,
	reason, actor, referenceID string,
	at time.Time,
) *domain.StockMovement {
	return &domain.StockMovement{
		ID:          uuid.New().String(),
		SKU:         rec.SKU,
		Kind:        kind,
		Delta:       delta,
		Reason:      reason,
		Actor:       actor,
		ReferenceID: referenceID,
		Balance:     rec.OnHand,
		CreatedAt:   at,
	}
}

// mergeLines validates lines, sums quantities per SKU and sorts by SKU key,
// which is also the stock lock order.
func mergeLines(lines []domain.ReservationLine) ([]domain.ReservationLine, error) {
	if len(lines) == 0 {
		return nil, apperrors.InvalidInput("items list cannot be empty")
	}
	index := make(map[domain.SKU]int, len(lines))
	merged := make([]domain.ReservationLine, 0, len(lines))
	for _, line := range lines {
		if line.SKU.ProductID == "" {
			return nil, apperrors.InvalidInput("product_id is required")
		}
		if line.Quantity < 1 {
			return nil, apperrors.InvalidInput(fmt.Sprintf("quantity for %s must be at least 1", line.SKU.Key()))
		}
		if i, ok := index[line.SKU]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.SKU] = len(merged)
		merged = append(merged, line)
	}
	return sortedLines(merged), nil
}

func sortedLines(lines []domain.ReservationLine) []domain.ReservationLine {
	out := append([]domain.ReservationLine(nil), lines...)
	sort.Slice(out, func(i, j int) bool { return out[i].SKU.Key() < out[j].SKU.Key() })
	return out
}
