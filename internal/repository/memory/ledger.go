package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/keylock"
)

// LedgerStore is an in-process repository.LedgerStore. Row locks are
// per-key mutexes held for the lifetime of a unit of work; staged writes are
// applied under the store mutex when the unit of work succeeds.
type LedgerStore struct {
	mu           sync.RWMutex
	stock        map[string]*domain.StockRecord
	reservations map[string]*domain.Reservation
	byOwner      map[string][]string
	movements    map[string][]domain.StockMovement
	locks        *keylock.Locker
}

var _ repository.LedgerStore = (*LedgerStore)(nil)

// NewLedgerStore creates an empty LedgerStore.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		stock:        make(map[string]*domain.StockRecord),
		reservations: make(map[string]*domain.Reservation),
		byOwner:      make(map[string][]string),
		movements:    make(map[string][]domain.StockMovement),
		locks:        keylock.New(),
	}
}

// InTx implements repository.LedgerStore.
func (s *LedgerStore) InTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	tx := &ledgerTx{
		store:        s,
		held:         make(map[string]bool),
		stock:        make(map[string]*domain.StockRecord),
		reservations: make(map[string]*domain.Reservation),
	}
	defer tx.unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, rec := range tx.stock {
		s.stock[key] = rec
	}
	for id, res := range tx.reservations {
		if _, exists := s.reservations[id]; !exists {
			s.byOwner[res.OwnerID] = append(s.byOwner[res.OwnerID], id)
		}
		s.reservations[id] = res
	}
	for _, m := range tx.movements {
		key := m.SKU.Key()
		s.movements[key] = append(s.movements[key], m)
	}
	return nil
}

// GetStock implements repository.LedgerStore.
func (s *LedgerStore) GetStock(_ context.Context, sku domain.SKU) (*domain.StockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.stock[sku.Key()]
	if !ok {
		return nil, apperrors.NotFound("stock", sku.Key())
	}
	cp := *rec
	return &cp, nil
}

// GetReservation implements repository.LedgerStore.
func (s *LedgerStore) GetReservation(_ context.Context, id string) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.reservations[id]
	if !ok {
		return nil, apperrors.NotFound("reservation", id)
	}
	return res.Clone(), nil
}

// ListExpiredReservations implements repository.LedgerStore.
func (s *LedgerStore) ListExpiredReservations(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	expired := make([]*domain.Reservation, 0)
	for _, res := range s.reservations {
		if res.IsExpired(now) {
			expired = append(expired, res)
		}
	}
	s.mu.RUnlock()

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	ids := make([]string, len(expired))
	for i, res := range expired {
		ids[i] = res.ID
	}
	return ids, nil
}

// ListMovements implements repository.LedgerStore.
func (s *LedgerStore) ListMovements(_ context.Context, sku domain.SKU, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.movements[sku.Key()]
	out := make([]domain.StockMovement, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type ledgerTx struct {
	store        *LedgerStore
	held         map[string]bool
	unlocks      []func()
	stock        map[string]*domain.StockRecord
	reservations map[string]*domain.Reservation
	movements    []domain.StockMovement
}

func (tx *ledgerTx) lock(key string) {
	if tx.held[key] {
		return
	}
	tx.unlocks = append(tx.unlocks, tx.store.locks.Lock(key))
	tx.held[key] = true
}

func (tx *ledgerTx) unlock() {
	for i := len(tx.unlocks) - 1; i >= 0; i-- {
		tx.unlocks[i]()
	}
}

func (tx *ledgerTx) LockOwner(_ context.Context, ownerID string) error {
	tx.lock("owner:" + ownerID)
	return nil
}

func (tx *ledgerTx) ActiveReservationFor(_ context.Context, ownerID string) (*domain.Reservation, error) {
	for _, res := range tx.reservations {
		if res.OwnerID == ownerID && res.IsActive() {
			return res.Clone(), nil
		}
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	for _, id := range tx.store.byOwner[ownerID] {
		res := tx.store.reservations[id]
		if staged, ok := tx.reservations[id]; ok {
			res = staged
		}
		if res.IsActive() {
			return res.Clone(), nil
		}
	}
	return nil, nil
}

func (tx *ledgerTx) LockStock(_ context.Context, sku domain.SKU) (*domain.StockRecord, error) {
	key := sku.Key()
	tx.lock("stock:" + key)

	if rec, ok := tx.stock[key]; ok {
		cp := *rec
		return &cp, nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	rec, ok := tx.store.stock[key]
	if !ok {
		return nil, apperrors.NotFound("stock", key)
	}
	cp := *rec
	return &cp, nil
}

func (tx *ledgerTx) SaveStock(_ context.Context, rec *domain.StockRecord) error {
	key := rec.SKU.Key()
	tx.lock("stock:" + key)
	cp := *rec
	tx.stock[key] = &cp
	return nil
}

func (tx *ledgerTx) LockReservation(_ context.Context, id string) (*domain.Reservation, error) {
	tx.lock("reservation:" + id)

	if res, ok := tx.reservations[id]; ok {
		return res.Clone(), nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	res, ok := tx.store.reservations[id]
	if !ok {
		return nil, apperrors.NotFound("reservation", id)
	}
	return res.Clone(), nil
}

func (tx *ledgerTx) SaveReservation(_ context.Context, res *domain.Reservation) error {
	tx.lock("reservation:" + res.ID)
	tx.reservations[res.ID] = res.Clone()
	return nil
}

func (tx *ledgerTx) AppendMovement(_ context.Context, m *domain.StockMovement) error {
	tx.movements = append(tx.movements, *m)
	return nil
}
