package domain

import (
	"math"
	"time"
)

// UnlimitedStock is reported as available quantity for backorder-enabled SKUs.
const UnlimitedStock = math.MaxInt32

// StockRecord is the ledger's authoritative count for one SKU.
// Reserved never exceeds OnHand unless AllowBackorder is set.
type StockRecord struct {
	SKU               SKU       `json:"sku"`
	OnHand            int       `json:"on_hand"`
	Reserved          int       `json:"reserved"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	AllowBackorder    bool      `json:"allow_backorder"`
	Version           int       `json:"version"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Available returns OnHand - Reserved, or UnlimitedStock when backorders are allowed.
func (s *StockRecord) Available() int {
	if s.AllowBackorder {
		return UnlimitedStock
	}
	if avail := s.OnHand - s.Reserved; avail > 0 {
		return avail
	}
	return 0
}

// CanReserve reports whether qty more units may be held.
func (s *StockRecord) CanReserve(qty int) bool {
	return s.AllowBackorder || s.OnHand-s.Reserved >= qty
}

// IsLow reports whether physical availability has dropped to the threshold.
func (s *StockRecord) IsLow() bool {
	return s.LowStockThreshold > 0 && s.OnHand-s.Reserved <= s.LowStockThreshold
}

// Consistent checks the reserved <= onHand invariant.
func (s *StockRecord) Consistent() bool {
	if s.Reserved < 0 {
		return false
	}
	return s.AllowBackorder || (s.OnHand >= 0 && s.Reserved <= s.OnHand)
}

// MovementKind classifies a change to OnHand.
type MovementKind string

const (
	MovementAdjust  MovementKind = "adjust"
	MovementSet     MovementKind = "set"
	MovementCommit  MovementKind = "commit"
	MovementRestock MovementKind = "restock"
)

// StockMovement is one audit entry for a change to OnHand.
type StockMovement struct {
	ID          string       `json:"id"`
	SKU         SKU          `json:"sku"`
	Kind        MovementKind `json:"kind"`
	Delta       int          `json:"delta"`
	Reason      string       `json:"reason"`
	Actor       string       `json:"actor"`
	ReferenceID string       `json:"reference_id,omitempty"`
	Balance     int          `json:"balance"`
	CreatedAt   time.Time    `json:"created_at"`
}
