package domain

import "time"

// ReservationState is the lifecycle state of a stock hold.
type ReservationState string

const (
	ReservationHeld      ReservationState = "held"
	ReservationCommitted ReservationState = "committed"
	ReservationReleased  ReservationState = "released"
)

// ReservationTransitions is the reservation state machine.
var ReservationTransitions = Transitions[ReservationState]{
	ReservationHeld:      {ReservationCommitted, ReservationReleased},
	ReservationCommitted: {},
	ReservationReleased:  {},
}

// ReservationLine is one SKU held by a reservation.
type ReservationLine struct {
	SKU      SKU `json:"sku"`
	Quantity int `json:"quantity" validate:"gte=1"`
}

// Reservation holds stock against available inventory on behalf of an owner
// (a checkout session or an order). The ledger owns it; other aggregates
// reference it by id only.
type Reservation struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"owner_id"`
	Lines       []ReservationLine `json:"lines"`
	State       ReservationState  `json:"state"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
	CommittedAt *time.Time        `json:"committed_at,omitempty"`
	ReleasedAt  *time.Time        `json:"released_at,omitempty"`
	RestockedAt *time.Time        `json:"restocked_at,omitempty"`
	Version     int               `json:"version"`
}

// IsActive reports whether the reservation still counts as the owner's hold:
// held, or committed and not yet restocked.
func (r *Reservation) IsActive() bool {
	switch r.State {
	case ReservationHeld:
		return true
	case ReservationCommitted:
		return r.RestockedAt == nil
	default:
		return false
	}
}

// IsExpired reports whether a held reservation has passed its expiry.
func (r *Reservation) IsExpired(now time.Time) bool {
	return r.State == ReservationHeld && now.After(r.ExpiresAt)
}

// Quantity returns the total units across lines.
func (r *Reservation) Quantity() int {
	n := 0
	for _, l := range r.Lines {
		n += l.Quantity
	}
	return n
}

// Clone returns a deep copy.
func (r *Reservation) Clone() *Reservation {
	cp := *r
	cp.Lines = append([]ReservationLine(nil), r.Lines...)
	cp.CommittedAt = cloneTime(r.CommittedAt)
	cp.ReleasedAt = cloneTime(r.ReleasedAt)
	cp.RestockedAt = cloneTime(r.RestockedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
