// Package orders tracks order submissions through their broker
// lifecycle and reconciles confirmed fills into the risk ledger.
package orders

import (
	"time"

	"github.com/quantfold/ibot/broker"
	"github.com/quantfold/ibot/risk"
)

// Status is the executor-side order state.
type Status string

const (
	Pending         Status = "Pending" // created, not yet acknowledged
	Submitted       Status = "Submitted"
	PartiallyFilled Status = "PartiallyFilled"
	Filled          Status = "Filled"
	Rejected        Status = "Rejected"
	Cancelled       Status = "Cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == Filled || s == Rejected || s == Cancelled
}

// Record is one submitted order. Mutated only under the executor's
// lock; callers get copies.
type Record struct {
	ID       string // internal ULID, stable across reconnects
	BrokerID string

	Intent broker.OrderIntent
	Status Status
	Reason string

	FilledQuantity int
	AvgFillPrice   float64

	Created time.Time
	Updated time.Time

	// decision carries the reservation to reconcile as fills confirm.
	decision     risk.Decision
	released     float64
	slotReleased bool
}

// remainingReservation is the reserved value not yet handed back to
// the risk ledger through fills or releases.
func (r *Record) remainingReservation() float64 {
	rem := r.decision.Reserved - r.released
	if rem < 0 {
		return 0
	}
	return rem
}
