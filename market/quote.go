package market

import (
	"errors"
	"time"
)

// ErrNotAvailable is returned when no provider could produce data for a
// symbol. Callers skip the symbol for the cycle; it is never fatal.
var ErrNotAvailable = errors.New("market data not available")

// Quote is an immutable snapshot of a symbol's current market.
// Bid, Ask and Last may individually be zero when the venue did not
// report them (delayed feeds often omit sides).
type Quote struct {
	Symbol string
	Time   time.Time
	Bid    float64
	Ask    float64
	Last   float64
}

// Mid returns the bid/ask midpoint, falling back to Last when one side
// is missing.
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// Price returns the best reference price available: Last, then mid.
func (q Quote) Price() float64 {
	if q.Last > 0 {
		return q.Last
	}
	return q.Mid()
}

// HasPrice reports whether the quote carries any usable price.
func (q Quote) HasPrice() bool {
	return q.Price() > 0
}
