// Package journal persists order, fill and equity records for
// post-run review. Backends: CSV files or SQLite.
package journal

import "time"

// OrderRecord is one order submission and its latest status.
type OrderRecord struct {
	ID         string // internal ULID
	BrokerID   string
	Symbol     string
	Side       string
	Quantity   int
	Type       string
	LimitPrice float64
	Status     string
	Reason     string
	Time       time.Time
}

// FillRecord is one confirmed (partial) execution.
type FillRecord struct {
	OrderID  string // broker order id
	Symbol   string
	Quantity int // signed: positive bought, negative sold
	Price    float64
	Time     time.Time
}

// EquitySnapshot is a periodic portfolio snapshot.
type EquitySnapshot struct {
	Time       time.Time
	Positions  int
	Exposure   float64
	Unrealized float64
	Realized   float64
}

// Journal records trading activity. Implementations must be safe for
// use from the orchestrator's goroutines.
type Journal interface {
	RecordOrder(o OrderRecord) error
	RecordFill(f FillRecord) error
	RecordEquity(e EquitySnapshot) error
	Close() error
}

// Nop discards everything. Used when journaling is not configured.
type Nop struct{}

func (Nop) RecordOrder(OrderRecord) error     { return nil }
func (Nop) RecordFill(FillRecord) error       { return nil }
func (Nop) RecordEquity(EquitySnapshot) error { return nil }
func (Nop) Close() error                      { return nil }
