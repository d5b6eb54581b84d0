// Package broker defines the gateway collaborator surface and the
// connection supervisor. The wire protocol behind Gateway is opaque;
// the core depends only on these signatures.
package broker

import (
	"context"
	"time"

	"github.com/quantfold/ibot/market"
)

// Side is the order direction.
type Side string

const (
	BuySide  Side = "BUY"
	SellSide Side = "SELL"
)

// OrderIntent is a validated, sized order ready for submission.
type OrderIntent struct {
	Symbol     string
	Side       Side
	Quantity   int
	Type       string // "LMT" or "MKT"
	LimitPrice float64
	TIF        string // time in force, "DAY"
}

// Value returns the notional value of the intent at its reference price.
func (o OrderIntent) Value() float64 {
	return float64(o.Quantity) * o.LimitPrice
}

// OrderStatus is the broker-side order state carried on events.
type OrderStatus string

const (
	StatusSubmitted       OrderStatus = "Submitted"
	StatusPartiallyFilled OrderStatus = "PartiallyFilled"
	StatusFilled          OrderStatus = "Filled"
	StatusRejected        OrderStatus = "Rejected"
	StatusCancelled       OrderStatus = "Cancelled"
)

// EventKind tags the inbound event union.
type EventKind int

const (
	EventNextOrderID EventKind = iota
	EventAccountSummary
	EventOrderStatus
	EventFill
	EventError
	EventDisconnected
)

// Fill reports a (partial) execution.
type Fill struct {
	OrderID  string
	Symbol   string
	Side     Side
	Quantity int // always positive; Side carries direction
	Price    float64
	Time     time.Time
}

// SignedQuantity returns the fill quantity with direction applied.
func (f Fill) SignedQuantity() int {
	if f.Side == SellSide {
		return -f.Quantity
	}
	return f.Quantity
}

// Event is one message on the gateway's inbound stream. Exactly the
// fields for its Kind are populated.
type Event struct {
	Kind EventKind
	Time time.Time

	NextOrderID int64

	AccountID string
	Equity    float64

	OrderID string
	Status  OrderStatus
	Reason  string

	Fill Fill

	Code int
	Err  string
}

// Gateway is the brokerage connection collaborator. Implementations
// must deliver events on a single ordered channel; the channel stays
// open across session drops and closes only on Disconnect. Market data
// requests share the same session as order flow, so a dropped session
// takes both down together.
type Gateway interface {
	Connect(ctx context.Context, host string, port, clientID int) error
	Disconnect()
	PlaceOrder(ctx context.Context, intent OrderIntent) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	Snapshot(ctx context.Context, symbol string, delayed bool) (market.Quote, error)
	HistoricalBars(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error)
	Events() <-chan Event
}
