package market

import (
	"fmt"
	"time"
)

// SignalKind enumerates strategy decisions.
type SignalKind string

const (
	Buy        SignalKind = "BUY"
	Sell       SignalKind = "SELL"
	Hold       SignalKind = "HOLD"
	CloseLong  SignalKind = "CLOSE_LONG"
	CloseShort SignalKind = "CLOSE_SHORT"
)

// Signal is a trading signal produced by a strategy. Quantity may be
// zero, in which case the risk gate sizes the order. Confidence is a
// 0..1 score; Reason is free text for operator review.
type Signal struct {
	Symbol     string
	Kind       SignalKind
	Price      float64
	Quantity   int
	Confidence float64
	Reason     string
	Time       time.Time
}

func (s Signal) String() string {
	return fmt.Sprintf("%s %d %s @ $%.2f (%s)", s.Kind, s.Quantity, s.Symbol, s.Price, s.Reason)
}

// IsClose reports whether the signal closes an existing position.
func (s Signal) IsClose() bool {
	return s.Kind == CloseLong || s.Kind == CloseShort
}
