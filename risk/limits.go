package risk

import "fmt"

// Limits is the immutable risk limit configuration.
type Limits struct {
	MaxPositionValue float64 // max market value of one position, USD
	MaxPositions     int     // max concurrent positions (pending orders reserve a slot)
	MaxDailyLoss     float64 // max daily realized+unrealized loss, USD
	MaxOrderValue    float64 // max single order value, USD
}

func (l Limits) String() string {
	return fmt.Sprintf("max_pos=$%.0f max_positions=%d max_daily_loss=$%.0f max_order=$%.0f",
		l.MaxPositionValue, l.MaxPositions, l.MaxDailyLoss, l.MaxOrderValue)
}

// Position is a held position for one symbol. Mutated only on
// confirmed fills, inside the gate's critical section.
type Position struct {
	Symbol   string
	Quantity int // positive = long, negative = short
	AvgPrice float64
}

func (p Position) IsLong() bool  { return p.Quantity > 0 }
func (p Position) IsShort() bool { return p.Quantity < 0 }

// MarketValue is the absolute position value at the given price.
func (p Position) MarketValue(price float64) float64 {
	return abs(float64(p.Quantity) * price)
}

// UnrealizedPL is the open profit/loss at the given price.
func (p Position) UnrealizedPL(price float64) float64 {
	return float64(p.Quantity) * (price - p.AvgPrice)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
