package market

import "time"

// Bar is an immutable OHLCV snapshot.
type Bar struct {
	Symbol string
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Quote converts the bar to a synthetic quote at its close.
func (b Bar) Quote() Quote {
	return Quote{
		Symbol: b.Symbol,
		Time:   b.Time,
		Last:   b.Close,
	}
}
