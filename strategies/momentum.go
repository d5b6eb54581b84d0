package strategies

import (
	"fmt"
	"time"

	"github.com/quantfold/ibot/market"
)

// Momentum trades rate-of-change over a lookback window: buy while
// flat when momentum exceeds the threshold, close the long when it
// reverses past the negative threshold.
type Momentum struct {
	symbols   []string
	lookback  int
	threshold float64

	history   map[string][]float64
	positions map[string]int
}

// NewMomentum creates a momentum strategy. Defaults: 20-sample
// lookback, 2% threshold.
func NewMomentum(symbols []string, lookback int, threshold float64) *Momentum {
	if lookback <= 0 {
		lookback = 20
	}
	if threshold <= 0 {
		threshold = 0.02
	}
	return &Momentum{
		symbols:   symbols,
		lookback:  lookback,
		threshold: threshold,
		history:   make(map[string][]float64),
		positions: make(map[string]int),
	}
}

func (m *Momentum) Name() string {
	return fmt.Sprintf("momentum(%d,%.1f%%)", m.lookback, m.threshold*100)
}

func (m *Momentum) Symbols() []string { return m.symbols }

func (m *Momentum) watches(symbol string) bool {
	for _, sym := range m.symbols {
		if sym == symbol {
			return true
		}
	}
	return false
}

func (m *Momentum) OnQuote(q market.Quote) (*market.Signal, error) {
	if !m.watches(q.Symbol) || !q.HasPrice() {
		return nil, nil
	}

	price := q.Price()
	hist := append(m.history[q.Symbol], price)
	if len(hist) > m.lookback+1 {
		hist = hist[len(hist)-m.lookback-1:]
	}
	m.history[q.Symbol] = hist

	if len(hist) < m.lookback+1 {
		return nil, nil
	}

	base := hist[0]
	if base <= 0 {
		return nil, nil
	}
	roc := (price - base) / base

	pos := m.positions[q.Symbol]
	switch {
	case roc > m.threshold && pos == 0:
		return m.signal(q.Symbol, market.Buy, price, roc, q.Time), nil
	case roc < -m.threshold && pos > 0:
		return m.signal(q.Symbol, market.CloseLong, price, roc, q.Time), nil
	}
	return nil, nil
}

func (m *Momentum) signal(symbol string, kind market.SignalKind, price, roc float64, at time.Time) *market.Signal {
	conf := absFloat(roc) / (2 * m.threshold)
	if conf > 1 {
		conf = 1
	}
	return &market.Signal{
		Symbol:     symbol,
		Kind:       kind,
		Price:      price,
		Confidence: conf,
		Reason:     fmt.Sprintf("momentum %.2f%% over %d samples", roc*100, m.lookback),
		Time:       at,
	}
}

func (m *Momentum) OnPositionUpdate(symbol string, quantity int, avgPrice float64) {
	_ = avgPrice
	if quantity == 0 {
		delete(m.positions, symbol)
		return
	}
	m.positions[symbol] = quantity
}
