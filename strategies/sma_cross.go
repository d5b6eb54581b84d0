package strategies

import (
	"fmt"
	"time"

	"github.com/quantfold/ibot/market"
)

// SMACross trades a fast/slow simple-moving-average crossover,
// long-only: buy on a golden cross while flat, close on a death cross
// while long.
type SMACross struct {
	symbols []string
	fast    int
	slow    int

	history   map[string][]float64
	lastDiff  map[string]float64
	positions map[string]int
}

// NewSMACross creates a crossover strategy. Zero periods fall back to
// 10/30.
func NewSMACross(symbols []string, fast, slow int) *SMACross {
	if fast <= 0 {
		fast = 10
	}
	if slow <= fast {
		slow = 3 * fast
	}
	return &SMACross{
		symbols:   symbols,
		fast:      fast,
		slow:      slow,
		history:   make(map[string][]float64),
		lastDiff:  make(map[string]float64),
		positions: make(map[string]int),
	}
}

func (s *SMACross) Name() string {
	return fmt.Sprintf("sma-cross(%d,%d)", s.fast, s.slow)
}

func (s *SMACross) Symbols() []string { return s.symbols }

func (s *SMACross) watches(symbol string) bool {
	for _, sym := range s.symbols {
		if sym == symbol {
			return true
		}
	}
	return false
}

func (s *SMACross) OnQuote(q market.Quote) (*market.Signal, error) {
	if !s.watches(q.Symbol) || !q.HasPrice() {
		return nil, nil
	}
	return s.update(q.Symbol, q.Price(), q.Time)
}

func (s *SMACross) OnBar(b market.Bar) (*market.Signal, error) {
	if !s.watches(b.Symbol) || b.Close <= 0 {
		return nil, nil
	}
	return s.update(b.Symbol, b.Close, b.Time)
}

func (s *SMACross) update(symbol string, price float64, at time.Time) (*market.Signal, error) {
	hist := append(s.history[symbol], price)
	if len(hist) > s.slow {
		hist = hist[len(hist)-s.slow:]
	}
	s.history[symbol] = hist

	if len(hist) < s.slow {
		return nil, nil
	}

	diff := sma(hist, s.fast) - sma(hist, s.slow)
	last, seen := s.lastDiff[symbol]
	s.lastDiff[symbol] = diff
	if !seen {
		return nil, nil
	}

	pos := s.positions[symbol]
	switch {
	case last <= 0 && diff > 0 && pos == 0:
		return &market.Signal{
			Symbol:     symbol,
			Kind:       market.Buy,
			Price:      price,
			Confidence: crossConfidence(diff, price),
			Reason:     fmt.Sprintf("golden cross: SMA%d above SMA%d", s.fast, s.slow),
			Time:       at,
		}, nil
	case last >= 0 && diff < 0 && pos > 0:
		return &market.Signal{
			Symbol:     symbol,
			Kind:       market.CloseLong,
			Price:      price,
			Confidence: crossConfidence(diff, price),
			Reason:     fmt.Sprintf("death cross: SMA%d below SMA%d", s.fast, s.slow),
			Time:       at,
		}, nil
	}
	return nil, nil
}

func (s *SMACross) OnPositionUpdate(symbol string, quantity int, avgPrice float64) {
	_ = avgPrice
	if quantity == 0 {
		delete(s.positions, symbol)
		return
	}
	s.positions[symbol] = quantity
}

func sma(v []float64, n int) float64 {
	sum := 0.0
	for _, p := range v[len(v)-n:] {
		sum += p
	}
	return sum / float64(n)
}

// crossConfidence scales with the separation of the averages, capped
// at 1.
func crossConfidence(diff, price float64) float64 {
	if price <= 0 {
		return 0.5
	}
	c := 0.5 + 100*absFloat(diff)/price
	if c > 1 {
		c = 1
	}
	return c
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
