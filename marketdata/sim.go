package marketdata

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/quantfold/ibot/market"
)

// SimProvider generates random-walk quotes around a base price per
// symbol. It stands in for a real vendor in paper runs and tests.
type SimProvider struct {
	mu    sync.Mutex
	rng   *rand.Rand
	last  map[string]float64
	base  float64
	drift float64
}

// NewSimProvider creates a sim provider starting every symbol at base.
func NewSimProvider(base float64) *SimProvider {
	return &SimProvider{
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		last:  make(map[string]float64),
		base:  base,
		drift: 0.002,
	}
}

func (p *SimProvider) Name() string { return "sim" }

func (p *SimProvider) GetQuote(ctx context.Context, symbol string) (market.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	px, ok := p.last[symbol]
	if !ok {
		px = p.base
	}
	px *= 1 + (p.rng.Float64()*2-1)*p.drift
	p.last[symbol] = px

	spread := px * 0.0002
	return market.Quote{
		Symbol: symbol,
		Time:   time.Now(),
		Bid:    px - spread/2,
		Ask:    px + spread/2,
		Last:   px,
	}, nil
}

func (p *SimProvider) GetHistoricalBars(ctx context.Context, symbol string, req BarRequest) ([]market.Bar, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	px, ok := p.last[symbol]
	if !ok {
		px = p.base
	}

	now := time.Now()
	bars := make([]market.Bar, 0, limit)
	for i := limit; i > 0; i-- {
		open := px
		px *= 1 + (p.rng.Float64()*2-1)*p.drift
		high := open
		low := px
		if px > open {
			high, low = px, open
		}
		bars = append(bars, market.Bar{
			Symbol: symbol,
			Time:   now.Add(-time.Duration(i) * time.Minute),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  px,
			Volume: float64(p.rng.Intn(10000)),
		})
	}
	p.last[symbol] = px
	return bars, nil
}
