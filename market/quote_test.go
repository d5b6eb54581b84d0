package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuoteMid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		q    Quote
		want float64
	}{
		{"both sides", Quote{Bid: 100, Ask: 102}, 101},
		{"missing ask", Quote{Bid: 100, Last: 99.5}, 99.5},
		{"missing both", Quote{Last: 50}, 50},
		{"empty", Quote{}, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, tt.q.Mid(), 1e-9)
		})
	}
}

func TestQuotePrice(t *testing.T) {
	t.Parallel()

	q := Quote{Bid: 100, Ask: 102, Last: 101.5}
	assert.InDelta(t, 101.5, q.Price(), 1e-9)

	q = Quote{Bid: 100, Ask: 102}
	assert.InDelta(t, 101.0, q.Price(), 1e-9)

	assert.False(t, Quote{}.HasPrice())
	assert.True(t, q.HasPrice())
}

func TestBarQuote(t *testing.T) {
	t.Parallel()

	now := time.Now()
	b := Bar{Symbol: "AAPL", Time: now, Open: 149, High: 151, Low: 148, Close: 150, Volume: 1000}
	q := b.Quote()

	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, now, q.Time)
	assert.InDelta(t, 150.0, q.Last, 1e-9)
	assert.InDelta(t, 150.0, q.Price(), 1e-9)
}
