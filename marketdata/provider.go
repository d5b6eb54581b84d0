package marketdata

import (
	"context"

	"github.com/quantfold/ibot/market"
)

// Provider is a single quote/bar source. Implementations are opaque
// collaborators; the hub only depends on these signatures.
type Provider interface {
	Name() string
	GetQuote(ctx context.Context, symbol string) (market.Quote, error)
	GetHistoricalBars(ctx context.Context, symbol string, req BarRequest) ([]market.Bar, error)
}

// BarRequest describes a historical bar query.
type BarRequest struct {
	Period   string // e.g. "1d", "5d", "1mo"
	Interval string // e.g. "1m", "5m", "1d"
	Limit    int    // max bars to return, 0 = provider default
}

// Health is a provider's tracked status.
type Health int

const (
	Healthy Health = iota
	Degraded
	Unavailable
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ProviderStatus is a read-only snapshot of one provider's health.
type ProviderStatus struct {
	Name        string
	Health      Health
	Failures    int
	LastSuccess int64 // unix nanos, 0 if never
}
