package marketdata

import (
	"context"

	"github.com/quantfold/ibot/market"
)

// GatewaySession is the slice of the supervised brokerage connection
// the gateway provider reads market data through.
type GatewaySession interface {
	Snapshot(ctx context.Context, symbol string, delayed bool) (market.Quote, error)
	HistoricalBars(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error)
}

// GatewayProvider serves quotes and bars over the brokerage session,
// honoring the account's delayed-data entitlement. While the session
// is down every call fails, which the hub treats like any provider
// outage: after the failure threshold it demotes the provider and
// routes to the configured fallbacks until the supervisor reconnects
// and a probe restores it.
type GatewayProvider struct {
	session GatewaySession
	delayed bool
}

// NewGatewayProvider wraps the supervised session as a hub provider.
func NewGatewayProvider(session GatewaySession, delayed bool) *GatewayProvider {
	return &GatewayProvider{session: session, delayed: delayed}
}

func (p *GatewayProvider) Name() string { return "ibkr" }

func (p *GatewayProvider) GetQuote(ctx context.Context, symbol string) (market.Quote, error) {
	return p.session.Snapshot(ctx, symbol, p.delayed)
}

func (p *GatewayProvider) GetHistoricalBars(ctx context.Context, symbol string, req BarRequest) ([]market.Bar, error) {
	interval := req.Interval
	if interval == "" {
		interval = "1m"
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	return p.session.HistoricalBars(ctx, symbol, interval, limit)
}
