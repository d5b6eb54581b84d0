// Package strategies defines the strategy capability surface and the
// runner that fans market data out to registered strategies. Strategy
// math is a pluggable collaborator; the runner makes no assumptions
// beyond the capability interfaces.
package strategies

import (
	"fmt"
	"strings"

	"github.com/quantfold/ibot/config"
	"github.com/quantfold/ibot/market"
)

// Strategy is the minimal interface every strategy implements.
// Capabilities beyond it are optional and discovered by assertion.
type Strategy interface {
	Name() string
	Symbols() []string
}

// QuoteHandler receives live quotes. At most one signal per call; nil
// means no action.
type QuoteHandler interface {
	OnQuote(q market.Quote) (*market.Signal, error)
}

// BarHandler receives OHLCV bars.
type BarHandler interface {
	OnBar(b market.Bar) (*market.Signal, error)
}

// FillHandler is notified of confirmed executions.
type FillHandler interface {
	OnFill(symbol string, quantity int, price float64)
}

// PositionHandler is notified when a position changes.
type PositionHandler interface {
	OnPositionUpdate(symbol string, quantity int, avgPrice float64)
}

// FromConfig builds a strategy instance by name.
func FromConfig(cfg config.StrategyConfig) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "sma-cross", "smacross":
		return NewSMACross(cfg.Symbols, cfg.Fast, cfg.Slow), nil
	case "momentum":
		return NewMomentum(cfg.Symbols, cfg.Lookback, cfg.Threshold), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q (supported: sma-cross, momentum)", cfg.Name)
	}
}
