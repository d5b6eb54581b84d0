package strategies

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfold/ibot/config"
	"github.com/quantfold/ibot/market"
)

// scripted emits a fixed signal on every quote.
type scripted struct {
	name string
	sig  *market.Signal
	err  error
	boom bool

	fills     int
	positions int
}

func (s *scripted) Name() string      { return s.name }
func (s *scripted) Symbols() []string { return []string{"AAPL"} }

func (s *scripted) OnQuote(q market.Quote) (*market.Signal, error) {
	if s.boom {
		panic("scripted strategy exploded")
	}
	return s.sig, s.err
}

func (s *scripted) OnFill(symbol string, quantity int, price float64)         { s.fills++ }
func (s *scripted) OnPositionUpdate(symbol string, quantity int, avg float64) { s.positions++ }

func quote(symbol string, price float64) market.Quote {
	return market.Quote{Symbol: symbol, Time: time.Now(), Last: price}
}

func TestDispatchOrderAndCollection(t *testing.T) {
	t.Parallel()

	r := NewRunner(zap.NewNop())
	r.Register(&scripted{name: "a", sig: &market.Signal{Symbol: "AAPL", Kind: market.Buy, Reason: "a"}})
	r.Register(&scripted{name: "b"})
	r.Register(&scripted{name: "c", sig: &market.Signal{Symbol: "AAPL", Kind: market.Sell, Reason: "c"}})

	signals := r.DispatchQuote(quote("AAPL", 150))
	require.Len(t, signals, 2)
	assert.Equal(t, "a", signals[0].Reason, "signals keep registration order")
	assert.Equal(t, "c", signals[1].Reason)
}

func TestStrategyFailureIsIsolated(t *testing.T) {
	t.Parallel()

	r := NewRunner(zap.NewNop())
	r.Register(&scripted{name: "errors", err: errors.New("bad math")})
	r.Register(&scripted{name: "panics", boom: true})
	r.Register(&scripted{name: "works", sig: &market.Signal{Symbol: "AAPL", Kind: market.Buy, Reason: "ok"}})

	signals := r.DispatchQuote(quote("AAPL", 150))
	require.Len(t, signals, 1, "failing strategies must not block the rest")
	assert.Equal(t, "ok", signals[0].Reason)
}

func TestNotifications(t *testing.T) {
	t.Parallel()

	s := &scripted{name: "s"}
	r := NewRunner(zap.NewNop())
	r.Register(s)

	r.NotifyFill("AAPL", 10, 150)
	r.NotifyPosition("AAPL", 10, 150)

	assert.Equal(t, 1, s.fills)
	assert.Equal(t, 1, s.positions)
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	s, err := FromConfig(config.StrategyConfig{Name: "sma-cross", Symbols: []string{"AAPL"}, Fast: 5, Slow: 15})
	require.NoError(t, err)
	assert.Equal(t, "sma-cross(5,15)", s.Name())

	s, err = FromConfig(config.StrategyConfig{Name: "momentum", Symbols: []string{"MSFT"}})
	require.NoError(t, err)
	assert.Contains(t, s.Name(), "momentum")

	_, err = FromConfig(config.StrategyConfig{Name: "hodl"})
	assert.Error(t, err)
}

func TestSMACrossSignals(t *testing.T) {
	t.Parallel()

	s := NewSMACross([]string{"AAPL"}, 2, 4)

	// Falling prices warm up the averages with the fast SMA below.
	var sig *market.Signal
	var err error
	for _, px := range []float64{110, 108, 106, 104, 102} {
		sig, err = s.OnQuote(quote("AAPL", px))
		require.NoError(t, err)
		require.Nil(t, sig)
	}

	// Sharp recovery lifts the fast SMA over the slow one.
	for _, px := range []float64{110, 118} {
		sig, err = s.OnQuote(quote("AAPL", px))
		require.NoError(t, err)
		if sig != nil {
			break
		}
	}
	require.NotNil(t, sig, "golden cross must emit a buy")
	assert.Equal(t, market.Buy, sig.Kind)
	assert.Contains(t, sig.Reason, "golden cross")

	// Strategy is informed it is long; a collapse then closes it.
	s.OnPositionUpdate("AAPL", 10, 118)
	for _, px := range []float64{100, 90, 85, 80} {
		sig, err = s.OnQuote(quote("AAPL", px))
		require.NoError(t, err)
		if sig != nil {
			break
		}
	}
	require.NotNil(t, sig, "death cross must close the long")
	assert.Equal(t, market.CloseLong, sig.Kind)

	// Ignores symbols it does not watch.
	sig, err = s.OnQuote(quote("MSFT", 100))
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestMomentumSignals(t *testing.T) {
	t.Parallel()

	m := NewMomentum([]string{"AAPL"}, 3, 0.05)

	var sig *market.Signal
	var err error
	for _, px := range []float64{100, 100, 100, 100} {
		sig, err = m.OnQuote(quote("AAPL", px))
		require.NoError(t, err)
		require.Nil(t, sig)
	}

	// +8% over the lookback trips the buy.
	sig, err = m.OnQuote(quote("AAPL", 108))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, market.Buy, sig.Kind)

	m.OnPositionUpdate("AAPL", 5, 108)

	// A slide below -5% closes it.
	for _, px := range []float64{104, 100, 96} {
		sig, err = m.OnQuote(quote("AAPL", px))
		require.NoError(t, err)
		if sig != nil {
			break
		}
	}
	require.NotNil(t, sig)
	assert.Equal(t, market.CloseLong, sig.Kind)
}
