package strategies

import (
	"go.uber.org/zap"

	"github.com/quantfold/ibot/market"
)

// Runner fans market data out to registered strategies in registration
// order and collects their signals. A failure in one strategy is
// logged with its identity and never prevents dispatch to the rest.
type Runner struct {
	log        *zap.Logger
	strategies []Strategy
}

// NewRunner creates an empty runner.
func NewRunner(log *zap.Logger) *Runner {
	return &Runner{log: log}
}

// Register appends a strategy. Registration order is dispatch order.
func (r *Runner) Register(s Strategy) {
	r.strategies = append(r.strategies, s)
	r.log.Info("strategy registered",
		zap.String("strategy", s.Name()),
		zap.Strings("symbols", s.Symbols()))
}

// Strategies returns the registered strategies in order.
func (r *Runner) Strategies() []Strategy {
	return r.strategies
}

// DispatchQuote offers a quote to every quote-capable strategy and
// returns the produced signals in registration order.
func (r *Runner) DispatchQuote(q market.Quote) []market.Signal {
	var signals []market.Signal
	for _, s := range r.strategies {
		h, ok := s.(QuoteHandler)
		if !ok {
			continue
		}
		if sig := r.invoke(s, func() (*market.Signal, error) { return h.OnQuote(q) }); sig != nil {
			signals = append(signals, *sig)
		}
	}
	return signals
}

// DispatchBar offers a bar to every bar-capable strategy.
func (r *Runner) DispatchBar(b market.Bar) []market.Signal {
	var signals []market.Signal
	for _, s := range r.strategies {
		h, ok := s.(BarHandler)
		if !ok {
			continue
		}
		if sig := r.invoke(s, func() (*market.Signal, error) { return h.OnBar(b) }); sig != nil {
			signals = append(signals, *sig)
		}
	}
	return signals
}

// invoke isolates one strategy call: errors and panics are logged and
// swallowed so the cycle continues for the remaining strategies.
func (r *Runner) invoke(s Strategy, call func() (*market.Signal, error)) (sig *market.Signal) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("strategy panicked",
				zap.String("strategy", s.Name()),
				zap.Any("panic", p))
			sig = nil
		}
	}()

	sig, err := call()
	if err != nil {
		r.log.Error("strategy error",
			zap.String("strategy", s.Name()),
			zap.Error(err))
		return nil
	}
	return sig
}

// NotifyFill informs fill-capable strategies of an execution.
func (r *Runner) NotifyFill(symbol string, quantity int, price float64) {
	for _, s := range r.strategies {
		if h, ok := s.(FillHandler); ok {
			r.notify(s, func() { h.OnFill(symbol, quantity, price) })
		}
	}
}

// NotifyPosition informs position-capable strategies of a change.
func (r *Runner) NotifyPosition(symbol string, quantity int, avgPrice float64) {
	for _, s := range r.strategies {
		if h, ok := s.(PositionHandler); ok {
			r.notify(s, func() { h.OnPositionUpdate(symbol, quantity, avgPrice) })
		}
	}
}

func (r *Runner) notify(s Strategy, call func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("strategy panicked",
				zap.String("strategy", s.Name()),
				zap.Any("panic", p))
		}
	}()
	call()
}
