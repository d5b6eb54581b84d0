// Package bot wires the market data hub, strategies, risk gate and
// order executor into the trading loop.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quantfold/ibot/broker"
	"github.com/quantfold/ibot/config"
	"github.com/quantfold/ibot/journal"
	"github.com/quantfold/ibot/market"
	"github.com/quantfold/ibot/marketdata"
	"github.com/quantfold/ibot/orders"
	"github.com/quantfold/ibot/risk"
	"github.com/quantfold/ibot/strategies"
)

const (
	defaultShutdownGrace = 10 * time.Second
	statusInterval       = 60 * time.Second
)

// Bot runs the trading cycle: fetch quotes, dispatch to strategies,
// validate signals, submit orders, reconcile fills.
type Bot struct {
	log    *zap.Logger
	cfg    *config.Config
	hub    *marketdata.Hub
	sup    *broker.Supervisor
	gate   *risk.Gate
	exec   *orders.Executor
	runner *strategies.Runner
	jnl    journal.Journal

	interval time.Duration
	grace    time.Duration
	symbols  []string
}

// New assembles a bot from already-constructed components. Strategies
// must be registered on the runner before this call; the watched symbol
// set is fixed here.
func New(log *zap.Logger, cfg *config.Config, hub *marketdata.Hub, sup *broker.Supervisor,
	gate *risk.Gate, exec *orders.Executor, runner *strategies.Runner, jnl journal.Journal) (*Bot, error) {

	interval, err := cfg.Trading.ParseInterval()
	if err != nil {
		return nil, fmt.Errorf("trading interval: %w", err)
	}
	if jnl == nil {
		jnl = journal.Nop{}
	}

	return &Bot{
		log:      log,
		cfg:      cfg,
		hub:      hub,
		sup:      sup,
		gate:     gate,
		exec:     exec,
		runner:   runner,
		jnl:      jnl,
		interval: interval,
		grace:    defaultShutdownGrace,
		symbols:  watchedSymbols(runner),
	}, nil
}

// watchedSymbols is the union of all strategy symbols, deduplicated,
// in registration order.
func watchedSymbols(runner *strategies.Runner) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range runner.Strategies() {
		for _, sym := range s.Symbols() {
			if !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
	}
	return out
}

// Run connects to the gateway and drives the trading loop until ctx is
// cancelled. On shutdown the cycle stops first, open orders get the
// grace period to fill, and only then does the session close.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.sup.Connect(ctx); err != nil {
		return fmt.Errorf("initial connect: %w", err)
	}

	// The event pump outlives ctx so fills arriving during shutdown
	// still reconcile.
	pumpCtx, stopPump := context.WithCancel(context.Background())
	defer stopPump()

	var g errgroup.Group
	g.Go(func() error { return ignoreCancel(b.sup.Run(pumpCtx)) })
	g.Go(func() error { return ignoreCancel(b.hub.RunProbe(pumpCtx)) })
	g.Go(func() error { return b.pump(pumpCtx) })

	b.log.Info("trading loop started",
		zap.Duration("interval", b.interval),
		zap.Strings("symbols", b.symbols),
		zap.Bool("trading_enabled", b.cfg.Trading.Enabled),
		zap.Bool("paper", b.cfg.Trading.Paper))

	b.loop(ctx)

	if n := b.exec.InFlight(); n > 0 {
		b.log.Info("waiting for open orders", zap.Int("in_flight", n), zap.Duration("grace", b.grace))
		graceCtx, cancel := context.WithTimeout(context.Background(), b.grace)
		if err := b.exec.WaitIdle(graceCtx); err != nil {
			b.log.Warn("open orders remain at shutdown",
				zap.Int("in_flight", b.exec.InFlight()),
				zap.Error(err))
		}
		cancel()
	}

	stopPump()
	err := g.Wait()
	b.sup.Disconnect()
	b.logStatus()
	return err
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *Bot) loop(ctx context.Context) {
	cycle := time.NewTicker(b.interval)
	defer cycle.Stop()
	status := time.NewTicker(statusInterval)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cycle.C:
			b.cycle(ctx)
		case <-status.C:
			b.logStatus()
		}
	}
}

// pump consumes the supervisor's ordered event stream and folds fills
// and order status into the executor, the risk ledger and strategies.
func (b *Bot) pump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-b.sup.Events():
			if !ok {
				return nil
			}
			b.handleEvent(ev)
		}
	}
}

func (b *Bot) handleEvent(ev broker.Event) {
	switch ev.Kind {
	case broker.EventFill:
		b.exec.HandleEvent(ev)
		b.runner.NotifyFill(ev.Fill.Symbol, ev.Fill.SignedQuantity(), ev.Fill.Price)

		qty, avg := 0, 0.0
		if pos, ok := b.gate.PositionFor(ev.Fill.Symbol); ok {
			qty, avg = pos.Quantity, pos.AvgPrice
		}
		b.runner.NotifyPosition(ev.Fill.Symbol, qty, avg)
	case broker.EventOrderStatus:
		b.exec.HandleEvent(ev)
	case broker.EventError:
		b.log.Warn("gateway error", zap.Int("code", ev.Code), zap.String("error", ev.Err))
	case broker.EventDisconnected:
		b.log.Warn("session dropped, supervisor reconnecting")
	case broker.EventAccountSummary:
		b.log.Info("account summary",
			zap.String("account", ev.AccountID),
			zap.Float64("equity", ev.Equity))
	}
}

// cycle runs one pass over the watched symbols. Quote fetching and
// strategy dispatch continue even while the gateway is degraded; only
// order submission requires a live session.
func (b *Bot) cycle(ctx context.Context) {
	for _, sym := range b.symbols {
		q, err := b.hub.GetQuote(ctx, sym, true)
		if err != nil {
			b.log.Warn("quote unavailable, skipping symbol",
				zap.String("symbol", sym), zap.Error(err))
			continue
		}
		if price := q.Price(); price > 0 {
			b.gate.UpdateMark(sym, price)
		}

		for _, sig := range b.runner.DispatchQuote(q) {
			b.handleSignal(ctx, sig)
		}
	}
}

func (b *Bot) handleSignal(ctx context.Context, sig market.Signal) {
	if sig.Kind == market.Hold {
		return
	}

	d := b.gate.Validate(sig)
	if !d.Accepted {
		b.log.Info("signal rejected",
			zap.String("signal", sig.String()),
			zap.String("code", string(d.Code)),
			zap.String("reason", d.Reason))
		return
	}

	if !b.cfg.Trading.Enabled {
		b.log.Info("monitor mode, signal not executed", zap.String("signal", sig.String()))
		b.gate.Release(d)
		return
	}
	if !b.sup.IsConnected() {
		b.log.Warn("gateway not connected, signal dropped", zap.String("signal", sig.String()))
		b.gate.Release(d)
		return
	}

	if _, err := b.exec.Submit(ctx, d); err != nil {
		if errors.Is(err, orders.ErrDuplicate) {
			b.log.Info("signal skipped, order already in flight", zap.String("signal", sig.String()))
			return
		}
		b.log.Error("order submission failed",
			zap.String("signal", sig.String()),
			zap.Error(err))
	}
}

func (b *Bot) logStatus() {
	sum := b.gate.Snapshot()
	b.log.Info("status",
		zap.String("connection", b.sup.State().String()),
		zap.Int("positions", sum.Positions),
		zap.Float64("exposure", sum.Exposure),
		zap.Float64("reserved", sum.Reserved),
		zap.Float64("realized", sum.Realized),
		zap.Float64("unrealized", sum.Unrealized),
		zap.Bool("halted", sum.Halted),
		zap.Int("orders_in_flight", b.exec.InFlight()))

	for _, ps := range b.hub.Status() {
		if ps.Health != marketdata.Healthy {
			b.log.Warn("provider unhealthy",
				zap.String("provider", ps.Name),
				zap.String("health", ps.Health.String()),
				zap.Int("failures", ps.Failures))
		}
	}

	if err := b.jnl.RecordEquity(journal.EquitySnapshot{
		Time:       time.Now(),
		Positions:  sum.Positions,
		Exposure:   sum.Exposure,
		Unrealized: sum.Unrealized,
		Realized:   sum.Realized,
	}); err != nil {
		b.log.Error("journal equity", zap.Error(err))
	}
}
