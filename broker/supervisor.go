package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quantfold/ibot/market"
)

// State is the connection lifecycle state. Mutated only by the
// Supervisor; read elsewhere without locking.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Degraded
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

const (
	defaultConnectTimeout  = 10 * time.Second
	defaultBackoffInitial  = time.Second
	defaultBackoffMax      = 60 * time.Second
	defaultInitialAttempts = 3
)

// Supervisor owns the gateway session lifecycle and reconnection
// policy. It re-publishes gateway events on its own ordered channel so
// the orchestrator consumes fills and status changes from one place.
type Supervisor struct {
	log *zap.Logger
	gw  Gateway

	host     string
	port     int
	clientID int

	connectTimeout  time.Duration
	backoffInitial  time.Duration
	backoffMax      time.Duration
	initialAttempts int

	state       atomic.Int32
	nextOrderID atomic.Int64

	mu        sync.Mutex
	accountID string

	out chan Event

	// sleep is swapped out by tests to observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSupervisor wraps a gateway with lifecycle management.
func NewSupervisor(log *zap.Logger, gw Gateway, host string, port, clientID int) *Supervisor {
	return &Supervisor{
		log:             log,
		gw:              gw,
		host:            host,
		port:            port,
		clientID:        clientID,
		connectTimeout:  defaultConnectTimeout,
		backoffInitial:  defaultBackoffInitial,
		backoffMax:      defaultBackoffMax,
		initialAttempts: defaultInitialAttempts,
		out:             make(chan Event, 256),
		sleep:           sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// IsConnected reports whether the session is up.
func (s *Supervisor) IsConnected() bool {
	return s.State() == Connected
}

// AccountID returns the broker account identifier, once known.
func (s *Supervisor) AccountID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID
}

// NextOrderID returns the next available order sequence number.
func (s *Supervisor) NextOrderID() int64 {
	return s.nextOrderID.Add(1)
}

// Events is the single ordered inbound stream for the orchestrator.
// It closes when Run returns.
func (s *Supervisor) Events() <-chan Event {
	return s.out
}

// Snapshot serves a quote over the supervised session. While the
// session is down it fails fast with market.ErrNotAvailable, so the
// market data hub fails over to its fallback providers instead of
// blocking on a dead connection.
func (s *Supervisor) Snapshot(ctx context.Context, symbol string, delayed bool) (market.Quote, error) {
	if !s.IsConnected() {
		return market.Quote{}, fmt.Errorf("snapshot %s: session %s: %w", symbol, s.State(), market.ErrNotAvailable)
	}
	return s.gw.Snapshot(ctx, symbol, delayed)
}

// HistoricalBars serves bar history over the supervised session, with
// the same fail-fast behavior as Snapshot.
func (s *Supervisor) HistoricalBars(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error) {
	if !s.IsConnected() {
		return nil, fmt.Errorf("bars %s: session %s: %w", symbol, s.State(), market.ErrNotAvailable)
	}
	return s.gw.HistoricalBars(ctx, symbol, interval, limit)
}

// Connect performs the initial connection. Unlike mid-run drops, a
// failure here past the attempt ceiling is fatal to startup.
func (s *Supervisor) Connect(ctx context.Context) error {
	delay := s.backoffInitial
	start := time.Now()

	for attempt := 1; attempt <= s.initialAttempts; attempt++ {
		s.state.Store(int32(Connecting))

		cctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
		err := s.gw.Connect(cctx, s.host, s.port, s.clientID)
		cancel()

		if err == nil {
			s.state.Store(int32(Connected))
			s.log.Info("gateway connected",
				zap.String("host", s.host),
				zap.Int("port", s.port),
				zap.Int("attempt", attempt),
				zap.Duration("elapsed", time.Since(start)))
			return nil
		}

		s.log.Warn("initial connect failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.initialAttempts),
			zap.Error(err))

		if attempt < s.initialAttempts {
			if serr := s.sleep(ctx, delay); serr != nil {
				s.state.Store(int32(Disconnected))
				return serr
			}
			delay = s.nextDelay(delay)
		}
	}

	s.state.Store(int32(Disconnected))
	return fmt.Errorf("connect to gateway %s:%d: %d attempts exhausted", s.host, s.port, s.initialAttempts)
}

// Run pumps gateway events until ctx is done, updating connection
// state and reconnecting on session drops. Mid-run failures are never
// fatal; they degrade and retry with capped exponential backoff.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.out)

	events := s.gw.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if s.handle(ev) {
				if err := s.reconnect(ctx); err != nil {
					return err
				}
			}
		}
	}
}

// handle updates supervisor state from an event and forwards it.
// It returns true when a reconnect is needed.
func (s *Supervisor) handle(ev Event) bool {
	switch ev.Kind {
	case EventNextOrderID:
		// Keep the local sequence at least as high as the broker's.
		for {
			cur := s.nextOrderID.Load()
			if ev.NextOrderID <= cur || s.nextOrderID.CompareAndSwap(cur, ev.NextOrderID) {
				break
			}
		}
	case EventAccountSummary:
		s.mu.Lock()
		s.accountID = ev.AccountID
		s.mu.Unlock()
	case EventDisconnected:
		if s.State() == Connected {
			s.state.Store(int32(Degraded))
			s.log.Warn("gateway session dropped")
		}
		s.forward(ev)
		return true
	}
	s.forward(ev)
	return false
}

func (s *Supervisor) forward(ev Event) {
	select {
	case s.out <- ev:
	default:
		s.log.Error("event queue full, dropping event", zap.Int("kind", int(ev.Kind)))
	}
}

// reconnect retries the session with exponential backoff until it is
// restored or ctx is cancelled. Retry count is unbounded.
func (s *Supervisor) reconnect(ctx context.Context) error {
	delay := s.backoffInitial
	start := time.Now()

	for attempt := 1; ; attempt++ {
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}

		s.state.Store(int32(Connecting))
		s.log.Info("reconnecting to gateway",
			zap.Int("attempt", attempt),
			zap.Duration("elapsed", time.Since(start)),
			zap.Duration("delay", delay))

		cctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
		err := s.gw.Connect(cctx, s.host, s.port, s.clientID)
		cancel()

		if err == nil {
			s.state.Store(int32(Connected))
			s.log.Info("gateway reconnected",
				zap.Int("attempts", attempt),
				zap.Duration("elapsed", time.Since(start)))
			return nil
		}

		s.log.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		delay = s.nextDelay(delay)
	}
}

func (s *Supervisor) nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > s.backoffMax {
		d = s.backoffMax
	}
	return d
}

// Disconnect releases the session. Safe on all exit paths.
func (s *Supervisor) Disconnect() {
	s.gw.Disconnect()
	s.state.Store(int32(Disconnected))
	s.log.Info("gateway disconnected")
}
