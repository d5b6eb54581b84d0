package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantfold/ibot/market"
)

const (
	// paperBaseMark seeds symbols that never had a mark set.
	paperBaseMark  = 100.0
	paperMarkDrift = 0.002

	// paperDelayedLag is how far behind delayed snapshots are stamped,
	// matching the exchange's 15-minute delayed feed.
	paperDelayedLag = 15 * time.Minute
)

// PaperGateway simulates the brokerage connection with no real
// capital: same Gateway surface as live, fills at the current mark or
// the order's limit price. It also powers the test suite.
type PaperGateway struct {
	log *zap.Logger

	mu         sync.Mutex
	connected  bool
	failNext   int // connect attempts to fail, for reconnect tests
	manualFill bool
	nextID     int64
	rng        *rand.Rand
	marks      map[string]float64
	pending    map[string]OrderIntent

	events chan Event
	once   sync.Once
}

// NewPaperGateway creates a disconnected paper gateway.
func NewPaperGateway(log *zap.Logger) *PaperGateway {
	return &PaperGateway{
		log:     log,
		nextID:  1,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		marks:   make(map[string]float64),
		pending: make(map[string]OrderIntent),
		events:  make(chan Event, 256),
	}
}

// SetManualFill stops automatic fills; orders stay Submitted until
// FillOrder is called. Used to exercise in-flight order handling.
func (g *PaperGateway) SetManualFill(v bool) {
	g.mu.Lock()
	g.manualFill = v
	g.mu.Unlock()
}

// FailConnects makes the next n Connect calls fail.
func (g *PaperGateway) FailConnects(n int) {
	g.mu.Lock()
	g.failNext = n
	g.mu.Unlock()
}

// SetMark updates the simulated market price for a symbol.
func (g *PaperGateway) SetMark(symbol string, price float64) {
	g.mu.Lock()
	g.marks[symbol] = price
	g.mu.Unlock()
}

func (g *PaperGateway) Connect(ctx context.Context, host string, port, clientID int) error {
	g.mu.Lock()
	if g.failNext > 0 {
		g.failNext--
		g.mu.Unlock()
		return fmt.Errorf("paper gateway: connection refused (%s:%d)", host, port)
	}
	g.connected = true
	next := g.nextID
	g.mu.Unlock()

	g.publish(Event{Kind: EventNextOrderID, Time: time.Now(), NextOrderID: next})
	g.publish(Event{Kind: EventAccountSummary, Time: time.Now(), AccountID: "PAPER-001"})
	return nil
}

// DropSession simulates an unexpected session loss.
func (g *PaperGateway) DropSession() {
	g.mu.Lock()
	g.connected = false
	g.mu.Unlock()
	g.publish(Event{Kind: EventDisconnected, Time: time.Now()})
}

func (g *PaperGateway) Disconnect() {
	g.mu.Lock()
	g.connected = false
	g.mu.Unlock()
	g.once.Do(func() { close(g.events) })
}

func (g *PaperGateway) Events() <-chan Event {
	return g.events
}

// Snapshot serves a simulated quote around the symbol's current mark,
// random-walking it like a live feed would move. Delayed snapshots are
// stamped in the past the way a delayed-entitlement account sees them.
func (g *PaperGateway) Snapshot(ctx context.Context, symbol string, delayed bool) (market.Quote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return market.Quote{}, fmt.Errorf("paper gateway: not connected")
	}

	px, ok := g.marks[symbol]
	if !ok {
		px = paperBaseMark
	}
	px *= 1 + (g.rng.Float64()*2-1)*paperMarkDrift
	g.marks[symbol] = px

	ts := time.Now()
	if delayed {
		ts = ts.Add(-paperDelayedLag)
	}
	spread := px * 0.0002
	return market.Quote{
		Symbol: symbol,
		Time:   ts,
		Bid:    px - spread/2,
		Ask:    px + spread/2,
		Last:   px,
	}, nil
}

// HistoricalBars synthesizes a random walk ending near the current
// mark. Interval strings that are not durations ("1d") fall back to
// one-minute spacing.
func (g *PaperGateway) HistoricalBars(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil, fmt.Errorf("paper gateway: not connected")
	}
	if limit <= 0 {
		limit = 100
	}
	step := time.Minute
	if d, err := time.ParseDuration(interval); err == nil && d > 0 {
		step = d
	}

	px, ok := g.marks[symbol]
	if !ok {
		px = paperBaseMark
	}

	now := time.Now()
	bars := make([]market.Bar, 0, limit)
	for i := limit; i > 0; i-- {
		open := px
		px *= 1 + (g.rng.Float64()*2-1)*paperMarkDrift
		high, low := open, px
		if px > open {
			high, low = px, open
		}
		bars = append(bars, market.Bar{
			Symbol: symbol,
			Time:   now.Add(-time.Duration(i) * step),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  px,
			Volume: float64(g.rng.Intn(10000)),
		})
	}
	return bars, nil
}

func (g *PaperGateway) PlaceOrder(ctx context.Context, intent OrderIntent) (string, error) {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return "", fmt.Errorf("paper gateway: not connected")
	}
	if intent.Quantity <= 0 {
		g.mu.Unlock()
		return "", fmt.Errorf("paper gateway: invalid quantity %d", intent.Quantity)
	}

	id := fmt.Sprintf("%d", g.nextID)
	g.nextID++

	price := intent.LimitPrice
	if mark, ok := g.marks[intent.Symbol]; ok && intent.Type == "MKT" {
		price = mark
	}
	manual := g.manualFill
	if manual {
		g.pending[id] = intent
	}
	g.mu.Unlock()

	g.publish(Event{Kind: EventOrderStatus, Time: time.Now(), OrderID: id, Status: StatusSubmitted})

	if !manual {
		g.fill(id, intent, intent.Quantity, price)
	}
	return id, nil
}

// FillOrder fills quantity of a pending manual-mode order at price.
func (g *PaperGateway) FillOrder(orderID string, quantity int, price float64) error {
	g.mu.Lock()
	intent, ok := g.pending[orderID]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("paper gateway: no pending order %s", orderID)
	}
	if quantity >= intent.Quantity {
		quantity = intent.Quantity
		g.mu.Lock()
		delete(g.pending, orderID)
		g.mu.Unlock()
	} else {
		intent.Quantity -= quantity
		g.mu.Lock()
		g.pending[orderID] = intent
		g.mu.Unlock()
	}
	g.fill(orderID, intent, quantity, price)
	return nil
}

// RejectOrder terminates a pending manual-mode order broker-side.
func (g *PaperGateway) RejectOrder(orderID, reason string) {
	g.mu.Lock()
	delete(g.pending, orderID)
	g.mu.Unlock()
	g.publish(Event{Kind: EventOrderStatus, Time: time.Now(), OrderID: orderID, Status: StatusRejected, Reason: reason})
}

func (g *PaperGateway) CancelOrder(ctx context.Context, orderID string) error {
	g.mu.Lock()
	_, ok := g.pending[orderID]
	delete(g.pending, orderID)
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("paper gateway: no pending order %s", orderID)
	}
	g.publish(Event{Kind: EventOrderStatus, Time: time.Now(), OrderID: orderID, Status: StatusCancelled})
	return nil
}

func (g *PaperGateway) fill(orderID string, intent OrderIntent, quantity int, price float64) {
	g.publish(Event{Kind: EventFill, Time: time.Now(), Fill: Fill{
		OrderID:  orderID,
		Symbol:   intent.Symbol,
		Side:     intent.Side,
		Quantity: quantity,
		Price:    price,
		Time:     time.Now(),
	}})

	g.mu.Lock()
	_, stillPending := g.pending[orderID]
	g.mu.Unlock()

	status := StatusFilled
	if stillPending {
		status = StatusPartiallyFilled
	}
	g.publish(Event{Kind: EventOrderStatus, Time: time.Now(), OrderID: orderID, Status: status})
}

func (g *PaperGateway) publish(ev Event) {
	select {
	case g.events <- ev:
	default:
		g.log.Error("paper gateway event buffer full, dropping event")
	}
}
