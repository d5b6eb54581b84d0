package orders

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfold/ibot/broker"
	"github.com/quantfold/ibot/journal"
	"github.com/quantfold/ibot/market"
	"github.com/quantfold/ibot/risk"
)

type fakePlacer struct {
	mu        sync.Mutex
	placed    []broker.OrderIntent
	cancelled []string
	fail      error
	next      int
}

func (p *fakePlacer) PlaceOrder(ctx context.Context, intent broker.OrderIntent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return "", p.fail
	}
	p.next++
	p.placed = append(p.placed, intent)
	return strconv.Itoa(p.next), nil
}

func (p *fakePlacer) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, orderID)
	return nil
}

type captureJournal struct {
	mu     sync.Mutex
	orders []journal.OrderRecord
	fills  []journal.FillRecord
}

func (c *captureJournal) RecordOrder(o journal.OrderRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = append(c.orders, o)
	return nil
}

func (c *captureJournal) RecordFill(f journal.FillRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fills = append(c.fills, f)
	return nil
}

func (c *captureJournal) RecordEquity(journal.EquitySnapshot) error { return nil }
func (c *captureJournal) Close() error                              { return nil }

func testLimits() risk.Limits {
	return risk.Limits{
		MaxPositionValue: 10000,
		MaxPositions:     5,
		MaxDailyLoss:     500,
		MaxOrderValue:    5000,
	}
}

func buySignal(symbol string, qty int, price float64) market.Signal {
	return market.Signal{Symbol: symbol, Kind: market.Buy, Quantity: qty, Price: price, Time: time.Now()}
}

func fillEvent(brokerID, symbol string, side broker.Side, qty int, price float64) broker.Event {
	return broker.Event{
		Kind: broker.EventFill,
		Fill: broker.Fill{
			OrderID:  brokerID,
			Symbol:   symbol,
			Side:     side,
			Quantity: qty,
			Price:    price,
			Time:     time.Now(),
		},
	}
}

func statusEvent(brokerID string, status broker.OrderStatus, reason string) broker.Event {
	return broker.Event{Kind: broker.EventOrderStatus, OrderID: brokerID, Status: status, Reason: reason}
}

func TestSubmitPlacesOrder(t *testing.T) {
	t.Parallel()

	gate := risk.NewGate(zap.NewNop(), testLimits(), "LMT")
	placer := &fakePlacer{}
	jnl := &captureJournal{}
	exec := NewExecutor(zap.NewNop(), placer, gate, jnl)

	d := gate.Validate(buySignal("AAPL", 10, 150))
	require.True(t, d.Accepted)

	rec, err := exec.Submit(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, Submitted, rec.Status)
	assert.Equal(t, "1", rec.BrokerID)
	assert.NotEmpty(t, rec.ID)

	require.Len(t, placer.placed, 1)
	assert.Equal(t, d.Intent, placer.placed[0])
	assert.Equal(t, 1, exec.InFlight())

	require.NotEmpty(t, jnl.orders)
	assert.Equal(t, "Submitted", jnl.orders[len(jnl.orders)-1].Status)
}

func TestDuplicateSymbolRejected(t *testing.T) {
	t.Parallel()

	gate := risk.NewGate(zap.NewNop(), testLimits(), "LMT")
	exec := NewExecutor(zap.NewNop(), &fakePlacer{}, gate, nil)

	first := gate.Validate(buySignal("AAPL", 10, 150))
	require.True(t, first.Accepted)
	_, err := exec.Submit(context.Background(), first)
	require.NoError(t, err)

	second := gate.Validate(buySignal("AAPL", 5, 150))
	require.True(t, second.Accepted)
	_, err = exec.Submit(context.Background(), second)
	require.ErrorIs(t, err, ErrDuplicate)

	// The duplicate's reservation was handed back, the original stays.
	assert.InDelta(t, 1500.0, gate.Snapshot().Reserved, 1e-9)
	assert.Equal(t, 1, exec.InFlight())
}

func TestOppositeSideAllowedWhileOpen(t *testing.T) {
	t.Parallel()

	gate := risk.NewGate(zap.NewNop(), testLimits(), "LMT")
	placer := &fakePlacer{}
	exec := NewExecutor(zap.NewNop(), placer, gate, nil)

	buy := gate.Validate(buySignal("AAPL", 10, 150))
	require.True(t, buy.Accepted)
	rec, err := exec.Submit(context.Background(), buy)
	require.NoError(t, err)

	// The buy fills; an explicit close may pass the duplicate check.
	exec.HandleEvent(fillEvent(rec.BrokerID, "AAPL", broker.BuySide, 10, 150))

	sell := gate.Validate(market.Signal{Symbol: "AAPL", Kind: market.CloseLong, Price: 155})
	require.True(t, sell.Accepted)
	_, err = exec.Submit(context.Background(), sell)
	require.NoError(t, err)
	require.Len(t, placer.placed, 2)
	assert.Equal(t, broker.SellSide, placer.placed[1].Side)
}

func TestPlaceFailureReleasesReservation(t *testing.T) {
	t.Parallel()

	gate := risk.NewGate(zap.NewNop(), testLimits(), "LMT")
	placer := &fakePlacer{fail: errors.New("gateway unavailable")}
	jnl := &captureJournal{}
	exec := NewExecutor(zap.NewNop(), placer, gate, jnl)

	d := gate.Validate(buySignal("AAPL", 10, 150))
	require.True(t, d.Accepted)

	_, err := exec.Submit(context.Background(), d)
	require.Error(t, err)

	assert.Zero(t, gate.Snapshot().Reserved)
	assert.Zero(t, exec.InFlight())
	require.NotEmpty(t, jnl.orders)
	assert.Equal(t, "Rejected", jnl.orders[len(jnl.orders)-1].Status)

	// The slot was released too: five other symbols still fit.
	for _, sym := range []string{"A", "B", "C", "D", "E"} {
		require.True(t, gate.Validate(buySignal(sym, 1, 100)).Accepted, sym)
	}
}

func TestFullFillReconciles(t *testing.T) {
	t.Parallel()

	gate := risk.NewGate(zap.NewNop(), testLimits(), "LMT")
	jnl := &captureJournal{}
	exec := NewExecutor(zap.NewNop(), &fakePlacer{}, gate, jnl)

	d := gate.Validate(buySignal("AAPL", 10, 150))
	require.True(t, d.Accepted)
	rec, err := exec.Submit(context.Background(), d)
	require.NoError(t, err)

	exec.HandleEvent(fillEvent(rec.BrokerID, "AAPL", broker.BuySide, 10, 150))

	got, ok := exec.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, Filled, got.Status)
	assert.Equal(t, 10, got.FilledQuantity)
	assert.InDelta(t, 150.0, got.AvgFillPrice, 1e-9)

	pos, ok := gate.PositionFor("AAPL")
	require.True(t, ok)
	assert.Equal(t, 10, pos.Quantity)
	assert.InDelta(t, 150.0, pos.AvgPrice, 1e-9)

	assert.Zero(t, gate.Snapshot().Reserved, "reservation fully reconciled")
	assert.Zero(t, exec.InFlight())
	require.Len(t, jnl.fills, 1)
	assert.Equal(t, 10, jnl.fills[0].Quantity)
}

func TestPartialFills(t *testing.T) {
	t.Parallel()

	gate := risk.NewGate(zap.NewNop(), testLimits(), "LMT")
	exec := NewExecutor(zap.NewNop(), &fakePlacer{}, gate, nil)

	d := gate.Validate(buySignal("AAPL", 10, 150))
	require.True(t, d.Accepted)
	rec, err := exec.Submit(context.Background(), d)
	require.NoError(t, err)

	exec.HandleEvent(fillEvent(rec.BrokerID, "AAPL", broker.BuySide, 6, 150))

	got, _ := exec.Get(rec.ID)
	assert.Equal(t, PartiallyFilled, got.Status)
	assert.Equal(t, 6, got.FilledQuantity)
	assert.InDelta(t, 600.0, gate.Snapshot().Reserved, 1e-9, "unfilled share stays reserved")

	exec.HandleEvent(fillEvent(rec.BrokerID, "AAPL", broker.BuySide, 4, 152))

	got, _ = exec.Get(rec.ID)
	assert.Equal(t, Filled, got.Status)
	assert.Equal(t, 10, got.FilledQuantity)
	assert.InDelta(t, 150.8, got.AvgFillPrice, 1e-9)
	assert.Zero(t, gate.Snapshot().Reserved)

	pos, ok := gate.PositionFor("AAPL")
	require.True(t, ok)
	assert.Equal(t, 10, pos.Quantity)
	assert.InDelta(t, 150.8, pos.AvgPrice, 1e-9)
}

func TestBrokerRejectionReleasesReservation(t *testing.T) {
	t.Parallel()

	gate := risk.NewGate(zap.NewNop(), testLimits(), "LMT")
	exec := NewExecutor(zap.NewNop(), &fakePlacer{}, gate, nil)

	d := gate.Validate(buySignal("AAPL", 10, 150))
	require.True(t, d.Accepted)
	rec, err := exec.Submit(context.Background(), d)
	require.NoError(t, err)

	exec.HandleEvent(statusEvent(rec.BrokerID, broker.StatusRejected, "margin"))

	got, _ := exec.Get(rec.ID)
	assert.Equal(t, Rejected, got.Status)
	assert.Equal(t, "margin", got.Reason)
	assert.Zero(t, gate.Snapshot().Reserved)
	assert.Zero(t, exec.InFlight())

	// A fresh signal for the same symbol must pass again.
	assert.True(t, gate.Validate(buySignal("AAPL", 10, 150)).Accepted)
}

func TestCancellationAfterPartialFill(t *testing.T) {
	t.Parallel()

	gate := risk.NewGate(zap.NewNop(), testLimits(), "LMT")
	placer := &fakePlacer{}
	exec := NewExecutor(zap.NewNop(), placer, gate, nil)

	d := gate.Validate(buySignal("AAPL", 10, 150))
	require.True(t, d.Accepted)
	rec, err := exec.Submit(context.Background(), d)
	require.NoError(t, err)

	exec.HandleEvent(fillEvent(rec.BrokerID, "AAPL", broker.BuySide, 4, 150))

	require.NoError(t, exec.Cancel(context.Background(), rec.ID))
	require.Equal(t, []string{rec.BrokerID}, placer.cancelled)

	exec.HandleEvent(statusEvent(rec.BrokerID, broker.StatusCancelled, "requested"))

	got, _ := exec.Get(rec.ID)
	assert.Equal(t, Cancelled, got.Status)
	assert.Equal(t, 4, got.FilledQuantity, "filled part survives the cancel")
	assert.Zero(t, gate.Snapshot().Reserved, "unfilled reservation returned")

	pos, ok := gate.PositionFor("AAPL")
	require.True(t, ok)
	assert.Equal(t, 4, pos.Quantity)
}

func TestFillArrivingBeforeRegistrationIsReplayed(t *testing.T) {
	t.Parallel()

	gate := risk.NewGate(zap.NewNop(), testLimits(), "LMT")
	exec := NewExecutor(zap.NewNop(), &fakePlacer{}, gate, nil)

	// The broker confirms before PlaceOrder even returns; the event
	// beats the registration of broker id "1".
	exec.HandleEvent(fillEvent("1", "AAPL", broker.BuySide, 10, 150))

	d := gate.Validate(buySignal("AAPL", 10, 150))
	require.True(t, d.Accepted)
	rec, err := exec.Submit(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, Filled, rec.Status, "stashed fill must replay on registration")
	pos, ok := gate.PositionFor("AAPL")
	require.True(t, ok)
	assert.Equal(t, 10, pos.Quantity)
	assert.Zero(t, gate.Snapshot().Reserved)
}

func TestStashedEventsApplyInArrivalOrder(t *testing.T) {
	t.Parallel()

	gate := risk.NewGate(zap.NewNop(), testLimits(), "LMT")
	exec := NewExecutor(zap.NewNop(), &fakePlacer{}, gate, nil)

	// A partial fill and then the cancel confirmation, both beating the
	// registration of broker id "1". Folding them in the opposite order
	// would resurrect the cancelled order as partially filled.
	exec.HandleEvent(fillEvent("1", "AAPL", broker.BuySide, 4, 150))
	exec.HandleEvent(statusEvent("1", broker.StatusCancelled, "requested"))

	d := gate.Validate(buySignal("AAPL", 10, 150))
	require.True(t, d.Accepted)
	rec, err := exec.Submit(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, Cancelled, rec.Status)
	assert.Equal(t, 4, rec.FilledQuantity, "fill applied before the cancel")
	assert.Zero(t, gate.Snapshot().Reserved, "unfilled reservation returned")
	assert.Zero(t, exec.InFlight())

	pos, ok := gate.PositionFor("AAPL")
	require.True(t, ok)
	assert.Equal(t, 4, pos.Quantity)
}

func TestUnknownBrokerIDIgnored(t *testing.T) {
	t.Parallel()

	gate := risk.NewGate(zap.NewNop(), testLimits(), "LMT")
	exec := NewExecutor(zap.NewNop(), &fakePlacer{}, gate, nil)

	exec.HandleEvent(fillEvent("999", "AAPL", broker.BuySide, 10, 150))
	exec.HandleEvent(statusEvent("999", broker.StatusFilled, ""))

	_, ok := gate.PositionFor("AAPL")
	assert.False(t, ok)
	assert.Zero(t, exec.InFlight())
}

func TestWaitIdle(t *testing.T) {
	t.Parallel()

	gate := risk.NewGate(zap.NewNop(), testLimits(), "LMT")
	exec := NewExecutor(zap.NewNop(), &fakePlacer{}, gate, nil)

	d := gate.Validate(buySignal("AAPL", 10, 150))
	require.True(t, d.Accepted)
	rec, err := exec.Submit(context.Background(), d)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, exec.WaitIdle(ctx), "open order must keep WaitIdle blocked")

	go func() {
		time.Sleep(30 * time.Millisecond)
		exec.HandleEvent(fillEvent(rec.BrokerID, "AAPL", broker.BuySide, 10, 150))
	}()

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, exec.WaitIdle(ctx2))
}
