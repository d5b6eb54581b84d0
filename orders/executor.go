package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantfold/ibot/broker"
	"github.com/quantfold/ibot/id"
	"github.com/quantfold/ibot/journal"
	"github.com/quantfold/ibot/risk"
)

// ErrDuplicate rejects a second submission for a symbol that already
// has an order in flight.
var ErrDuplicate = errors.New("order already in flight for symbol")

// Placer is the slice of the gateway the executor needs.
type Placer interface {
	PlaceOrder(ctx context.Context, intent broker.OrderIntent) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Executor submits accepted risk decisions to the broker and folds
// status and fill events back into order records and the risk ledger.
type Executor struct {
	log     *zap.Logger
	placer  Placer
	gate    *risk.Gate
	journal journal.Journal

	mu       sync.Mutex
	byID     map[string]*Record
	byBroker map[string]*Record
	open     map[string][]*Record // symbol -> non-terminal records

	// early holds events that arrived before Submit registered their
	// broker id; brokers may confirm faster than PlaceOrder returns.
	early map[string][]broker.Event
}

func NewExecutor(log *zap.Logger, placer Placer, gate *risk.Gate, jnl journal.Journal) *Executor {
	if jnl == nil {
		jnl = journal.Nop{}
	}
	return &Executor{
		log:      log,
		placer:   placer,
		gate:     gate,
		journal:  jnl,
		byID:     make(map[string]*Record),
		byBroker: make(map[string]*Record),
		open:     make(map[string][]*Record),
		early:    make(map[string][]broker.Event),
	}
}

// Submit places an accepted decision with the broker. A second
// submission for a symbol with a non-terminal order is rejected here,
// unless the new intent is on the opposite side (an explicit close of
// the position the in-flight order is building). The decision's
// reservation is released on every failure path, so a rejected
// submission leaves the ledger untouched.
func (e *Executor) Submit(ctx context.Context, d risk.Decision) (Record, error) {
	if !d.Accepted {
		return Record{}, fmt.Errorf("submit %s: decision was not accepted", d.Intent.Symbol)
	}

	e.mu.Lock()
	for _, prior := range e.open[d.Intent.Symbol] {
		if prior.Intent.Side == d.Intent.Side {
			e.mu.Unlock()
			e.gate.Release(d)
			return Record{}, fmt.Errorf("%s (%s, order %s): %w",
				d.Intent.Symbol, d.Intent.Side, prior.ID, ErrDuplicate)
		}
	}

	now := time.Now()
	rec := &Record{
		ID:       id.New(),
		Intent:   d.Intent,
		Status:   Pending,
		Created:  now,
		Updated:  now,
		decision: d,
	}
	e.byID[rec.ID] = rec
	e.open[rec.Intent.Symbol] = append(e.open[rec.Intent.Symbol], rec)
	e.mu.Unlock()

	brokerID, err := e.placer.PlaceOrder(ctx, d.Intent)

	e.mu.Lock()
	if err != nil {
		rec.Status = Rejected
		rec.Reason = err.Error()
		rec.Updated = time.Now()
		e.closeLocked(rec)
		snapshot := *rec
		e.mu.Unlock()

		e.gate.Release(d)
		e.record(snapshot)
		return Record{}, fmt.Errorf("place order for %s: %w", d.Intent.Symbol, err)
	}

	rec.BrokerID = brokerID
	rec.Status = Submitted
	rec.Updated = time.Now()
	e.byBroker[brokerID] = rec
	snapshot := *rec
	e.mu.Unlock()

	e.log.Info("order submitted",
		zap.String("order_id", snapshot.ID),
		zap.String("broker_id", snapshot.BrokerID),
		zap.String("symbol", snapshot.Intent.Symbol),
		zap.String("side", string(snapshot.Intent.Side)),
		zap.Int("quantity", snapshot.Intent.Quantity),
		zap.Float64("limit_price", snapshot.Intent.LimitPrice))
	e.record(snapshot)

	// Drain events that arrived before registration, one at a time and
	// in arrival order. The stash key stays until the queue is observed
	// empty, so events landing mid-drain append behind it instead of
	// overtaking the ones still queued.
	for {
		e.mu.Lock()
		queue := e.early[brokerID]
		if len(queue) == 0 {
			delete(e.early, brokerID)
			final := *rec
			e.mu.Unlock()
			return final, nil
		}
		ev := queue[0]
		e.early[brokerID] = queue[1:]
		e.mu.Unlock()
		e.applyQueued(ev)
	}
}

// HandleEvent folds one gateway event into order state. Events for a
// broker id not registered yet are held and replayed once Submit
// records the id; while that replay drains, fresh events for the same
// id queue behind it so the fold order matches the stream order.
func (e *Executor) HandleEvent(ev broker.Event) {
	switch ev.Kind {
	case broker.EventFill:
		e.handleFill(ev.Fill, false)
	case broker.EventOrderStatus:
		e.handleStatus(ev, false)
	}
}

// applyQueued applies one event popped off the early stash, bypassing
// the queue-behind check so the drain does not feed itself.
func (e *Executor) applyQueued(ev broker.Event) {
	switch ev.Kind {
	case broker.EventFill:
		e.handleFill(ev.Fill, true)
	case broker.EventOrderStatus:
		e.handleStatus(ev, true)
	}
}

// stashLocked holds an event whose broker id is not registered yet.
// Ids that never register (stale sessions) are bounded by the cap.
func (e *Executor) stashLocked(brokerID string, ev broker.Event) {
	if _, ok := e.early[brokerID]; !ok && len(e.early) >= 256 {
		e.log.Warn("dropping event for unknown order", zap.String("broker_id", brokerID))
		return
	}
	e.early[brokerID] = append(e.early[brokerID], ev)
}

func (e *Executor) handleFill(fill broker.Fill, replay bool) {
	e.mu.Lock()
	rec, ok := e.byBroker[fill.OrderID]
	_, queued := e.early[fill.OrderID]
	if !ok || (queued && !replay) {
		if !replay {
			e.stashLocked(fill.OrderID, broker.Event{Kind: broker.EventFill, Time: fill.Time, Fill: fill})
		}
		e.mu.Unlock()
		return
	}

	// Reconcile the reservation in proportion to the filled quantity.
	// The first fill also converts the reserved position slot into the
	// real position.
	releaseValue := 0.0
	if rec.Intent.Quantity > 0 {
		releaseValue = rec.decision.Reserved * float64(fill.Quantity) / float64(rec.Intent.Quantity)
	}
	if releaseValue > rec.remainingReservation() {
		releaseValue = rec.remainingReservation()
	}
	slotRelease := rec.decision.NewPosition && !rec.slotReleased

	total := rec.FilledQuantity + fill.Quantity
	rec.AvgFillPrice = (float64(rec.FilledQuantity)*rec.AvgFillPrice +
		float64(fill.Quantity)*fill.Price) / float64(total)
	rec.FilledQuantity = total
	rec.released += releaseValue
	rec.slotReleased = rec.slotReleased || slotRelease
	rec.Updated = time.Now()

	if rec.FilledQuantity >= rec.Intent.Quantity {
		rec.Status = Filled
		// Hand back any rounding remainder.
		if rem := rec.remainingReservation(); rem > 0 {
			releaseValue += rem
			rec.released += rem
		}
		e.closeLocked(rec)
	} else {
		rec.Status = PartiallyFilled
	}
	snapshot := *rec
	e.mu.Unlock()

	e.gate.ApplyFill(fill, releaseValue, slotRelease)

	e.log.Info("fill",
		zap.String("order_id", snapshot.ID),
		zap.String("symbol", fill.Symbol),
		zap.String("side", string(fill.Side)),
		zap.Int("quantity", fill.Quantity),
		zap.Float64("price", fill.Price),
		zap.Int("filled", snapshot.FilledQuantity),
		zap.Int("total", snapshot.Intent.Quantity))

	if err := e.journal.RecordFill(journal.FillRecord{
		OrderID:  fill.OrderID,
		Symbol:   fill.Symbol,
		Quantity: fill.SignedQuantity(),
		Price:    fill.Price,
		Time:     fill.Time,
	}); err != nil {
		e.log.Error("journal fill", zap.Error(err))
	}
	e.record(snapshot)
}

func (e *Executor) handleStatus(ev broker.Event, replay bool) {
	e.mu.Lock()
	rec, ok := e.byBroker[ev.OrderID]
	_, queued := e.early[ev.OrderID]
	if !ok || (queued && !replay) {
		if !replay {
			e.stashLocked(ev.OrderID, ev)
		}
		e.mu.Unlock()
		return
	}

	var release risk.Decision
	switch ev.Status {
	case broker.StatusSubmitted:
		if rec.Status == Pending {
			rec.Status = Submitted
		}
	case broker.StatusPartiallyFilled:
		// Fill events carry the quantities; nothing extra here.
	case broker.StatusFilled:
		// Terminal transition happens on the closing fill.
	case broker.StatusRejected, broker.StatusCancelled:
		if !rec.Status.Terminal() {
			if ev.Status == broker.StatusRejected {
				rec.Status = Rejected
			} else {
				rec.Status = Cancelled
			}
			rec.Reason = ev.Reason
			release = risk.Decision{
				Accepted:    true,
				Intent:      broker.OrderIntent{Symbol: rec.Intent.Symbol},
				Reserved:    rec.remainingReservation(),
				NewPosition: rec.decision.NewPosition && !rec.slotReleased,
			}
			rec.released = rec.decision.Reserved
			rec.slotReleased = true
			e.closeLocked(rec)
		}
	}
	rec.Updated = time.Now()
	snapshot := *rec
	e.mu.Unlock()

	if release.Accepted {
		e.gate.Release(release)
		e.log.Warn("order reached terminal status without filling",
			zap.String("order_id", snapshot.ID),
			zap.String("symbol", snapshot.Intent.Symbol),
			zap.String("status", string(snapshot.Status)),
			zap.String("reason", snapshot.Reason))
	}
	e.record(snapshot)
}

// Cancel asks the broker to cancel an order by internal id. The ledger
// is reconciled when the cancellation confirms on the event stream.
func (e *Executor) Cancel(ctx context.Context, orderID string) error {
	e.mu.Lock()
	rec, ok := e.byID[orderID]
	if !ok || rec.Status.Terminal() {
		e.mu.Unlock()
		return fmt.Errorf("cancel %s: no open order", orderID)
	}
	brokerID := rec.BrokerID
	e.mu.Unlock()

	if err := e.placer.CancelOrder(ctx, brokerID); err != nil {
		return fmt.Errorf("cancel %s: %w", orderID, err)
	}
	return nil
}

// closeLocked removes a terminal record from the open-by-symbol index.
func (e *Executor) closeLocked(rec *Record) {
	symbol := rec.Intent.Symbol
	openRecs := e.open[symbol]
	for i, r := range openRecs {
		if r == rec {
			e.open[symbol] = append(openRecs[:i], openRecs[i+1:]...)
			break
		}
	}
	if len(e.open[symbol]) == 0 {
		delete(e.open, symbol)
	}
}

func (e *Executor) record(rec Record) {
	if err := e.journal.RecordOrder(journal.OrderRecord{
		ID:         rec.ID,
		BrokerID:   rec.BrokerID,
		Symbol:     rec.Intent.Symbol,
		Side:       string(rec.Intent.Side),
		Quantity:   rec.Intent.Quantity,
		Type:       rec.Intent.Type,
		LimitPrice: rec.Intent.LimitPrice,
		Status:     string(rec.Status),
		Reason:     rec.Reason,
		Time:       rec.Updated,
	}); err != nil {
		e.log.Error("journal order", zap.Error(err))
	}
}

// Get returns a copy of a record by internal id.
func (e *Executor) Get(orderID string) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.byID[orderID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// InFlight counts non-terminal orders.
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, recs := range e.open {
		n += len(recs)
	}
	return n
}

// WaitIdle blocks until no orders are in flight or ctx expires. Used
// during shutdown to drain fills before disconnecting.
func (e *Executor) WaitIdle(ctx context.Context) error {
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		if e.InFlight() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for open orders: %w", ctx.Err())
		case <-tick.C:
		}
	}
}
