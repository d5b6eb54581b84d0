package risk

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantfold/ibot/broker"
	"github.com/quantfold/ibot/market"
)

// Code enumerates rejection reasons.
type Code string

const (
	CodeTradingHalted        Code = "TRADING_HALTED"
	CodeOrderValueExceeded   Code = "ORDER_VALUE_EXCEEDED"
	CodePositionSizeExceeded Code = "POSITION_SIZE_EXCEEDED"
	CodeMaxPositionsExceeded Code = "MAX_POSITIONS_EXCEEDED"
	CodeDailyLossExceeded    Code = "DAILY_LOSS_EXCEEDED"
	CodeNoPosition           Code = "NO_POSITION"
	CodeWrongSide            Code = "WRONG_SIDE"
	CodeNoPrice              Code = "NO_PRICE"
)

// Decision is the outcome of validating one signal. On acceptance the
// exposure delta is already reserved; the caller must either submit the
// intent or call Release.
type Decision struct {
	Accepted bool
	Code     Code
	Reason   string
	Intent   broker.OrderIntent

	// Reserved is the exposure value reserved on acceptance, released
	// on reject/cancel or reconciled against the real fill value.
	Reserved float64
	// NewPosition marks that a position slot was reserved too.
	NewPosition bool
}

func reject(code Code, format string, args ...interface{}) Decision {
	return Decision{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// sizingRiskPct sizes unsized signals at 2% of the smaller value limit.
const sizingRiskPct = 0.02

// Gate validates signals against risk limits and owns the exposure
// ledger. Check-and-reserve runs under a single critical section, so
// two concurrent signals that would jointly exceed a limit resolve
// deterministically: first committer wins.
type Gate struct {
	log       *zap.Logger
	limits    Limits
	orderType string

	now func() time.Time

	mu            sync.Mutex
	halted        bool
	day           time.Time // civil date the ledger was last reset on
	realized      float64
	positions     map[string]*Position
	marks         map[string]float64
	reserved      map[string]float64 // symbol -> committed-but-unfilled value
	reservedSlots map[string]int     // symbol -> pending new-position orders
}

// NewGate creates a risk gate with the given limits. orderType is the
// default order type stamped on accepted intents ("LMT" or "MKT").
func NewGate(log *zap.Logger, limits Limits, orderType string) *Gate {
	return &Gate{
		log:           log,
		limits:        limits,
		orderType:     orderType,
		now:           time.Now,
		day:           truncateDay(time.Now()),
		positions:     make(map[string]*Position),
		marks:         make(map[string]float64),
		reserved:      make(map[string]float64),
		reservedSlots: make(map[string]int),
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Validate checks a signal against the limits in fixed order: halted
// flag, order value, position value, position count, daily loss. The
// first failing check wins. On acceptance the exposure delta and (for
// new symbols) a position slot are reserved immediately.
func (g *Gate) Validate(sig market.Signal) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked(g.now())

	if g.halted {
		return reject(CodeTradingHalted, "trading halted until day rollover")
	}

	if sig.IsClose() {
		return g.validateCloseLocked(sig)
	}

	price := sig.Price
	if price <= 0 {
		price = g.marks[sig.Symbol]
	}
	if price <= 0 {
		return reject(CodeNoPrice, "no reference price for %s", sig.Symbol)
	}

	qty := sig.Quantity
	if qty <= 0 {
		qty = g.sizeLocked(price)
	}
	if qty <= 0 {
		return reject(CodeNoPrice, "cannot size order for %s at $%.2f", sig.Symbol, price)
	}

	orderValue := float64(qty) * price

	if orderValue > g.limits.MaxOrderValue {
		return reject(CodeOrderValueExceeded, "order value $%.2f exceeds limit $%.2f",
			orderValue, g.limits.MaxOrderValue)
	}

	current := 0.0
	if pos, ok := g.positions[sig.Symbol]; ok {
		current = pos.MarketValue(price)
	}
	resulting := current + g.reserved[sig.Symbol] + orderValue
	if resulting > g.limits.MaxPositionValue {
		return reject(CodePositionSizeExceeded, "resulting position $%.2f exceeds limit $%.2f",
			resulting, g.limits.MaxPositionValue)
	}

	_, held := g.positions[sig.Symbol]
	newPosition := !held && g.reservedSlots[sig.Symbol] == 0
	if newPosition && g.openCountLocked()+1 > g.limits.MaxPositions {
		return reject(CodeMaxPositionsExceeded, "maximum positions (%d) already open or reserved",
			g.limits.MaxPositions)
	}

	if pnl := g.realized + g.unrealizedLocked(); pnl <= -g.limits.MaxDailyLoss {
		g.haltLocked(pnl)
		return reject(CodeDailyLossExceeded, "daily loss $%.2f at limit $%.2f",
			pnl, g.limits.MaxDailyLoss)
	}

	// Reserve before any order confirms, so a second concurrent signal
	// re-evaluates against this one's committed state.
	g.reserved[sig.Symbol] += orderValue
	if newPosition {
		g.reservedSlots[sig.Symbol]++
	}

	side := broker.BuySide
	if sig.Kind == market.Sell {
		side = broker.SellSide
	}
	return Decision{
		Accepted: true,
		Intent: broker.OrderIntent{
			Symbol:     sig.Symbol,
			Side:       side,
			Quantity:   qty,
			Type:       g.orderType,
			LimitPrice: price,
			TIF:        "DAY",
		},
		Reserved:    orderValue,
		NewPosition: newPosition,
	}
}

// validateCloseLocked handles CloseLong/CloseShort: the position must
// exist on the right side. Closing reduces exposure, so nothing is
// reserved.
func (g *Gate) validateCloseLocked(sig market.Signal) Decision {
	pos, ok := g.positions[sig.Symbol]
	if !ok {
		return reject(CodeNoPosition, "no position to close for %s", sig.Symbol)
	}
	if sig.Kind == market.CloseLong && !pos.IsLong() {
		return reject(CodeWrongSide, "cannot close long: currently short %s", sig.Symbol)
	}
	if sig.Kind == market.CloseShort && !pos.IsShort() {
		return reject(CodeWrongSide, "cannot close short: currently long %s", sig.Symbol)
	}

	qty := pos.Quantity
	if qty < 0 {
		qty = -qty
	}
	if sig.Quantity > 0 && sig.Quantity < qty {
		qty = sig.Quantity
	}

	side := broker.SellSide
	if sig.Kind == market.CloseShort {
		side = broker.BuySide
	}

	price := sig.Price
	if price <= 0 {
		price = g.marks[sig.Symbol]
	}

	return Decision{
		Accepted: true,
		Intent: broker.OrderIntent{
			Symbol:     sig.Symbol,
			Side:       side,
			Quantity:   qty,
			Type:       g.orderType,
			LimitPrice: price,
			TIF:        "DAY",
		},
	}
}

// sizeLocked picks a quantity for unsized signals: 2% of the smaller
// of the position and order value limits, at least one share when the
// price allows.
func (g *Gate) sizeLocked(price float64) int {
	maxValue := g.limits.MaxPositionValue
	if g.limits.MaxOrderValue < maxValue {
		maxValue = g.limits.MaxOrderValue
	}
	qty := int(maxValue * sizingRiskPct / price)
	if qty == 0 && price < maxValue {
		qty = 1
	}
	return qty
}

func (g *Gate) openCountLocked() int {
	n := len(g.positions)
	for _, c := range g.reservedSlots {
		n += c
	}
	return n
}

func (g *Gate) unrealizedLocked() float64 {
	total := 0.0
	for sym, pos := range g.positions {
		if mark, ok := g.marks[sym]; ok {
			total += pos.UnrealizedPL(mark)
		}
	}
	return total
}

func (g *Gate) haltLocked(pnl float64) {
	if !g.halted {
		g.halted = true
		g.log.Error("daily loss limit breached, trading halted",
			zap.Float64("daily_pnl", pnl),
			zap.Float64("limit", g.limits.MaxDailyLoss))
	}
}

// rolloverLocked resets the daily ledger and the halt flag at the UTC
// day boundary.
func (g *Gate) rolloverLocked(now time.Time) {
	today := truncateDay(now)
	if today.After(g.day) {
		g.day = today
		g.realized = 0
		g.halted = false
		g.log.Info("new trading day, daily ledger reset", zap.Time("day", today))
	}
}

// Rollover forces a day-boundary check.
func (g *Gate) Rollover() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked(g.now())
}

// Release returns a reservation to the ledger, for rejected or
// cancelled orders and for accepted-but-not-executed monitor-mode
// signals.
func (g *Gate) Release(d Decision) {
	if !d.Accepted || (d.Reserved == 0 && !d.NewPosition) {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releaseLocked(d.Intent.Symbol, d.Reserved, d.NewPosition)
}

func (g *Gate) releaseLocked(symbol string, value float64, slot bool) {
	if r := g.reserved[symbol] - value; r > 1e-9 {
		g.reserved[symbol] = r
	} else {
		delete(g.reserved, symbol)
	}
	if slot {
		if g.reservedSlots[symbol] > 1 {
			g.reservedSlots[symbol]--
		} else {
			delete(g.reservedSlots, symbol)
		}
	}
}

// ApplyFill commits a confirmed fill into position state and
// reconciles the earlier reservation: releaseValue is the share of the
// reservation covered by this fill, slotRelease converts a reserved
// slot into the actual position. Realized P&L from reduced or closed
// positions feeds the daily ledger; breaching the daily loss limit
// trips the halt flag.
func (g *Gate) ApplyFill(fill broker.Fill, releaseValue float64, slotRelease bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked(g.now())
	g.releaseLocked(fill.Symbol, releaseValue, slotRelease)
	g.marks[fill.Symbol] = fill.Price

	qty := fill.SignedQuantity()
	pos, ok := g.positions[fill.Symbol]
	if !ok {
		g.positions[fill.Symbol] = &Position{Symbol: fill.Symbol, Quantity: qty, AvgPrice: fill.Price}
		return
	}

	switch {
	case (pos.Quantity > 0) == (qty > 0):
		// Same direction: extend at weighted average price.
		total := pos.Quantity + qty
		pos.AvgPrice = (float64(pos.Quantity)*pos.AvgPrice + float64(qty)*fill.Price) / float64(total)
		pos.Quantity = total
	default:
		// Opposite direction: realize P&L on the closed quantity.
		closed := min(absInt(qty), absInt(pos.Quantity))
		dir := 1.0
		if pos.IsShort() {
			dir = -1.0
		}
		pnl := float64(closed) * (fill.Price - pos.AvgPrice) * dir
		g.realized += pnl
		g.log.Info("realized P&L",
			zap.String("symbol", fill.Symbol),
			zap.Float64("pnl", pnl),
			zap.Float64("daily_realized", g.realized))

		remaining := pos.Quantity + qty
		if remaining == 0 {
			delete(g.positions, fill.Symbol)
		} else if (remaining > 0) == (pos.Quantity > 0) {
			pos.Quantity = remaining
		} else {
			// Crossed through flat; remainder opens at the fill price.
			pos.Quantity = remaining
			pos.AvgPrice = fill.Price
		}

		if g.realized+g.unrealizedLocked() <= -g.limits.MaxDailyLoss {
			g.haltLocked(g.realized + g.unrealizedLocked())
		}
	}
}

// UpdateMark records the latest reference price for a symbol, used for
// unrealized P&L and for sizing.
func (g *Gate) UpdateMark(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.marks[symbol] = price
}

// PositionFor returns the current position for a symbol.
func (g *Gate) PositionFor(symbol string) (Position, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pos, ok := g.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Halted reports whether trading is halted pending day rollover.
func (g *Gate) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.halted
}

// Summary is a read-only portfolio snapshot for status logging.
type Summary struct {
	Positions  int
	Reserved   float64
	Exposure   float64
	Unrealized float64
	Realized   float64
	Halted     bool
}

// Snapshot returns the current portfolio summary.
func (g *Gate) Snapshot() Summary {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Summary{
		Positions:  len(g.positions),
		Realized:   g.realized,
		Unrealized: g.unrealizedLocked(),
		Halted:     g.halted,
	}
	for sym, pos := range g.positions {
		mark, ok := g.marks[sym]
		if !ok {
			mark = pos.AvgPrice
		}
		s.Exposure += pos.MarketValue(mark)
	}
	for _, v := range g.reserved {
		s.Reserved += v
	}
	return s
}

// Positions returns a snapshot of all open positions.
func (g *Gate) Positions() []Position {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Position, 0, len(g.positions))
	for _, pos := range g.positions {
		out = append(out, *pos)
	}
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
