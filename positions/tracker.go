package positions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/scalper/internal/id"
	"github.com/rustyeddy/scalper/journal"
	"github.com/rustyeddy/scalper/market"
	"github.com/rustyeddy/scalper/orders"
	"github.com/rustyeddy/scalper/risk"
)

// OrderCloser originates a closing order for a position. The orchestrator
// adapts the order manager behind this; it is the one path by which the
// tracker creates orders instead of observing them.
type OrderCloser interface {
	ClosePosition(ctx context.Context, symbol string, side market.Side, qty float64, reason string) error
}

// Tracker owns all Position state. Fills arrive from the order manager,
// ticks from the market feed; both serialize on one mutex. Realized P&L is
// booked FIFO on closing fills, net of commission, and fed to the risk
// limiter as it happens.
type Tracker struct {
	mu sync.Mutex

	positions map[string]*Position
	lots      map[string][]lot
	lastTick  map[string]market.Tick
	closing   map[string]bool // close order already requested

	limiter *risk.Limiter
	closer  OrderCloser
	journal journal.Journal
	log     *zap.Logger
}

func NewTracker(limiter *risk.Limiter, j journal.Journal, log *zap.Logger) *Tracker {
	if j == nil {
		j = journal.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		positions: make(map[string]*Position),
		lots:      make(map[string][]lot),
		lastTick:  make(map[string]market.Tick),
		closing:   make(map[string]bool),
		limiter:   limiter,
		journal:   j,
		log:       log,
	}
}

func (t *Tracker) SetCloser(c OrderCloser) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closer = c
}

// OnFill applies one fill to the symbol's position. Same-direction fills
// extend the position with a quantity-weighted average entry; opposite
// fills close FIFO lots and book realized P&L. A fill larger than the
// open position closes it and flips the remainder into a new position.
func (t *Tracker) OnFill(o orders.Order, qty, price, commission float64) {
	if qty <= 0 {
		t.log.Error("fill with non-positive quantity",
			zap.String("order_id", o.ID), zap.Float64("qty", qty))
		t.limiter.Halt(risk.HaltInvariant,
			fmt.Sprintf("fill qty %f on order %s", qty, o.ID))
		return
	}

	signed := qty
	if o.Side == market.Sell {
		signed = -qty
	}
	now := time.Now()

	t.mu.Lock()

	pos := t.positions[o.Symbol]
	if pos == nil || pos.Status == StatusClosed {
		pos = t.openLocked(o, signed, price, commission, now)
	} else if sameSign(pos.NetQuantity, signed) {
		t.extendLocked(pos, o, qty, price, commission, now)
	} else {
		prevHold := pos.MaxHold
		signed = t.reduceLocked(pos, o, qty, price, commission, now)
		if signed != 0 {
			// Remainder flips into a fresh position. Closing orders carry
			// no exit levels, so inherit the old position's hold limit to
			// keep the flip from dangling open indefinitely.
			pos = t.openLocked(o, signed, price, commission, now)
			if pos.MaxHold == 0 {
				pos.MaxHold = prevHold
			}
			if pos.StopLoss == 0 && pos.TakeProfit == 0 && pos.MaxHold == 0 {
				t.log.Warn("flipped position has no exit levels",
					zap.String("symbol", o.Symbol),
					zap.Float64("qty", pos.NetQuantity))
			}
		}
	}

	t.journalPositionLocked(o.Symbol, now)
	total := t.totalUnrealizedLocked()
	t.mu.Unlock()

	t.limiter.SetUnrealized(total)
}

func (t *Tracker) openLocked(o orders.Order, signed, price, commission float64, now time.Time) *Position {
	pos := &Position{
		Symbol:       o.Symbol,
		Strategy:     o.Strategy,
		NetQuantity:  signed,
		AvgEntry:     price,
		Commission:   commission,
		StopLoss:     o.StopLoss,
		TakeProfit:   o.TakeProfit,
		TrailingDist: o.TrailingDist,
		MaxHold:      o.MaxHold,
		OpenedAt:     now,
		Status:       StatusOpen,
	}
	t.positions[o.Symbol] = pos
	t.lots[o.Symbol] = []lot{{qty: abs(signed), price: price, commission: commission, openedAt: now}}
	delete(t.closing, o.Symbol)
	t.limiter.PositionOpened()
	return pos
}

func (t *Tracker) extendLocked(pos *Position, o orders.Order, qty, price, commission float64, now time.Time) {
	prev := abs(pos.NetQuantity)
	total := prev + qty
	pos.AvgEntry = (pos.AvgEntry*prev + price*qty) / total
	if pos.NetQuantity < 0 {
		pos.NetQuantity -= qty
	} else {
		pos.NetQuantity += qty
	}
	pos.Commission += commission
	t.lots[o.Symbol] = append(t.lots[o.Symbol],
		lot{qty: qty, price: price, commission: commission, openedAt: now})
}

// reduceLocked closes FIFO lots against an opposite-side fill and returns
// the signed leftover quantity (non-zero only when the fill flips the
// position).
func (t *Tracker) reduceLocked(pos *Position, o orders.Order, qty, price, commission float64, now time.Time) float64 {
	sign := pos.Direction().Sign()
	openQty := abs(pos.NetQuantity)
	closeQty := qty
	if closeQty > openQty {
		closeQty = openQty
	}

	// Split the closing commission between the closed part and any flip
	// remainder.
	closeComm := commission * closeQty / qty

	var realized float64
	remaining := closeQty
	lots := t.lots[o.Symbol]
	for remaining > 0 && len(lots) > 0 {
		l := &lots[0]
		matched := l.qty
		if matched > remaining {
			matched = remaining
		}
		entryComm := l.commission * matched / l.qty
		realized += sign*(price-l.price)*matched - entryComm
		l.qty -= matched
		l.commission -= entryComm
		remaining -= matched
		if l.qty <= 1e-9 {
			lots = lots[1:]
		}
	}
	realized -= closeComm
	t.lots[o.Symbol] = lots

	pos.NetQuantity -= sign * closeQty
	pos.RealizedPL += realized
	pos.Commission += closeComm

	// Revalue the remainder at the fill price so the quantity just closed
	// stops counting toward the unrealized total in the same limiter
	// update where its loss becomes realized.
	pos.UnrealizedPL = (price - pos.AvgEntry) * pos.NetQuantity
	t.limiter.RecordFill(realized, t.totalUnrealizedLocked())

	if abs(pos.NetQuantity) <= 1e-9 {
		pos.NetQuantity = 0
		pos.UnrealizedPL = 0
		pos.Status = StatusClosed
		pos.ClosedAt = now
		delete(t.closing, o.Symbol)
		t.limiter.PositionClosed(pos.RealizedPL)

		reason := o.CloseReason
		if reason == "" {
			reason = "OppositeFill"
		}
		rec := journal.TradeRecord{
			TradeID:    id.New(),
			Symbol:     pos.Symbol,
			Strategy:   pos.Strategy,
			Direction:  string(dirOf(sign)),
			Quantity:   closeQty,
			EntryPrice: pos.AvgEntry,
			ExitPrice:  price,
			RealizedPL: pos.RealizedPL,
			Commission: pos.Commission,
			OpenTime:   pos.OpenedAt,
			CloseTime:  now,
			Reason:     reason,
		}
		if err := t.journal.RecordTrade(rec); err != nil {
			t.log.Warn("journal trade failed", zap.String("symbol", pos.Symbol), zap.Error(err))
		}
	}

	leftover := qty - closeQty
	if leftover <= 1e-9 {
		return 0
	}
	if o.Side == market.Sell {
		return -leftover
	}
	return leftover
}

// OnTick revalues the symbol's position, ratchets trailing stops and
// fires an automatic close when stop, target or max-hold triggers.
func (t *Tracker) OnTick(ctx context.Context, tick market.Tick) {
	t.mu.Lock()
	t.lastTick[tick.Symbol] = tick

	pos := t.positions[tick.Symbol]
	if pos == nil || pos.Status != StatusOpen {
		t.mu.Unlock()
		return
	}

	mark := pos.Mark(tick)
	t.ratchetLocked(pos, mark)
	pos.UnrealizedPL = (mark - pos.AvgEntry) * pos.NetQuantity

	reason := t.exitReasonLocked(pos, mark, tick.Time)
	var (
		closer OrderCloser
		side   market.Side
		qty    float64
	)
	if reason != "" && !t.closing[tick.Symbol] && t.closer != nil {
		t.closing[tick.Symbol] = true
		closer = t.closer
		side = pos.Direction().Side().Opposite()
		qty = abs(pos.NetQuantity)
	}
	total := t.totalUnrealizedLocked()
	t.mu.Unlock()

	t.limiter.SetUnrealized(total)

	if closer != nil {
		t.log.Info("auto-closing position",
			zap.String("symbol", tick.Symbol),
			zap.String("reason", reason),
			zap.Float64("qty", qty))
		if err := closer.ClosePosition(ctx, tick.Symbol, side, qty, reason); err != nil {
			t.log.Error("auto-close failed",
				zap.String("symbol", tick.Symbol), zap.Error(err))
			t.mu.Lock()
			delete(t.closing, tick.Symbol) // retry on the next tick
			t.mu.Unlock()
		}
	}
}

// ratchetLocked moves a trailing stop in the trade's favor. It never moves
// against the position.
func (t *Tracker) ratchetLocked(pos *Position, mark float64) {
	if pos.TrailingDist <= 0 {
		return
	}
	if pos.NetQuantity > 0 {
		if candidate := mark - pos.TrailingDist; candidate > pos.StopLoss {
			pos.StopLoss = candidate
		}
	} else {
		if candidate := mark + pos.TrailingDist; pos.StopLoss == 0 || candidate < pos.StopLoss {
			pos.StopLoss = candidate
		}
	}
}

func (t *Tracker) exitReasonLocked(pos *Position, mark float64, now time.Time) string {
	long := pos.NetQuantity > 0
	switch {
	case pos.StopLoss > 0 && (long && mark <= pos.StopLoss || !long && mark >= pos.StopLoss):
		return "StopLoss"
	case pos.TakeProfit > 0 && (long && mark >= pos.TakeProfit || !long && mark <= pos.TakeProfit):
		return "TakeProfit"
	case pos.MaxHold > 0 && now.Sub(pos.OpenedAt) >= pos.MaxHold:
		return "MaxHold"
	}
	return ""
}

// Get returns a copy of the symbol's position.
func (t *Tracker) Get(symbol string) (Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Open returns copies of all open positions.
func (t *Tracker) Open() []Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Position
	for _, pos := range t.positions {
		if pos.Status == StatusOpen {
			out = append(out, *pos)
		}
	}
	return out
}

// NetQuantity returns the signed local net position for a symbol, zero if
// none.
func (t *Tracker) NetQuantity(symbol string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[symbol]
	if !ok || pos.Status != StatusOpen {
		return 0
	}
	return pos.NetQuantity
}

// AdoptBrokerQuantity forces local state to the broker-reported net
// quantity. Only the reconciler calls this, and only when configured to
// let the broker win.
func (t *Tracker) AdoptBrokerQuantity(symbol string, qty, avgPrice float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos := t.positions[symbol]
	switch {
	case qty == 0:
		if pos != nil && pos.Status == StatusOpen {
			pos.NetQuantity = 0
			pos.UnrealizedPL = 0
			pos.Status = StatusClosed
			pos.ClosedAt = time.Now()
			t.lots[symbol] = nil
			delete(t.closing, symbol)
			t.limiter.PositionClosed(pos.RealizedPL)
		}
	case pos == nil || pos.Status == StatusClosed:
		t.positions[symbol] = &Position{
			Symbol:      symbol,
			Strategy:    "reconciled",
			NetQuantity: qty,
			AvgEntry:    avgPrice,
			OpenedAt:    time.Now(),
			Status:      StatusOpen,
		}
		t.lots[symbol] = []lot{{qty: abs(qty), price: avgPrice, openedAt: time.Now()}}
		t.limiter.PositionOpened()
	default:
		pos.NetQuantity = qty
		t.lots[symbol] = []lot{{qty: abs(qty), price: pos.AvgEntry, openedAt: pos.OpenedAt}}
	}
	t.journalPositionLocked(symbol, time.Now())
}

func (t *Tracker) totalUnrealizedLocked() float64 {
	var total float64
	for _, pos := range t.positions {
		if pos.Status == StatusOpen {
			total += pos.UnrealizedPL
		}
	}
	return total
}

func (t *Tracker) journalPositionLocked(symbol string, now time.Time) {
	pos := t.positions[symbol]
	if pos == nil {
		return
	}
	rec := journal.PositionRecord{
		Symbol:       pos.Symbol,
		Strategy:     pos.Strategy,
		NetQuantity:  pos.NetQuantity,
		AvgEntry:     pos.AvgEntry,
		RealizedPL:   pos.RealizedPL,
		UnrealizedPL: pos.UnrealizedPL,
		Status:       string(pos.Status),
		OpenedAt:     pos.OpenedAt,
		ClosedAt:     pos.ClosedAt,
		Time:         now,
	}
	if err := t.journal.RecordPosition(rec); err != nil {
		t.log.Warn("journal position failed", zap.String("symbol", symbol), zap.Error(err))
	}
}

func sameSign(a, b float64) bool {
	return a >= 0 && b > 0 || a <= 0 && b < 0
}

func dirOf(sign float64) market.Direction {
	if sign < 0 {
		return market.Short
	}
	return market.Long
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
