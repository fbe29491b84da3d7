// Package sim is an in-process gateway used for paper trading and tests.
// It fills market orders against the latest tick with configurable
// commission, slippage and fill-chunking, and delivers everything through
// the same asynchronous event stream a live gateway would use.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/internal/id"
	"github.com/rustyeddy/scalper/market"
)

type simOrder struct {
	broker.BrokerOrder
	createdAt time.Time
}

// Engine simulates a brokerage. One mutex guards all state; events are
// emitted into a buffered channel so submission never blocks on the
// consumer.
type Engine struct {
	mu     sync.Mutex
	ticks  *market.TickStore
	events chan broker.Event

	orders    map[string]*simOrder // by broker order id
	positions map[string]float64   // signed net quantity by symbol
	avgPrice  map[string]float64

	commissionPerUnit float64
	slippagePct       float64 // fraction of price, applied against the taker
	fillChunks        int     // number of partial fills per order, min 1
	autoFill          bool

	failSubmits  int    // next N submissions fail with a transport error
	rejectReason string // next submission is broker-rejected with this reason
}

type Option func(*Engine)

func WithCommission(perUnit float64) Option {
	return func(e *Engine) { e.commissionPerUnit = perUnit }
}

func WithSlippage(pct float64) Option {
	return func(e *Engine) { e.slippagePct = pct }
}

// WithFillChunks splits every fill into n partial fills.
func WithFillChunks(n int) Option {
	return func(e *Engine) { e.fillChunks = n }
}

// WithManualFills disables automatic filling; tests drive fills through
// Fill.
func WithManualFills() Option {
	return func(e *Engine) { e.autoFill = false }
}

func NewEngine(ticks *market.TickStore, opts ...Option) *Engine {
	e := &Engine{
		ticks:      ticks,
		events:     make(chan broker.Event, 256),
		orders:     make(map[string]*simOrder),
		positions:  make(map[string]float64),
		avgPrice:   make(map[string]float64),
		fillChunks: 1,
		autoFill:   true,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Events() <-chan broker.Event { return e.events }

// FailSubmits makes the next n submissions fail with a transport error,
// exercising the order manager's retry path.
func (e *Engine) FailSubmits(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failSubmits = n
}

// RejectNext broker-rejects the next submission with the given reason.
func (e *Engine) RejectNext(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejectReason = reason
}

func (e *Engine) SubmitOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	e.mu.Lock()

	if e.failSubmits > 0 {
		e.failSubmits--
		e.mu.Unlock()
		return "", fmt.Errorf("sim: transport failure submitting %s", req.ClientID)
	}

	brokerID := id.New()
	o := &simOrder{
		BrokerOrder: broker.BrokerOrder{
			BrokerOrderID: brokerID,
			ClientID:      req.ClientID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Quantity:      req.Quantity,
			Status:        "OPEN",
		},
		createdAt: time.Now(),
	}
	e.orders[brokerID] = o

	if e.rejectReason != "" {
		reason := e.rejectReason
		e.rejectReason = ""
		o.Status = "REJECTED"
		e.mu.Unlock()
		e.emit(broker.Event{
			Type:          broker.EventReject,
			ClientID:      req.ClientID,
			BrokerOrderID: brokerID,
			Symbol:        req.Symbol,
			Reason:        reason,
			Time:          time.Now(),
		})
		return brokerID, nil
	}

	e.mu.Unlock()

	e.emit(broker.Event{
		Type:          broker.EventAck,
		ClientID:      req.ClientID,
		BrokerOrderID: brokerID,
		Symbol:        req.Symbol,
		Time:          time.Now(),
	})

	if e.autoFill {
		if err := e.fillOrder(brokerID); err != nil {
			return brokerID, err
		}
	}
	return brokerID, nil
}

// Fill fills qty of an open order at the given price. Used directly by
// tests when automatic filling is disabled.
func (e *Engine) Fill(brokerID string, qty, price float64) error {
	e.mu.Lock()
	o, ok := e.orders[brokerID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("sim: unknown order %s", brokerID)
	}
	if o.Status != "OPEN" {
		e.mu.Unlock()
		return fmt.Errorf("sim: order %s is %s", brokerID, o.Status)
	}
	if o.Filled+qty > o.Quantity {
		e.mu.Unlock()
		return fmt.Errorf("sim: fill %f exceeds remaining %f", qty, o.Quantity-o.Filled)
	}

	o.AvgFillPrice = (o.AvgFillPrice*o.Filled + price*qty) / (o.Filled + qty)
	o.Filled += qty
	if o.Filled >= o.Quantity {
		o.Status = "FILLED"
	}

	signed := qty
	if o.Side == market.Sell {
		signed = -qty
	}
	prev := e.positions[o.Symbol]
	next := prev + signed
	if (prev >= 0 && signed > 0) || (prev <= 0 && signed < 0) {
		// Adding to (or opening) a position: weight the average.
		total := abs(prev) + qty
		e.avgPrice[o.Symbol] = (e.avgPrice[o.Symbol]*abs(prev) + price*qty) / total
	} else if next == 0 {
		e.avgPrice[o.Symbol] = 0
	}
	e.positions[o.Symbol] = next

	ev := broker.Event{
		Type:          broker.EventFill,
		ClientID:      o.ClientID,
		BrokerOrderID: brokerID,
		Symbol:        o.Symbol,
		FillQuantity:  qty,
		FillPrice:     price,
		Commission:    qty * e.commissionPerUnit,
		Time:          time.Now(),
	}
	e.mu.Unlock()

	e.emit(ev)
	return nil
}

func (e *Engine) fillOrder(brokerID string) error {
	e.mu.Lock()
	o, ok := e.orders[brokerID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("sim: unknown order %s", brokerID)
	}
	symbol, side, quantity := o.Symbol, o.Side, o.Quantity
	chunks := e.fillChunks
	e.mu.Unlock()

	tick, err := e.ticks.Get(symbol)
	if err != nil {
		return fmt.Errorf("sim: no price for %s: %w", symbol, err)
	}

	// Buyers lift the ask, sellers hit the bid, slippage always against
	// the taker.
	price := tick.Ask * (1 + e.slippagePct)
	if side == market.Sell {
		price = tick.Bid * (1 - e.slippagePct)
	}

	if chunks < 1 {
		chunks = 1
	}
	remaining := quantity
	chunk := quantity / float64(chunks)
	for i := 0; i < chunks; i++ {
		qty := chunk
		if i == chunks-1 {
			qty = remaining // absorb rounding in the last chunk
		}
		if err := e.Fill(brokerID, qty, price); err != nil {
			return err
		}
		remaining -= qty
	}
	return nil
}

func (e *Engine) CancelOrder(ctx context.Context, brokerID string) error {
	e.mu.Lock()
	o, ok := e.orders[brokerID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("sim: unknown order %s", brokerID)
	}
	if o.Status != "OPEN" {
		e.mu.Unlock()
		return fmt.Errorf("sim: cancel %s: order is %s", brokerID, o.Status)
	}
	o.Status = "CANCELLED"
	ev := broker.Event{
		Type:          broker.EventCancel,
		ClientID:      o.ClientID,
		BrokerOrderID: brokerID,
		Symbol:        o.Symbol,
		Time:          time.Now(),
	}
	e.mu.Unlock()

	e.emit(ev)
	return nil
}

// FetchOpenOrders returns every order the broker knows about, terminal
// included; the reconciler needs terminal states to repair missed events.
func (e *Engine) FetchOpenOrders(ctx context.Context) ([]broker.BrokerOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]broker.BrokerOrder, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o.BrokerOrder)
	}
	return out, nil
}

func (e *Engine) FetchPositions(ctx context.Context) ([]broker.BrokerPosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]broker.BrokerPosition, 0, len(e.positions))
	for sym, qty := range e.positions {
		if qty == 0 {
			continue
		}
		out = append(out, broker.BrokerPosition{
			Symbol:      sym,
			NetQuantity: qty,
			AvgPrice:    e.avgPrice[sym],
		})
	}
	return out, nil
}

// SetPosition overrides the broker's net position for a symbol. Tests use
// this to manufacture reconciliation discrepancies.
func (e *Engine) SetPosition(symbol string, qty, avgPrice float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[symbol] = qty
	e.avgPrice[symbol] = avgPrice
}

// InjectOrder records a broker-side order with no local counterpart (an
// orphan from the core's perspective).
func (e *Engine) InjectOrder(o broker.BrokerOrder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o.BrokerOrderID == "" {
		o.BrokerOrderID = id.New()
	}
	e.orders[o.BrokerOrderID] = &simOrder{BrokerOrder: o, createdAt: time.Now()}
}

func (e *Engine) emit(ev broker.Event) {
	select {
	case e.events <- ev:
	default:
		// A full buffer means the consumer stopped; drop rather than
		// deadlock. Reconciliation repairs anything missed.
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
