package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/config"
	"github.com/rustyeddy/scalper/internal/id"
	"github.com/rustyeddy/scalper/journal"
	"github.com/rustyeddy/scalper/market"
	"github.com/rustyeddy/scalper/risk"
	"github.com/rustyeddy/scalper/strategies"
)

var (
	ErrDuplicateSignal = errors.New("order already exists for signal")
	ErrNotAccepting    = errors.New("order manager is not accepting submissions")
	ErrUnknownOrder    = errors.New("unknown order")
)

// FillListener receives fill notifications after the order transition has
// committed. The position tracker implements this.
type FillListener interface {
	OnFill(o Order, qty, price, commission float64)
}

type signalKey struct {
	symbol   string
	strategy string
	signalID string
}

// Manager owns the order state machine. All transitions happen under one
// mutex with bounded hold time; broker I/O never runs inside the lock.
// Admission control (the risk limiter) is consulted synchronously before
// every submission.
type Manager struct {
	mu sync.Mutex

	gw      broker.Gateway
	limiter *risk.Limiter
	cfg     config.OrderConfig
	journal journal.Journal
	log     *zap.Logger

	orders      map[string]*Order    // by client order id
	byBroker    map[string]string    // broker id -> client id
	bySignal    map[signalKey]string // dedupe index
	activeClose map[string]string    // symbol -> non-terminal closing order id

	fills     FillListener
	accepting bool
}

func NewManager(gw broker.Gateway, limiter *risk.Limiter, cfg config.OrderConfig, j journal.Journal, log *zap.Logger) *Manager {
	if j == nil {
		j = journal.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		gw:          gw,
		limiter:     limiter,
		cfg:         cfg,
		journal:     j,
		log:         log,
		orders:      make(map[string]*Order),
		byBroker:    make(map[string]string),
		bySignal:    make(map[signalKey]string),
		activeClose: make(map[string]string),
		accepting:   true,
	}
}

func (m *Manager) SetFillListener(l FillListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills = l
}

// StopAccepting blocks new signal submissions. Part of shutdown; closing
// orders remain allowed because they reduce exposure.
func (m *Manager) StopAccepting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepting = false
}

// SubmitSignal risk-checks an admitted signal and submits the resulting
// order. A rejection is expected control flow: order is nil and the
// decision carries the reason. Duplicate signals are rejected locally
// before any broker call.
func (m *Manager) SubmitSignal(ctx context.Context, sig strategies.Signal, scfg config.StrategyConfig) (*Order, risk.Decision, error) {
	m.mu.Lock()
	if !m.accepting {
		m.mu.Unlock()
		return nil, risk.Decision{}, ErrNotAccepting
	}
	key := signalKey{symbol: sig.Symbol, strategy: sig.Strategy, signalID: sig.ID}
	if _, dup := m.bySignal[key]; dup {
		m.mu.Unlock()
		return nil, risk.Decision{}, ErrDuplicateSignal
	}
	// Reserve the dedupe slot before releasing the lock so a concurrent
	// duplicate cannot race past admission.
	m.bySignal[key] = ""
	m.mu.Unlock()

	d := m.limiter.Admit(sig, scfg, time.Now())
	if !d.Allowed {
		m.mu.Lock()
		delete(m.bySignal, key)
		m.mu.Unlock()
		return nil, d, nil
	}

	o := &Order{
		ID:         id.New(),
		Symbol:     sig.Symbol,
		Side:       sig.Direction.Side(),
		Quantity:   d.Units,
		Type:       broker.Market,
		Status:     StatusPending,
		Strategy:   sig.Strategy,
		SignalID:   sig.ID,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.Target,
		MaxHold:    scfg.MaxHoldDuration.Std(),
		RiskAmount: d.RiskAmount,
		CreatedAt:  time.Now(),
	}
	if scfg.TrailingStopPct > 0 {
		o.TrailingDist = sig.Entry * scfg.TrailingStopPct / 100
	}

	m.mu.Lock()
	m.orders[o.ID] = o
	m.bySignal[key] = o.ID
	m.journalLocked(o)
	m.mu.Unlock()

	if err := m.submit(ctx, o.ID); err != nil {
		return nil, d, err
	}
	co, _ := m.Get(o.ID)
	return &co, d, nil
}

// SubmitClose submits a position-exit order. It bypasses risk admission
// (closing reduces exposure and must work even when trading is halted) but
// still deduplicates: one live closing order per symbol.
func (m *Manager) SubmitClose(ctx context.Context, symbol string, side market.Side, qty float64, reason string) (*Order, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("close %s: quantity must be positive", symbol)
	}

	m.mu.Lock()
	if existing, ok := m.activeClose[symbol]; ok {
		if o := m.orders[existing]; o != nil && !o.Status.Terminal() {
			m.mu.Unlock()
			return nil, fmt.Errorf("close %s: order %s already in flight", symbol, existing)
		}
	}
	o := &Order{
		ID:          id.New(),
		Symbol:      symbol,
		Side:        side,
		Quantity:    qty,
		Type:        broker.Market,
		Status:      StatusPending,
		Strategy:    "close",
		SignalID:    id.New(),
		Closing:     true,
		CloseReason: reason,
		CreatedAt:   time.Now(),
	}
	m.orders[o.ID] = o
	m.activeClose[symbol] = o.ID
	m.journalLocked(o)
	m.mu.Unlock()

	if err := m.submit(ctx, o.ID); err != nil {
		return nil, err
	}
	co, _ := m.Get(o.ID)
	return &co, nil
}

// submit pushes a PENDING order to the broker, retrying transient failures
// with exponential backoff. Retrying stops the moment the order leaves
// PENDING; once the broker might know the order, a blind resubmit risks a
// duplicate live order and cancellation is the only safe recovery.
func (m *Manager) submit(ctx context.Context, orderID string) error {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownOrder
	}
	req := broker.OrderRequest{
		ClientID:   o.ID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   o.Quantity,
		Type:       o.Type,
		LimitPrice: o.LimitPrice,
		StopPrice:  o.StopPrice,
	}
	m.mu.Unlock()

	backoff := m.cfg.RetryBackoff.Std()
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	var lastErr error
	attempts := m.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
				return m.failSubmit(orderID, lastErr)
			}
			backoff *= 2
		}

		m.mu.Lock()
		stillPending := o.Status == StatusPending
		m.mu.Unlock()
		if !stillPending {
			return nil
		}

		brokerID, err := m.gw.SubmitOrder(ctx, req)
		if err == nil {
			m.mu.Lock()
			if o.BrokerID == "" {
				o.BrokerID = brokerID
				m.byBroker[brokerID] = o.ID
				m.journalLocked(o)
			}
			m.mu.Unlock()
			return nil
		}
		lastErr = err
		m.log.Warn("order submission failed",
			zap.String("order_id", orderID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return m.failSubmit(orderID, lastErr)
}

// failSubmit marks an order that never reached the broker as rejected and
// releases its risk reservation.
func (m *Manager) failSubmit(orderID string, cause error) error {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok || o.Status.Terminal() {
		m.mu.Unlock()
		return cause
	}
	o.Status = StatusRejected
	o.Reason = "SUBMIT_FAILED"
	o.CancelledAt = time.Now()
	release := !o.Closing && o.FilledQuantity == 0
	riskAmt := o.RiskAmount
	m.journalLocked(o)
	m.mu.Unlock()

	if release {
		m.limiter.ReleaseReservation(riskAmt)
	}
	return fmt.Errorf("submit order %s: %w", orderID, cause)
}

// HandleEvent applies one gateway event to the owning order. Transitions
// are atomic with respect to concurrent events for the same order; the
// fill listener is notified after the lock is released.
func (m *Manager) HandleEvent(ev broker.Event) error {
	m.mu.Lock()
	o := m.lookupLocked(ev)
	if o == nil {
		m.mu.Unlock()
		m.log.Debug("event for unknown order, leaving to reconciliation",
			zap.String("type", string(ev.Type)),
			zap.String("broker_id", ev.BrokerOrderID))
		return nil
	}

	if o.Status.Terminal() {
		// Terminal orders are immutable; late events are noise.
		m.mu.Unlock()
		return nil
	}

	var notify bool
	var notifyOrder Order
	var release, commit bool
	riskAmt := o.RiskAmount

	switch ev.Type {
	case broker.EventAck:
		if o.BrokerID == "" && ev.BrokerOrderID != "" {
			o.BrokerID = ev.BrokerOrderID
			m.byBroker[ev.BrokerOrderID] = o.ID
		}
		if o.Status == StatusPending {
			o.Status = StatusOpen
			o.PlacedAt = ev.Time
		}

	case broker.EventReject:
		if !canTransition(o.Status, StatusRejected) {
			m.mu.Unlock()
			return m.invariant(o.ID, fmt.Sprintf("reject event in state %s", o.Status))
		}
		o.Status = StatusRejected
		o.Reason = ev.Reason
		release = !o.Closing && o.FilledQuantity == 0

	case broker.EventFill:
		if ev.FillQuantity <= 0 || o.FilledQuantity+ev.FillQuantity > o.Quantity+1e-9 {
			m.mu.Unlock()
			return m.invariant(o.ID,
				fmt.Sprintf("fill %f with %f/%f already filled", ev.FillQuantity, o.FilledQuantity, o.Quantity))
		}

		first := o.FilledQuantity == 0
		total := o.FilledQuantity + ev.FillQuantity
		o.AvgFillPrice = (o.AvgFillPrice*o.FilledQuantity + ev.FillPrice*ev.FillQuantity) / total
		o.FilledQuantity = total
		o.Commission += ev.Commission
		o.lastFillAt = ev.Time
		if o.PlacedAt.IsZero() {
			// Fill raced the ack; the fill implies the broker has it.
			o.PlacedAt = ev.Time
		}
		if o.BrokerID == "" && ev.BrokerOrderID != "" {
			o.BrokerID = ev.BrokerOrderID
			m.byBroker[ev.BrokerOrderID] = o.ID
		}

		if o.Remaining() <= 1e-9 {
			o.FilledQuantity = o.Quantity
			o.Status = StatusFilled
			o.FilledAt = ev.Time
		} else {
			o.Status = StatusPartial
		}

		commit = first && !o.Closing
		notify = true
		notifyOrder = *o

	case broker.EventCancel:
		if !canTransition(o.Status, StatusCancelled) {
			m.mu.Unlock()
			return m.invariant(o.ID, fmt.Sprintf("cancel event in state %s", o.Status))
		}
		o.Status = StatusCancelled
		o.Reason = ev.Reason
		o.CancelledAt = ev.Time
		release = !o.Closing && o.FilledQuantity == 0
	}

	m.journalLocked(o)
	fills := m.fills
	m.mu.Unlock()

	if commit {
		m.limiter.CommitReservation(riskAmt)
	}
	if release {
		m.limiter.ReleaseReservation(riskAmt)
	}
	if notify && fills != nil {
		fills.OnFill(notifyOrder, ev.FillQuantity, ev.FillPrice, ev.Commission)
	}
	return nil
}

// Cancel requests cancellation of a non-terminal order. The CANCELLED
// transition lands when the broker confirms; an order that never reached
// the broker cancels locally.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownOrder
	}
	if o.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}
	brokerID := o.BrokerID
	if brokerID == "" {
		o.Status = StatusCancelled
		o.Reason = "NEVER_SUBMITTED"
		o.CancelledAt = time.Now()
		release := !o.Closing && o.FilledQuantity == 0
		riskAmt := o.RiskAmount
		m.journalLocked(o)
		m.mu.Unlock()
		if release {
			m.limiter.ReleaseReservation(riskAmt)
		}
		return nil
	}
	m.mu.Unlock()

	if err := m.gw.CancelOrder(ctx, brokerID); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

// CancelAll requests cancellation of every non-terminal order. Used at
// shutdown; positions are never silently abandoned.
func (m *Manager) CancelAll(ctx context.Context) {
	for _, o := range m.NonTerminal() {
		if err := m.Cancel(ctx, o.ID); err != nil {
			m.log.Warn("cancel on shutdown failed",
				zap.String("order_id", o.ID), zap.Error(err))
		}
	}
}

// ExpireStaleParts cancels the residual of PARTIAL orders that have seen
// no fill for the configured window.
func (m *Manager) ExpireStaleParts(ctx context.Context, now time.Time) {
	stale := m.cfg.PartialStale.Std()
	if stale <= 0 {
		return
	}

	m.mu.Lock()
	var ids []string
	for _, o := range m.orders {
		if o.Status == StatusPartial && !o.lastFillAt.IsZero() && now.Sub(o.lastFillAt) >= stale {
			ids = append(ids, o.ID)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.log.Info("cancelling stale partial order", zap.String("order_id", id))
		if err := m.Cancel(ctx, id); err != nil {
			m.log.Warn("stale partial cancel failed", zap.String("order_id", id), zap.Error(err))
		}
	}
}

// ApplyBrokerTerminal forces a local order into the terminal state the
// broker reports. The reconciler calls this when an event was missed;
// broker state wins for terminal transitions.
func (m *Manager) ApplyBrokerTerminal(bo broker.BrokerOrder, now time.Time) error {
	m.mu.Lock()
	clientID, ok := m.byBroker[bo.BrokerOrderID]
	if !ok {
		clientID = bo.ClientID
	}
	o := m.orders[clientID]
	if o == nil || o.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}
	remaining := o.Remaining()
	m.mu.Unlock()

	switch bo.Status {
	case "FILLED":
		missing := bo.Filled - (bo.Quantity - remaining)
		if missing <= 0 {
			missing = remaining
		}
		return m.HandleEvent(broker.Event{
			Type:          broker.EventFill,
			ClientID:      clientID,
			BrokerOrderID: bo.BrokerOrderID,
			Symbol:        bo.Symbol,
			FillQuantity:  missing,
			FillPrice:     bo.AvgFillPrice,
			Time:          now,
		})
	case "CANCELLED":
		return m.HandleEvent(broker.Event{
			Type:          broker.EventCancel,
			ClientID:      clientID,
			BrokerOrderID: bo.BrokerOrderID,
			Symbol:        bo.Symbol,
			Reason:        "RECONCILED",
			Time:          now,
		})
	case "REJECTED":
		return m.HandleEvent(broker.Event{
			Type:          broker.EventReject,
			ClientID:      clientID,
			BrokerOrderID: bo.BrokerOrderID,
			Symbol:        bo.Symbol,
			Reason:        "RECONCILED",
			Time:          now,
		})
	}
	return nil
}

// Get returns a copy of an order.
func (m *Manager) Get(orderID string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// FindByBroker returns a copy of the order owning a broker order ID.
func (m *Manager) FindByBroker(brokerID string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clientID, ok := m.byBroker[brokerID]
	if !ok {
		return Order{}, false
	}
	o, ok := m.orders[clientID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// NonTerminal returns copies of all live orders.
func (m *Manager) NonTerminal() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if !o.Status.Terminal() {
			out = append(out, *o)
		}
	}
	return out
}

func (m *Manager) lookupLocked(ev broker.Event) *Order {
	if ev.ClientID != "" {
		if o, ok := m.orders[ev.ClientID]; ok {
			return o
		}
	}
	if ev.BrokerOrderID != "" {
		if clientID, ok := m.byBroker[ev.BrokerOrderID]; ok {
			return m.orders[clientID]
		}
	}
	return nil
}

// invariant handles a broken state-machine invariant: trading halts and
// the error propagates. Silent continuation risks real capital.
func (m *Manager) invariant(orderID, detail string) error {
	m.log.Error("order invariant violation",
		zap.String("order_id", orderID), zap.String("detail", detail))
	m.limiter.Halt(risk.HaltInvariant, fmt.Sprintf("order %s: %s", orderID, detail))
	return fmt.Errorf("order %s invariant violation: %s", orderID, detail)
}

func (m *Manager) journalLocked(o *Order) {
	rec := journal.OrderRecord{
		OrderID:    o.ID,
		BrokerID:   o.BrokerID,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		Type:       string(o.Type),
		Status:     string(o.Status),
		Strategy:   o.Strategy,
		SignalID:   o.SignalID,
		Quantity:   o.Quantity,
		Filled:     o.FilledQuantity,
		AvgPrice:   o.AvgFillPrice,
		Commission: o.Commission,
		Reason:     o.Reason,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  time.Now(),
	}
	if err := m.journal.RecordOrder(rec); err != nil {
		m.log.Warn("journal order failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}
