// Package reconcile periodically re-checks local order and position state
// against the broker, which is authoritative for terminal order states and
// net positions.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/config"
	"github.com/rustyeddy/scalper/orders"
	"github.com/rustyeddy/scalper/positions"
	"github.com/rustyeddy/scalper/risk"
)

type Severity string

const (
	Warning  Severity = "WARNING"
	Critical Severity = "CRITICAL"
)

// Discrepancy is one observed difference between local and broker state.
type Discrepancy struct {
	Severity Severity
	Kind     string // "ORDER_TERMINAL", "POSITION_MISMATCH", "ORPHAN_ORDER", "ORPHAN_POSITION"
	Symbol   string
	OrderID  string
	Detail   string
}

// Report summarizes one reconciliation pass.
type Report struct {
	Discrepancies   []Discrepancy
	OrdersCorrected int
	Mismatches      int
	Orphans         int
}

type Engine struct {
	gw      broker.Gateway
	orders  *orders.Manager
	tracker *positions.Tracker
	limiter *risk.Limiter
	cfg     config.ReconcileConfig
	log     *zap.Logger
}

func NewEngine(gw broker.Gateway, om *orders.Manager, tr *positions.Tracker, rl *risk.Limiter, cfg config.ReconcileConfig, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		gw:      gw,
		orders:  om,
		tracker: tr,
		limiter: rl,
		cfg:     cfg,
		log:     log,
	}
}

// Run reconciles on the configured interval until the context ends. Each
// pass is bounded by the interval so a slow broker cannot pile up passes.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.Interval.Std()
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			passCtx, cancel := context.WithTimeout(ctx, interval)
			if _, err := e.ReconcileOnce(passCtx); err != nil {
				e.log.Warn("reconciliation pass failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// ReconcileOnce performs one full diff of orders and positions.
func (e *Engine) ReconcileOnce(ctx context.Context) (Report, error) {
	var rep Report

	brokerOrders, err := e.gw.FetchOpenOrders(ctx)
	if err != nil {
		return rep, fmt.Errorf("fetch broker orders: %w", err)
	}
	e.reconcileOrders(ctx, brokerOrders, &rep)

	brokerPositions, err := e.gw.FetchPositions(ctx)
	if err != nil {
		return rep, fmt.Errorf("fetch broker positions: %w", err)
	}
	e.reconcilePositions(brokerPositions, &rep)

	if len(rep.Discrepancies) > 0 {
		e.log.Info("reconciliation pass",
			zap.Int("discrepancies", len(rep.Discrepancies)),
			zap.Int("orders_corrected", rep.OrdersCorrected),
			zap.Int("position_mismatches", rep.Mismatches),
			zap.Int("orphans", rep.Orphans))
	}
	return rep, nil
}

func (e *Engine) reconcileOrders(ctx context.Context, brokerOrders []broker.BrokerOrder, rep *Report) {
	byBrokerID := make(map[string]broker.BrokerOrder, len(brokerOrders))
	for _, bo := range brokerOrders {
		byBrokerID[bo.BrokerOrderID] = bo
	}

	now := time.Now()

	// Local non-terminal orders the broker has already finished: the
	// broker wins, apply the missed transition.
	for _, o := range e.orders.NonTerminal() {
		if o.BrokerID == "" {
			continue // never reached the broker; submission retry owns it
		}
		bo, ok := byBrokerID[o.BrokerID]
		if !ok {
			rep.Discrepancies = append(rep.Discrepancies, Discrepancy{
				Severity: Warning,
				Kind:     "ORDER_TERMINAL",
				Symbol:   o.Symbol,
				OrderID:  o.ID,
				Detail:   "broker no longer reports order",
			})
			continue
		}
		if bo.Status == "OPEN" {
			continue
		}
		rep.Discrepancies = append(rep.Discrepancies, Discrepancy{
			Severity: Warning,
			Kind:     "ORDER_TERMINAL",
			Symbol:   o.Symbol,
			OrderID:  o.ID,
			Detail:   fmt.Sprintf("local %s vs broker %s", o.Status, bo.Status),
		})
		if err := e.orders.ApplyBrokerTerminal(bo, now); err != nil {
			e.log.Error("apply broker terminal state failed",
				zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		rep.OrdersCorrected++
	}

	// Broker orders with no local record are orphans: surfaced, never
	// auto-cancelled unless configuration explicitly permits it (they may
	// be legitimate manual trades).
	for _, bo := range brokerOrders {
		if _, ok := e.orders.FindByBroker(bo.BrokerOrderID); ok {
			continue
		}
		if bo.ClientID != "" {
			if _, ok := e.orders.Get(bo.ClientID); ok {
				continue
			}
		}
		if bo.Status != "OPEN" {
			continue
		}
		rep.Orphans++
		rep.Discrepancies = append(rep.Discrepancies, Discrepancy{
			Severity: Warning,
			Kind:     "ORPHAN_ORDER",
			Symbol:   bo.Symbol,
			OrderID:  bo.BrokerOrderID,
			Detail:   "broker order with no local record",
		})
		e.log.Warn("orphan broker order",
			zap.String("broker_id", bo.BrokerOrderID),
			zap.String("symbol", bo.Symbol))
		if e.cfg.CancelOrphans {
			// The cancel stays inside the pass budget.
			if err := e.gw.CancelOrder(ctx, bo.BrokerOrderID); err != nil {
				e.log.Warn("orphan cancel failed",
					zap.String("broker_id", bo.BrokerOrderID), zap.Error(err))
			}
		}
	}
}

func (e *Engine) reconcilePositions(brokerPositions []broker.BrokerPosition, rep *Report) {
	tolerance := e.cfg.QtyTolerance

	seen := make(map[string]bool, len(brokerPositions))
	for _, bp := range brokerPositions {
		seen[bp.Symbol] = true
		e.checkPosition(bp.Symbol, e.tracker.NetQuantity(bp.Symbol), bp, tolerance, rep)
	}

	// Local open positions the broker does not report at all.
	for _, pos := range e.tracker.Open() {
		if seen[pos.Symbol] {
			continue
		}
		e.checkPosition(pos.Symbol, pos.NetQuantity,
			broker.BrokerPosition{Symbol: pos.Symbol}, tolerance, rep)
	}
}

func (e *Engine) checkPosition(symbol string, localQty float64, bp broker.BrokerPosition, tolerance float64, rep *Report) {
	diff := math.Abs(localQty - bp.NetQuantity)
	if diff <= tolerance {
		return
	}

	kind := "POSITION_MISMATCH"
	if localQty == 0 && bp.NetQuantity != 0 {
		// Broker carries a position this process never opened.
		kind = "ORPHAN_POSITION"
	}

	rep.Mismatches++
	rep.Discrepancies = append(rep.Discrepancies, Discrepancy{
		Severity: Critical,
		Kind:     kind,
		Symbol:   symbol,
		Detail:   fmt.Sprintf("local %f vs broker %f", localQty, bp.NetQuantity),
	})
	e.log.Error("position mismatch",
		zap.String("symbol", symbol),
		zap.Float64("local", localQty),
		zap.Float64("broker", bp.NetQuantity))

	switch e.cfg.OnMismatch {
	case "adopt":
		e.tracker.AdoptBrokerQuantity(symbol, bp.NetQuantity, bp.AvgPrice)
	default:
		// Default policy: halt trading pending manual review.
		e.limiter.Halt(risk.HaltReconcile,
			fmt.Sprintf("%s local %f vs broker %f", symbol, localQty, bp.NetQuantity))
	}
}
