// Package engine runs the top-level trading loop: ticks in, signals
// through risk admission, orders out, positions tracked to close.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/config"
	"github.com/rustyeddy/scalper/feed"
	"github.com/rustyeddy/scalper/journal"
	"github.com/rustyeddy/scalper/market"
	"github.com/rustyeddy/scalper/orders"
	"github.com/rustyeddy/scalper/positions"
	"github.com/rustyeddy/scalper/reconcile"
	"github.com/rustyeddy/scalper/risk"
	"github.com/rustyeddy/scalper/strategies"
)

const housekeepingInterval = 5 * time.Second

// Orchestrator owns the per-symbol workers and the supporting loops. Ticks
// for distinct symbols evaluate concurrently; all events for one symbol
// flow through its single worker, which keeps order and position mutations
// serialized per entity.
type Orchestrator struct {
	cfg     *config.Config
	feed    feed.Feed
	gw      broker.Gateway
	gen     *strategies.Generator
	limiter *risk.Limiter
	orders  *orders.Manager
	tracker *positions.Tracker
	rec     *reconcile.Engine
	ticks   *market.TickStore
	journal journal.Journal
	log     *zap.Logger

	workers map[string]chan market.Tick
	wg      sync.WaitGroup
}

// closerAdapter lets the position tracker originate closing orders without
// depending on the order manager's full surface.
type closerAdapter struct {
	om *orders.Manager
}

func (c closerAdapter) ClosePosition(ctx context.Context, symbol string, side market.Side, qty float64, reason string) error {
	_, err := c.om.SubmitClose(ctx, symbol, side, qty, reason)
	return err
}

// New wires the decision-and-execution core around a gateway and a feed.
func New(cfg *config.Config, f feed.Feed, gw broker.Gateway, j journal.Journal, log *zap.Logger) (*Orchestrator, error) {
	if j == nil {
		j = journal.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	limiter, err := risk.NewLimiter(cfg.Risk, cfg.Account.Equity, log)
	if err != nil {
		return nil, err
	}
	gen, err := strategies.NewGenerator(cfg.Strategies, log)
	if err != nil {
		return nil, err
	}

	om := orders.NewManager(gw, limiter, cfg.Orders, j, log)
	tracker := positions.NewTracker(limiter, j, log)
	om.SetFillListener(tracker)
	tracker.SetCloser(closerAdapter{om: om})

	rec := reconcile.NewEngine(gw, om, tracker, limiter, cfg.Reconcile, log)

	return &Orchestrator{
		cfg:     cfg,
		feed:    f,
		gw:      gw,
		gen:     gen,
		limiter: limiter,
		orders:  om,
		tracker: tracker,
		rec:     rec,
		ticks:   market.NewTickStore(),
		journal: j,
		log:     log,
		workers: make(map[string]chan market.Tick),
	}, nil
}

func (o *Orchestrator) Limiter() *risk.Limiter        { return o.limiter }
func (o *Orchestrator) Orders() *orders.Manager       { return o.orders }
func (o *Orchestrator) Tracker() *positions.Tracker   { return o.tracker }
func (o *Orchestrator) Reconciler() *reconcile.Engine { return o.rec }

// Run drives the session until the feed is exhausted or the context ends,
// then shuts down: no new submissions, cancel everything live, and one
// final reconciliation pass inside the grace window.
func (o *Orchestrator) Run(ctx context.Context) error {
	runCtx, stopLoops := context.WithCancel(ctx)
	defer stopLoops()

	// The event pump outlives runCtx: shutdown cancellations still need
	// their confirmations applied.
	pumpCtx, stopPump := context.WithCancel(context.Background())
	defer stopPump()

	var pumpWg sync.WaitGroup
	pumpWg.Add(1)
	go func() {
		defer pumpWg.Done()
		o.pumpEvents(pumpCtx)
	}()

	feedErr := make(chan error, 1)
	go func() {
		feedErr <- o.feed.Run(runCtx)
	}()

	go func() {
		if err := o.rec.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			o.log.Warn("reconciler stopped", zap.Error(err))
		}
	}()
	go o.housekeeping(runCtx)

	o.log.Info("trading session started",
		zap.Int("strategies", len(o.cfg.Strategies)),
		zap.Strings("symbols", o.cfg.Feed.Symbols))

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case tick, ok := <-o.feed.Ticks():
			if !ok {
				break loop
			}
			o.route(runCtx, tick)
		}
	}

	// Shutdown: stop admitting, drain workers, cancel live orders, then
	// confirm broker-side state before exiting. Positions are never
	// silently abandoned.
	o.orders.StopAccepting()
	for _, ch := range o.workers {
		close(ch)
	}
	o.wg.Wait()
	stopLoops()

	grace := o.cfg.Reconcile.ShutdownGrace.Std()
	if grace <= 0 {
		grace = 5 * time.Second
	}
	graceCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	o.orders.CancelAll(graceCtx)
	time.Sleep(grace / 4) // let cancellation confirmations land
	if _, err := o.rec.ReconcileOnce(graceCtx); err != nil {
		o.log.Warn("final reconciliation failed", zap.Error(err))
	}
	o.snapshotRisk()

	stopPump()
	pumpWg.Wait()

	select {
	case err := <-feedErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	default:
	}
	o.log.Info("trading session ended")
	return nil
}

// route hands a tick to its symbol's worker, creating the worker on first
// sight of the symbol.
func (o *Orchestrator) route(ctx context.Context, tick market.Tick) {
	ch, ok := o.workers[tick.Symbol]
	if !ok {
		ch = make(chan market.Tick, 256)
		o.workers[tick.Symbol] = ch
		o.wg.Add(1)
		go o.worker(ctx, ch)
	}
	select {
	case ch <- tick:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) worker(ctx context.Context, ch <-chan market.Tick) {
	defer o.wg.Done()
	for tick := range ch {
		o.handleTick(ctx, tick)
	}
}

func (o *Orchestrator) handleTick(ctx context.Context, tick market.Tick) {
	o.ticks.Set(tick)

	// Position updates first: an exit trigger on this tick must fire
	// before any new entry for the symbol is considered.
	o.tracker.OnTick(ctx, tick)

	for _, sig := range o.gen.Evaluate(tick) {
		scfg, ok := o.cfg.StrategyByName(sig.Strategy)
		if !ok {
			continue
		}
		ord, d, err := o.orders.SubmitSignal(ctx, sig, scfg)
		switch {
		case errors.Is(err, orders.ErrNotAccepting), errors.Is(err, orders.ErrDuplicateSignal):
			o.log.Debug("signal not submitted", zap.String("signal", sig.ID), zap.Error(err))
		case err != nil:
			o.log.Error("order submission failed",
				zap.String("signal", sig.ID),
				zap.String("symbol", sig.Symbol),
				zap.Error(err))
		case ord == nil:
			o.log.Info("signal rejected",
				zap.String("signal", sig.ID),
				zap.String("strategy", sig.Strategy),
				zap.String("reason", d.Reason()))
		default:
			o.log.Info("order submitted",
				zap.String("order_id", ord.ID),
				zap.String("symbol", ord.Symbol),
				zap.String("side", string(ord.Side)),
				zap.Float64("qty", ord.Quantity))
		}
	}
}

// pumpEvents applies gateway events to the order manager. Per-order
// ordering is preserved because the gateway's channel is the single
// delivery path.
func (o *Orchestrator) pumpEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-o.gw.Events():
			if !ok {
				return
			}
			if err := o.orders.HandleEvent(ev); err != nil {
				o.log.Error("event handling failed",
					zap.String("type", string(ev.Type)),
					zap.Error(err))
			}
		}
	}
}

func (o *Orchestrator) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.orders.ExpireStaleParts(ctx, now)
			o.snapshotRisk()
		}
	}
}

func (o *Orchestrator) snapshotRisk() {
	s := o.limiter.Snapshot()
	rec := journal.RiskRecord{
		Time:              time.Now(),
		DailyRealized:     s.DailyRealized,
		DailyUnrealized:   s.DailyUnrealized,
		OpenPositions:     s.OpenPositions,
		ConsecutiveLosses: s.ConsecutiveLosses,
		Halted:            s.Halted,
		HaltReason:        s.HaltReason,
	}
	if err := o.journal.RecordRisk(rec); err != nil {
		o.log.Warn("journal risk snapshot failed", zap.Error(err))
	}
}
