package risk

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/scalper/config"
	"github.com/rustyeddy/scalper/strategies"
)

// Violation codes, in admission priority order.
const (
	CodeTradingHalted    = "TRADING_HALTED"
	CodeMaxOpenPositions = "MAX_OPEN_POSITIONS"
	CodePositionTooLarge = "POSITION_TOO_LARGE"
	CodeDailyLossLimit   = "DAILY_LOSS_LIMIT"
	CodeSignalExpired    = "SIGNAL_EXPIRED"
	CodeNoStop           = "NO_STOP_OR_ENTRY"
)

// Halt reasons.
const (
	HaltDailyLoss  = "DAILY_LOSS_LIMIT"
	HaltLossStreak = "CONSECUTIVE_LOSSES"
	HaltReconcile  = "RECONCILE_MISMATCH"
	HaltInvariant  = "INVARIANT_VIOLATION"
)

type Violation struct {
	Code string
	Msg  string
}

// Decision is the outcome of admitting one signal. Rejections are expected
// control flow, not errors. Violations are ordered by priority; Reason
// returns the highest-priority one.
type Decision struct {
	Allowed    bool
	Violations []Violation

	Units      float64 // sized position, valid only when Allowed
	RiskAmount float64 // worst-case loss at the stop
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

func (d Decision) Reason() string {
	if len(d.Violations) == 0 {
		return ""
	}
	return d.Violations[0].Code
}

// State is the process-wide risk state. Single writer: the Limiter.
type State struct {
	DailyRealized     float64
	DailyUnrealized   float64
	OpenPositions     int
	ConsecutiveLosses int
	Halted            bool
	HaltReason        string
}

// Limiter is the single safety gate between signals and order submission.
// One mutex guards all state so an admission check always observes the
// latest P&L update, and two concurrent admissions cannot both slip past a
// limit. The halt latch is monotonic within a session: only ResetSession
// clears it.
type Limiter struct {
	mu    sync.Mutex
	cfg   config.RiskConfig
	sizer Sizer
	log   *zap.Logger

	startEquity float64
	state       State

	// Admitted-but-not-yet-filled orders reserve headroom so a burst of
	// signals cannot overcommit before fills arrive.
	pendingOrders int
	pendingRisk   float64
}

func NewLimiter(cfg config.RiskConfig, equity float64, log *zap.Logger) (*Limiter, error) {
	sizer, err := SizerFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{
		cfg:         cfg,
		sizer:       sizer,
		log:         log,
		startEquity: equity,
	}, nil
}

// Admit decides whether a signal may become an order, and sizes it. On
// success the limiter reserves one position slot and the trade's worst-case
// loss until the order manager reports an outcome via CommitReservation or
// ReleaseReservation.
func (l *Limiter) Admit(sig strategies.Signal, scfg config.StrategyConfig, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := Decision{Allowed: true}

	// Sanity ahead of policy, as with any malformed input.
	if sig.Entry == 0 || sig.StopLoss == 0 {
		d.add(CodeNoStop, "signal entry/stop must be set")
		return d
	}
	if sig.Expired(now) {
		d.add(CodeSignalExpired, fmt.Sprintf("signal expired at %s", sig.ValidUntil.Format(time.RFC3339)))
		return d
	}

	if l.state.Halted {
		d.add(CodeTradingHalted, fmt.Sprintf("trading halted: %s", l.state.HaltReason))
		return d
	}

	open := l.state.OpenPositions + l.pendingOrders
	if open >= l.cfg.MaxConcurrentPositions {
		d.add(CodeMaxOpenPositions,
			fmt.Sprintf("open+pending positions %d >= max %d", open, l.cfg.MaxConcurrentPositions))
	}

	units := l.sizer.Units(l.equityLocked(), sig.Entry, sig.StopLoss)
	if units <= 0 {
		d.add(CodePositionTooLarge, "sized to zero units")
	} else if notional := units * sig.Entry; notional > scfg.MaxPositionSize {
		d.add(CodePositionTooLarge,
			fmt.Sprintf("notional %.2f exceeds max position size %.2f", notional, scfg.MaxPositionSize))
	}

	worstCase := units * sig.StopDistance()
	projected := l.state.DailyRealized + l.state.DailyUnrealized - l.pendingRisk - worstCase
	if projected < -l.cfg.MaxDailyLoss {
		d.add(CodeDailyLossLimit,
			fmt.Sprintf("projected daily P&L %.2f below -%.2f", projected, l.cfg.MaxDailyLoss))
	}

	if !d.Allowed {
		return d
	}

	d.Units = units
	d.RiskAmount = worstCase
	l.pendingOrders++
	l.pendingRisk += worstCase
	return d
}

// ReleaseReservation returns headroom reserved by Admit. Called when the
// order is rejected or cancelled before any fill.
func (l *Limiter) ReleaseReservation(riskAmount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked(riskAmount)
}

// CommitReservation releases the headroom reserved by Admit once the
// order has its first fill; from then on the trade's risk lives in the
// open position's unrealized P&L. Slot counting is driven by the position
// tracker, which sees the merges and flips the order manager cannot.
func (l *Limiter) CommitReservation(riskAmount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked(riskAmount)
}

// PositionOpened takes one open-position slot. Called when a fill opens a
// fresh position; entries merging into an existing position do not take
// another slot.
func (l *Limiter) PositionOpened() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.OpenPositions++
}

func (l *Limiter) releaseLocked(riskAmount float64) {
	if l.pendingOrders > 0 {
		l.pendingOrders--
	}
	l.pendingRisk -= riskAmount
	if l.pendingRisk < 0 {
		l.pendingRisk = 0
	}
}

// RecordRealized books a realized P&L adjustment that carries no change
// to open exposure (fees, manual corrections) and latches the halt if
// the daily-loss threshold breaches. Closing fills go through RecordFill
// instead, which retires the closed quantity's unrealized contribution
// in the same update.
func (l *Limiter) RecordRealized(delta float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.DailyRealized += delta
	l.checkDailyLossLocked()
}

// RecordFill books a closing fill's realized P&L together with the
// unrealized total that remains after the close. Booking the two in one
// step keeps the daily-loss check from seeing the same loss as both
// realized and still-open unrealized.
func (l *Limiter) RecordFill(realizedDelta, unrealizedTotal float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.DailyRealized += realizedDelta
	l.state.DailyUnrealized = unrealizedTotal
	l.checkDailyLossLocked()
}

// PositionClosed retires an open-position slot and updates the loss
// streak from the position's total realized P&L. The P&L itself has
// already been booked through RecordFill; only streak and count
// change here.
func (l *Limiter) PositionClosed(realized float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.OpenPositions > 0 {
		l.state.OpenPositions--
	}

	if realized < 0 {
		l.state.ConsecutiveLosses++
	} else {
		l.state.ConsecutiveLosses = 0
	}

	if l.cfg.AutoStopLossStreak > 0 && l.state.ConsecutiveLosses >= l.cfg.AutoStopLossStreak {
		l.haltLocked(HaltLossStreak,
			fmt.Sprintf("%d consecutive losing trades", l.state.ConsecutiveLosses))
	}
}

// SetUnrealized feeds the running unrealized P&L across all open
// positions. Latches the halt if the combined daily loss breaches the
// limit while positions are still open.
func (l *Limiter) SetUnrealized(total float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.DailyUnrealized = total
	l.checkDailyLossLocked()
}

func (l *Limiter) checkDailyLossLocked() {
	if l.state.DailyRealized+l.state.DailyUnrealized <= -l.cfg.MaxDailyLoss {
		l.haltLocked(HaltDailyLoss,
			fmt.Sprintf("combined daily P&L %.2f breached -%.2f",
				l.state.DailyRealized+l.state.DailyUnrealized, l.cfg.MaxDailyLoss))
	}
}

// Halt latches the trading halt with an operator-visible reason.
func (l *Limiter) Halt(reason, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.haltLocked(reason, msg)
}

func (l *Limiter) haltLocked(reason, msg string) {
	if l.state.Halted {
		return
	}
	l.state.Halted = true
	l.state.HaltReason = reason
	l.log.Error("trading halted", zap.String("reason", reason), zap.String("detail", msg))
}

func (l *Limiter) Halted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Halted
}

// Snapshot returns a copy of the current risk state.
func (l *Limiter) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Equity is the sizing base: session-start equity plus realized P&L.
func (l *Limiter) Equity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.equityLocked()
}

func (l *Limiter) equityLocked() float64 {
	return l.startEquity + l.state.DailyRealized
}

// ResetSession clears all state, including the halt latch. This is the
// explicit operator action that starts a new trading session.
func (l *Limiter) ResetSession(equity float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.startEquity = equity
	l.state = State{}
	l.pendingOrders = 0
	l.pendingRisk = 0
	l.log.Info("risk session reset", zap.Float64("equity", equity))
}
