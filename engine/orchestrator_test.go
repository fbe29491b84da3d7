package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/scalper/broker/sim"
	"github.com/rustyeddy/scalper/config"
	"github.com/rustyeddy/scalper/feed"
	"github.com/rustyeddy/scalper/internal/id"
	"github.com/rustyeddy/scalper/market"
	"github.com/rustyeddy/scalper/positions"
	"github.com/rustyeddy/scalper/risk"
	"github.com/rustyeddy/scalper/strategies"
)

// enterLong proposes a long entry with a fixed stop, once or on every tick
// depending on repeat. Deterministic replacement for the real strategies in
// end-to-end tests.
type enterLong struct {
	name   string
	stop   float64
	repeat bool
	fired  bool
}

func (s *enterLong) Name() string { return s.name }

func (s *enterLong) Evaluate(tick market.Tick) *strategies.Signal {
	if tick.Symbol != "NIFTY" || (s.fired && !s.repeat) {
		return nil
	}
	s.fired = true
	entry := tick.Last()
	return &strategies.Signal{
		ID:          id.New(),
		Symbol:      tick.Symbol,
		Strategy:    s.name,
		Direction:   market.Long,
		Entry:       entry,
		StopLoss:    s.stop,
		Target:      entry * 1.05,
		Confidence:  9,
		GeneratedAt: tick.Time,
	}
}

func init() {
	strategies.Register("test-enter-once", func(cfg config.StrategyConfig) (strategies.Strategy, error) {
		return &enterLong{name: cfg.Name, stop: 99}, nil
	})
	strategies.Register("test-enter-repeat", func(cfg config.StrategyConfig) (strategies.Strategy, error) {
		return &enterLong{name: cfg.Name, stop: 99, repeat: true}, nil
	})
}

func sessionConfig(strategyType string, maxDailyLoss float64) *config.Config {
	return &config.Config{
		Account: config.AccountConfig{ID: "TEST", Currency: "USD", Equity: 100000},
		Risk: config.RiskConfig{
			MaxDailyLoss:           maxDailyLoss,
			MaxConcurrentPositions: 3,
			AutoStopLossStreak:     5,
			Sizing:                 "fixed",
			RiskPercent:            0.005,
		},
		Strategies: []config.StrategyConfig{{
			Name:            "scenario",
			Type:            strategyType,
			Symbols:         []string{"NIFTY"},
			StopLossPercent: 1,
			RiskReward:      2,
			MaxPositionSize: 1e9,
		}},
		Orders: config.OrderConfig{
			MaxRetries:   3,
			RetryBackoff: config.Duration(10 * time.Millisecond),
			PartialStale: config.Duration(30 * time.Second),
		},
		Reconcile: config.ReconcileConfig{
			Interval:      config.Duration(time.Minute), // only the final pass runs
			QtyTolerance:  0.001,
			OnMismatch:    "halt",
			ShutdownGrace: config.Duration(200 * time.Millisecond),
		},
		Feed:    config.FeedConfig{Type: "script", Symbols: []string{"NIFTY"}},
		Journal: config.JournalConfig{Type: "none"},
	}
}

// stopOutSteps walks price through an entry at ~100 and then down through
// the 99 stop.
func stopOutSteps() []config.Step {
	return []config.Step{
		{Symbol: "NIFTY", Bid: 99.95, Ask: 100.05, Volume: 1000},
		{Symbol: "NIFTY", Bid: 98.9, Ask: 99.0, Volume: 1000, Delay: config.Duration(50 * time.Millisecond)},
		{Symbol: "NIFTY", Bid: 98.9, Ask: 99.0, Volume: 1000, Delay: config.Duration(50 * time.Millisecond)},
	}
}

func runSession(t *testing.T, cfg *config.Config, steps []config.Step) (*Orchestrator, *sim.Engine) {
	t.Helper()

	ts := market.NewTickStore()
	gw := sim.NewEngine(ts)
	f := feed.NewTee(feed.NewScript(steps), ts)

	orch, err := New(cfg, f, gw, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, orch.Run(ctx))
	return orch, gw
}

func TestSession_EntryThenStopLossExit(t *testing.T) {
	t.Parallel()

	orch, gw := runSession(t, sessionConfig("test-enter-once", 1000), stopOutSteps())

	// The entry filled at the ask (100.05), the stop close at the bid
	// (98.9), 500 units sized at 0.5% account risk against the 1-point stop.
	pos, ok := orch.Tracker().Get("NIFTY")
	require.True(t, ok)
	assert.Equal(t, positions.StatusClosed, pos.Status)
	assert.Equal(t, 0.0, pos.NetQuantity)
	assert.InDelta(t, (98.9-100.05)*500, pos.RealizedPL, 1e-6)

	st := orch.Limiter().Snapshot()
	assert.InDelta(t, (98.9-100.05)*500, st.DailyRealized, 1e-6)
	assert.Equal(t, 0, st.OpenPositions)
	assert.Equal(t, 1, st.ConsecutiveLosses)
	assert.False(t, st.Halted) // 575 loss is inside the 1000 limit

	// Both the entry and the close reached terminal states.
	assert.Empty(t, orch.Orders().NonTerminal())

	// Broker agrees the book is flat.
	bps, err := gw.FetchPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, bps)
}

func TestSession_DailyLossHaltBlocksReentry(t *testing.T) {
	t.Parallel()

	// A 520 cap admits the entry (500 worst case at the stop) but the
	// ~-575 drawdown marked on the stop-out tick breaches it: trading
	// halts, the position still closes out, and the strategy's re-entry
	// attempt on the last tick is refused.
	orch, gw := runSession(t, sessionConfig("test-enter-repeat", 520), stopOutSteps())

	st := orch.Limiter().Snapshot()
	assert.True(t, st.Halted)
	assert.Equal(t, risk.HaltDailyLoss, st.HaltReason)

	pos, ok := orch.Tracker().Get("NIFTY")
	require.True(t, ok)
	assert.Equal(t, positions.StatusClosed, pos.Status)

	bps, err := gw.FetchPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, bps)
}

func TestSession_NoSignalsNoOrders(t *testing.T) {
	t.Parallel()

	cfg := sessionConfig("noop", 1000)
	orch, gw := runSession(t, cfg, stopOutSteps())

	_, ok := orch.Tracker().Get("NIFTY")
	assert.False(t, ok)
	assert.Empty(t, orch.Orders().NonTerminal())
	assert.False(t, orch.Limiter().Halted())

	bos, err := gw.FetchOpenOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, bos)
}
