package strategies

import (
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/scalper/config"
	"github.com/rustyeddy/scalper/indicators"
	"github.com/rustyeddy/scalper/internal/id"
	"github.com/rustyeddy/scalper/market"
)

// fullTrendSeparation is the fast/slow EMA separation (as a fraction of the
// slow EMA) that maps to a trend score of 10.
const fullTrendSeparation = 0.001

// fullPatternRun is the directional tick run length that maps to a pattern
// score of 10.
const fullPatternRun = 5

// Momentum looks for confluence of trend (EMA separation), volume (tick
// volume vs rolling average) and pattern (directional tick run). A signal
// fires only when all three sub-scores clear the configured floor, which is
// the high-conviction filter for scalping entries.
type Momentum struct {
	cfg     config.StrategyConfig
	symbols map[string]bool
	state   map[string]*momentumState
}

type momentumState struct {
	fast *indicators.ExponentialMA
	slow *indicators.ExponentialMA
	vol  *indicators.SimpleMA

	lastPrice float64
	runDir    int // +1 rising ticks, -1 falling
	runLen    int
}

func NewMomentum(cfg config.StrategyConfig) (*Momentum, error) {
	if cfg.FastPeriod <= 0 || cfg.SlowPeriod <= 0 {
		return nil, fmt.Errorf("momentum: fast_period and slow_period must be positive")
	}
	if cfg.FastPeriod >= cfg.SlowPeriod {
		return nil, fmt.Errorf("momentum: fast_period must be below slow_period")
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("momentum: window must be positive")
	}

	m := &Momentum{
		cfg:     cfg,
		symbols: make(map[string]bool, len(cfg.Symbols)),
		state:   make(map[string]*momentumState),
	}
	for _, s := range cfg.Symbols {
		m.symbols[s] = true
	}
	return m, nil
}

func (m *Momentum) Name() string { return m.cfg.Name }

func (m *Momentum) Evaluate(tick market.Tick) *Signal {
	if !m.symbols[tick.Symbol] {
		return nil
	}

	st := m.state[tick.Symbol]
	if st == nil {
		st = &momentumState{
			fast: indicators.NewEMA(m.cfg.FastPeriod),
			slow: indicators.NewEMA(m.cfg.SlowPeriod),
			vol:  indicators.NewMA(m.cfg.Window),
		}
		m.state[tick.Symbol] = st
	}

	price := tick.Last()

	// Pattern run updates before the averages so the current tick counts.
	switch {
	case st.lastPrice == 0:
	case price > st.lastPrice:
		if st.runDir == 1 {
			st.runLen++
		} else {
			st.runDir, st.runLen = 1, 1
		}
	case price < st.lastPrice:
		if st.runDir == -1 {
			st.runLen++
		} else {
			st.runDir, st.runLen = -1, 1
		}
	}
	st.lastPrice = price

	volReady := st.vol.Ready()
	avgVol := st.vol.Value()
	st.vol.Update(tick.Volume)

	st.fast.Update(price)
	st.slow.Update(price)
	if !st.fast.Ready() || !st.slow.Ready() || !volReady {
		return nil
	}

	sep := (st.fast.Value() - st.slow.Value()) / st.slow.Value()
	trendScore := clampScore(math.Abs(sep) / fullTrendSeparation * 10)

	volScore := 0.0
	if avgVol > 0 {
		volScore = clampScore((tick.Volume/avgVol - 1) * 10)
	}

	trendDir := 1
	if sep < 0 {
		trendDir = -1
	}
	patternScore := 0.0
	if st.runDir == trendDir {
		patternScore = clampScore(float64(st.runLen) / fullPatternRun * 10)
	}

	min := m.cfg.MinScore
	if trendScore < min || volScore < min || patternScore < min {
		return nil
	}

	dir := market.Long
	if trendDir < 0 {
		dir = market.Short
	}

	confidence := 0.5*trendScore + 0.3*volScore + 0.2*patternScore
	return m.buildSignal(tick, dir, price, confidence)
}

func (m *Momentum) buildSignal(tick market.Tick, dir market.Direction, entry, confidence float64) *Signal {
	stopDist := entry * m.cfg.StopLossPercent / 100
	stop := entry - dir.Sign()*stopDist
	target := entry + dir.Sign()*stopDist*m.cfg.RiskReward

	var validUntil time.Time
	if ttl := m.cfg.SignalTTL.Std(); ttl > 0 {
		validUntil = tick.Time.Add(ttl)
	}

	return &Signal{
		ID:          id.New(),
		Symbol:      tick.Symbol,
		Strategy:    m.cfg.Name,
		Direction:   dir,
		Entry:       entry,
		StopLoss:    stop,
		Target:      target,
		Confidence:  confidence,
		GeneratedAt: tick.Time,
		ValidUntil:  validUntil,
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
