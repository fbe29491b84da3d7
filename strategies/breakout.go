package strategies

import (
	"fmt"
	"time"

	"github.com/rustyeddy/scalper/config"
	"github.com/rustyeddy/scalper/indicators"
	"github.com/rustyeddy/scalper/internal/id"
	"github.com/rustyeddy/scalper/market"
)

// breakoutVolumeRatio is the minimum volume-to-average ratio required to
// confirm a breakout.
const breakoutVolumeRatio = 1.2

// RangeBreakout signals when price escapes the rolling high/low range with
// volume confirmation. Long above the range, short below it.
type RangeBreakout struct {
	cfg     config.StrategyConfig
	symbols map[string]bool
	state   map[string]*breakoutState
}

type breakoutState struct {
	rng *indicators.RollingRange
	vol *indicators.SimpleMA
}

func NewRangeBreakout(cfg config.StrategyConfig) (*RangeBreakout, error) {
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("range-breakout: window must be positive")
	}

	b := &RangeBreakout{
		cfg:     cfg,
		symbols: make(map[string]bool, len(cfg.Symbols)),
		state:   make(map[string]*breakoutState),
	}
	for _, s := range cfg.Symbols {
		b.symbols[s] = true
	}
	return b, nil
}

func (b *RangeBreakout) Name() string { return b.cfg.Name }

func (b *RangeBreakout) Evaluate(tick market.Tick) *Signal {
	if !b.symbols[tick.Symbol] {
		return nil
	}

	st := b.state[tick.Symbol]
	if st == nil {
		st = &breakoutState{
			rng: indicators.NewRange(b.cfg.Window),
			vol: indicators.NewMA(b.cfg.Window),
		}
		b.state[tick.Symbol] = st
	}

	price := tick.Last()

	// Range and volume snapshots exclude the current tick; a breakout is
	// measured against the range that existed before it.
	ready := st.rng.Ready() && st.vol.Ready()
	hi, lo := st.rng.High(), st.rng.Low()
	avgVol := st.vol.Value()

	st.rng.Update(price)
	st.vol.Update(tick.Volume)

	if !ready || avgVol <= 0 {
		return nil
	}

	volRatio := tick.Volume / avgVol
	if volRatio < breakoutVolumeRatio {
		return nil
	}

	var dir market.Direction
	var margin float64
	switch {
	case price > hi:
		dir = market.Long
		margin = (price - hi) / hi
	case price < lo:
		dir = market.Short
		margin = (lo - price) / lo
	default:
		return nil
	}

	// Confidence blends breakout margin (full score at 0.1%) with volume
	// confirmation strength.
	marginScore := clampScore(margin / 0.001 * 10)
	volScore := clampScore((volRatio - 1) * 10)
	confidence := 0.6*marginScore + 0.4*volScore
	if confidence < b.cfg.MinScore {
		return nil
	}

	stopDist := price * b.cfg.StopLossPercent / 100
	stop := price - dir.Sign()*stopDist
	target := price + dir.Sign()*stopDist*b.cfg.RiskReward

	var validUntil time.Time
	if ttl := b.cfg.SignalTTL.Std(); ttl > 0 {
		validUntil = tick.Time.Add(ttl)
	}

	return &Signal{
		ID:          id.New(),
		Symbol:      tick.Symbol,
		Strategy:    b.cfg.Name,
		Direction:   dir,
		Entry:       price,
		StopLoss:    stop,
		Target:      target,
		Confidence:  confidence,
		GeneratedAt: tick.Time,
		ValidUntil:  validUntil,
	}
}
