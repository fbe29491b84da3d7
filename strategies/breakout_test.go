package strategies

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/scalper/config"
	"github.com/rustyeddy/scalper/market"
)

func breakoutConfig() config.StrategyConfig {
	return config.StrategyConfig{
		Name:            "brk",
		Type:            "range-breakout",
		Symbols:         []string{"BANKNIFTY"},
		StopLossPercent: 0.3,
		RiskReward:      1.5,
		MaxPositionSize: 50000,
		MinScore:        6,
		Window:          3,
	}
}

func breakoutTick(price, volume float64, at time.Time) market.Tick {
	return market.Tick{Symbol: "BANKNIFTY", Price: price, Volume: volume, Time: at}
}

func warmBreakout(t *testing.T, b *RangeBreakout, base time.Time) {
	t.Helper()
	for i := 0; i < 3; i++ {
		require.Nil(t, b.Evaluate(breakoutTick(100, 1000, base.Add(time.Duration(i)*time.Second))))
	}
}

func TestRangeBreakout_LongAboveRange(t *testing.T) {
	t.Parallel()

	b, err := NewRangeBreakout(breakoutConfig())
	require.NoError(t, err)

	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	warmBreakout(t, b, base)

	sig := b.Evaluate(breakoutTick(100.5, 2000, base.Add(3*time.Second)))
	require.NotNil(t, sig)
	assert.Equal(t, market.Long, sig.Direction)
	assert.Equal(t, 100.5, sig.Entry)
	assert.InDelta(t, 100.5-100.5*0.003, sig.StopLoss, 1e-9)
	assert.InDelta(t, 100.5+1.5*100.5*0.003, sig.Target, 1e-9)
	assert.GreaterOrEqual(t, sig.Confidence, 6.0)
}

func TestRangeBreakout_ShortBelowRange(t *testing.T) {
	t.Parallel()

	b, err := NewRangeBreakout(breakoutConfig())
	require.NoError(t, err)

	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	warmBreakout(t, b, base)

	sig := b.Evaluate(breakoutTick(99.5, 2000, base.Add(3*time.Second)))
	require.NotNil(t, sig)
	assert.Equal(t, market.Short, sig.Direction)
	assert.Greater(t, sig.StopLoss, sig.Entry)
}

func TestRangeBreakout_RequiresVolumeConfirmation(t *testing.T) {
	t.Parallel()

	b, err := NewRangeBreakout(breakoutConfig())
	require.NoError(t, err)

	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	warmBreakout(t, b, base)

	// Price escapes the range but volume is average: no confirmation.
	assert.Nil(t, b.Evaluate(breakoutTick(100.5, 1000, base.Add(3*time.Second))))
}

func TestRangeBreakout_InsideRangeStaysQuiet(t *testing.T) {
	t.Parallel()

	b, err := NewRangeBreakout(breakoutConfig())
	require.NoError(t, err)

	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	warmBreakout(t, b, base)

	assert.Nil(t, b.Evaluate(breakoutTick(100, 5000, base.Add(3*time.Second))))
}

func TestNewRangeBreakout_Validation(t *testing.T) {
	t.Parallel()

	cfg := breakoutConfig()
	cfg.Window = 0
	_, err := NewRangeBreakout(cfg)
	assert.Error(t, err)
}
