package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/scalper/config"
)

func TestFixedFraction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		riskPct float64
		equity  float64
		entry   float64
		stop    float64
		want    float64
	}{
		{"basic long", 0.005, 100000, 100, 99, 500},
		{"basic short", 0.005, 100000, 100, 101, 500},
		{"fractional floor", 0.005, 100000, 100, 99.7, 1666},
		{"zero distance", 0.005, 100000, 100, 100, 0},
		{"zero equity", 0.005, 0, 100, 99, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := FixedFraction{RiskPct: tt.riskPct}
			assert.Equal(t, tt.want, s.Units(tt.equity, tt.entry, tt.stop))
		})
	}
}

func TestKelly(t *testing.T) {
	t.Parallel()

	// f* = (0.6*2 - 0.4)/2 = 0.4, half-Kelly 0.2, capped at 0.01.
	k := Kelly{WinRate: 0.6, Payoff: 2, MaxFraction: 0.01}
	assert.Equal(t, 1000.0, k.Units(100000, 100, 99))

	// Uncapped half-Kelly: (0.55*1.5 - 0.45)/1.5 = 0.25, half 0.125.
	k = Kelly{WinRate: 0.55, Payoff: 1.5}
	assert.Equal(t, 12500.0, k.Units(100000, 100, 99))

	// Negative edge sizes to zero.
	k = Kelly{WinRate: 0.3, Payoff: 1}
	assert.Equal(t, 0.0, k.Units(100000, 100, 99))
}

func TestSizerFromConfig(t *testing.T) {
	t.Parallel()

	s, err := SizerFromConfig(config.RiskConfig{Sizing: "fixed", RiskPercent: 0.01})
	require.NoError(t, err)
	assert.IsType(t, FixedFraction{}, s)

	s, err = SizerFromConfig(config.RiskConfig{Sizing: "kelly", KellyWin: 0.5, KellyPayoff: 2, RiskPercent: 0.01})
	require.NoError(t, err)
	assert.IsType(t, Kelly{}, s)

	_, err = SizerFromConfig(config.RiskConfig{Sizing: "martingale"})
	assert.Error(t, err)
}
