package risk

import (
	"fmt"
	"math"

	"github.com/rustyeddy/scalper/config"
)

// Sizer converts account equity plus a signal's entry/stop levels into a
// position size in units. The formula is pluggable; the limiter only cares
// that worst-case loss = units * |entry - stop|.
type Sizer interface {
	Units(equity, entry, stop float64) float64
}

// FixedFraction risks a fixed fraction of equity per trade.
type FixedFraction struct {
	RiskPct float64 // e.g. 0.005
}

func (f FixedFraction) Units(equity, entry, stop float64) float64 {
	dist := math.Abs(entry - stop)
	if dist == 0 || equity <= 0 {
		return 0
	}
	return math.Floor(equity * f.RiskPct / dist)
}

// Kelly sizes with a half-Kelly fraction derived from the configured win
// rate and payoff ratio, capped so a bad parameter estimate cannot blow
// through per-trade limits.
type Kelly struct {
	WinRate     float64 // p in (0,1)
	Payoff      float64 // average win / average loss
	MaxFraction float64 // hard cap on the equity fraction risked
}

func (k Kelly) Units(equity, entry, stop float64) float64 {
	dist := math.Abs(entry - stop)
	if dist == 0 || equity <= 0 || k.Payoff <= 0 {
		return 0
	}

	frac := (k.WinRate*k.Payoff - (1 - k.WinRate)) / k.Payoff
	frac /= 2 // half-Kelly
	if frac <= 0 {
		return 0
	}
	if k.MaxFraction > 0 && frac > k.MaxFraction {
		frac = k.MaxFraction
	}
	return math.Floor(equity * frac / dist)
}

// SizerFromConfig builds the configured sizing model.
func SizerFromConfig(cfg config.RiskConfig) (Sizer, error) {
	switch cfg.Sizing {
	case "fixed":
		return FixedFraction{RiskPct: cfg.RiskPercent}, nil
	case "kelly":
		return Kelly{
			WinRate:     cfg.KellyWin,
			Payoff:      cfg.KellyPayoff,
			MaxFraction: cfg.RiskPercent,
		}, nil
	default:
		return nil, fmt.Errorf("unknown sizing model %q", cfg.Sizing)
	}
}
