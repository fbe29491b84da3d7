package strategies

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/rustyeddy/scalper/config"
	"github.com/rustyeddy/scalper/market"
)

// alwaysSignal proposes a long entry on every tick it sees.
type alwaysSignal struct {
	name   string
	symbol string
}

func (s alwaysSignal) Name() string { return s.name }

func (s alwaysSignal) Evaluate(tick market.Tick) *Signal {
	if tick.Symbol != s.symbol {
		return nil
	}
	return &Signal{
		ID:          s.name + "-" + tick.Time.Format(time.RFC3339Nano),
		Symbol:      tick.Symbol,
		Strategy:    s.name,
		Direction:   market.Long,
		Entry:       tick.Last(),
		StopLoss:    tick.Last() * 0.99,
		Target:      tick.Last() * 1.02,
		Confidence:  8,
		GeneratedAt: tick.Time,
	}
}

func newTestGenerator(cfgs ...config.StrategyConfig) *Generator {
	g := &Generator{
		cfgs:       make(map[string]config.StrategyConfig),
		lastEmit:   make(map[cooldownKey]time.Time),
		lastSymbol: make(map[string]time.Time),
		log:        zap.NewNop(),
	}
	for _, cfg := range cfgs {
		g.strategies = append(g.strategies, alwaysSignal{name: cfg.Name, symbol: cfg.Symbols[0]})
		g.cfgs[cfg.Name] = cfg
	}
	return g
}

func tickAt(symbol string, price float64, at time.Time) market.Tick {
	return market.Tick{Symbol: symbol, Price: price, Volume: 1000, Time: at}
}

func TestGenerator_StrategyCooldown(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(config.StrategyConfig{
		Name:           "eager",
		Symbols:        []string{"NIFTY"},
		SignalCooldown: config.Duration(60 * time.Second),
	})

	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	assert.Len(t, g.Evaluate(tickAt("NIFTY", 100, base)), 1)

	// Inside the cooldown the signal is dropped, not queued.
	assert.Empty(t, g.Evaluate(tickAt("NIFTY", 101, base.Add(30*time.Second))))
	assert.Empty(t, g.Evaluate(tickAt("NIFTY", 102, base.Add(59*time.Second))))

	assert.Len(t, g.Evaluate(tickAt("NIFTY", 103, base.Add(61*time.Second))), 1)
}

func TestGenerator_SymbolCooldownSpansStrategies(t *testing.T) {
	t.Parallel()

	a := config.StrategyConfig{
		Name:           "first",
		Symbols:        []string{"NIFTY"},
		SymbolCooldown: config.Duration(10 * time.Second),
	}
	b := a
	b.Name = "second"
	g := newTestGenerator(a, b)

	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	// Both strategies fire; the symbol cooldown set by the first suppresses
	// the second on the same tick.
	sigs := g.Evaluate(tickAt("NIFTY", 100, base))
	assert.Len(t, sigs, 1)
	assert.Equal(t, "first", sigs[0].Strategy)

	assert.Empty(t, g.Evaluate(tickAt("NIFTY", 100, base.Add(5*time.Second))))

	sigs = g.Evaluate(tickAt("NIFTY", 100, base.Add(11*time.Second)))
	assert.Len(t, sigs, 1)
}

func TestGenerator_SymbolsIndependent(t *testing.T) {
	t.Parallel()

	a := config.StrategyConfig{
		Name:           "nifty",
		Symbols:        []string{"NIFTY"},
		SignalCooldown: config.Duration(time.Minute),
		SymbolCooldown: config.Duration(time.Minute),
	}
	b := config.StrategyConfig{
		Name:           "banknifty",
		Symbols:        []string{"BANKNIFTY"},
		SignalCooldown: config.Duration(time.Minute),
		SymbolCooldown: config.Duration(time.Minute),
	}
	g := newTestGenerator(a, b)

	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	assert.Len(t, g.Evaluate(tickAt("NIFTY", 100, base)), 1)
	// A different symbol is not throttled by NIFTY's cooldown.
	assert.Len(t, g.Evaluate(tickAt("BANKNIFTY", 200, base.Add(time.Second))), 1)
}

func TestNewGenerator_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := NewGenerator([]config.StrategyConfig{
		{Name: "bad", Type: "astrology", Symbols: []string{"NIFTY"}},
	}, nil)
	assert.Error(t, err)
}

func TestNew_Registry(t *testing.T) {
	t.Parallel()

	s, err := New(config.StrategyConfig{Name: "quiet", Type: "noop"})
	assert.NoError(t, err)
	assert.Equal(t, "quiet", s.Name())
	assert.Nil(t, s.Evaluate(market.Tick{Symbol: "NIFTY", Price: 100}))
}
