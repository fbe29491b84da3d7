package strategies

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/scalper/config"
	"github.com/rustyeddy/scalper/market"
)

type cooldownKey struct {
	strategy string
	symbol   string
}

// Generator runs every configured strategy against incoming ticks and
// enforces signal and symbol cooldowns. A signal arriving before its
// cooldown has elapsed is dropped, not queued; the next tick re-evaluates.
//
// Cooldown bookkeeping uses tick time, not wall time, so evaluation is
// deterministic for identical inputs.
type Generator struct {
	mu         sync.Mutex
	strategies []Strategy
	cfgs       map[string]config.StrategyConfig // by strategy name
	lastEmit   map[cooldownKey]time.Time
	lastSymbol map[string]time.Time
	log        *zap.Logger
}

// NewGenerator builds strategies from their config blocks.
func NewGenerator(cfgs []config.StrategyConfig, log *zap.Logger) (*Generator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Generator{
		cfgs:       make(map[string]config.StrategyConfig, len(cfgs)),
		lastEmit:   make(map[cooldownKey]time.Time),
		lastSymbol: make(map[string]time.Time),
		log:        log,
	}
	for _, cfg := range cfgs {
		s, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("strategy %q: %w", cfg.Name, err)
		}
		g.strategies = append(g.strategies, s)
		g.cfgs[cfg.Name] = cfg
	}
	return g, nil
}

// Evaluate runs all strategies against one tick and returns the signals
// that survive cooldown checks. The only side effect is the cooldown
// timestamp update for emitted signals.
func (g *Generator) Evaluate(tick market.Tick) []Signal {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []Signal
	for _, s := range g.strategies {
		sig := s.Evaluate(tick)
		if sig == nil {
			continue
		}

		cfg := g.cfgs[sig.Strategy]
		key := cooldownKey{strategy: sig.Strategy, symbol: sig.Symbol}

		if last, ok := g.lastEmit[key]; ok {
			if tick.Time.Sub(last) < cfg.SignalCooldown.Std() {
				g.log.Debug("signal dropped, strategy cooldown",
					zap.String("strategy", sig.Strategy),
					zap.String("symbol", sig.Symbol))
				continue
			}
		}
		if last, ok := g.lastSymbol[sig.Symbol]; ok {
			if tick.Time.Sub(last) < cfg.SymbolCooldown.Std() {
				g.log.Debug("signal dropped, symbol cooldown",
					zap.String("strategy", sig.Strategy),
					zap.String("symbol", sig.Symbol))
				continue
			}
		}

		g.lastEmit[key] = tick.Time
		g.lastSymbol[sig.Symbol] = tick.Time
		out = append(out, *sig)
	}
	return out
}
