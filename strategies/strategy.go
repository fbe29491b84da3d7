package strategies

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/scalper/config"
	"github.com/rustyeddy/scalper/market"
)

// Strategy evaluates one tick and proposes at most one signal. Strategies
// are stateful (streaming indicators) and are serialized by the Generator
// that owns them.
type Strategy interface {
	Name() string
	Evaluate(tick market.Tick) *Signal
}

type factory func(cfg config.StrategyConfig) (Strategy, error)

var registry = map[string]factory{}

// Register makes a strategy type constructible by name.
func Register(typ string, f factory) {
	registry[typ] = f
}

func init() {
	Register("momentum", func(cfg config.StrategyConfig) (Strategy, error) {
		return NewMomentum(cfg)
	})
	Register("range-breakout", func(cfg config.StrategyConfig) (Strategy, error) {
		return NewRangeBreakout(cfg)
	})
	Register("noop", func(cfg config.StrategyConfig) (Strategy, error) {
		return Noop{name: cfg.Name}, nil
	})
}

// New builds a strategy from its config block.
func New(cfg config.StrategyConfig) (Strategy, error) {
	f, ok := registry[strings.ToLower(strings.TrimSpace(cfg.Type))]
	if !ok {
		return nil, fmt.Errorf("unknown strategy type %q", cfg.Type)
	}
	return f(cfg)
}

// Noop never signals. Useful for wiring tests.
type Noop struct {
	name string
}

func (n Noop) Name() string {
	if n.name == "" {
		return "noop"
	}
	return n.name
}

func (n Noop) Evaluate(market.Tick) *Signal { return nil }
