// Package feed supplies validated market ticks. Upstream validation and
// dedup are out of scope; implementations just move ticks onto a channel.
package feed

import (
	"context"
	"time"

	"github.com/rustyeddy/scalper/config"
	"github.com/rustyeddy/scalper/market"
)

// Feed is the market data contract. Run blocks until the source is
// exhausted or the context ends, then closes the tick channel.
type Feed interface {
	Run(ctx context.Context) error
	Ticks() <-chan market.Tick
}

// ScriptFeed replays a fixed sequence of ticks with optional inter-tick
// delays. Used for paper sessions and wiring tests.
type ScriptFeed struct {
	steps []config.Step
	out   chan market.Tick
}

func NewScript(steps []config.Step) *ScriptFeed {
	return &ScriptFeed{
		steps: steps,
		out:   make(chan market.Tick, 64),
	}
}

func (f *ScriptFeed) Ticks() <-chan market.Tick { return f.out }

func (f *ScriptFeed) Run(ctx context.Context) error {
	defer close(f.out)

	now := time.Now()
	for _, step := range f.steps {
		if d := step.Delay.Std(); d > 0 {
			select {
			case <-time.After(d):
				now = now.Add(d)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		tick := market.Tick{
			Symbol: step.Symbol,
			Bid:    step.Bid,
			Ask:    step.Ask,
			Price:  (step.Bid + step.Ask) / 2,
			Volume: step.Volume,
			Time:   now,
		}
		select {
		case f.out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// New builds a feed from configuration.
func New(cfg config.FeedConfig) Feed {
	if cfg.Type == "websocket" {
		return NewWS(cfg.URL, cfg.Symbols)
	}
	return NewScript(cfg.Steps)
}
