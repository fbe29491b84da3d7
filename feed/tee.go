package feed

import (
	"context"

	"github.com/rustyeddy/scalper/market"
)

// Tee mirrors every tick from an inner feed into a TickStore before
// forwarding it. Gateways that fill against the latest price (the sim
// engine) share the store with the consumer.
type Tee struct {
	inner Feed
	store *market.TickStore
	out   chan market.Tick
}

func NewTee(inner Feed, store *market.TickStore) *Tee {
	return &Tee{
		inner: inner,
		store: store,
		out:   make(chan market.Tick, 64),
	}
}

func (t *Tee) Ticks() <-chan market.Tick { return t.out }

func (t *Tee) Run(ctx context.Context) error {
	defer close(t.out)

	errCh := make(chan error, 1)
	go func() { errCh <- t.inner.Run(ctx) }()

	for tick := range t.inner.Ticks() {
		t.store.Set(tick)
		select {
		case t.out <- tick:
		case <-ctx.Done():
		}
	}
	return <-errCh
}
