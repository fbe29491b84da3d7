package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/scalper/config"
	"github.com/rustyeddy/scalper/market"
)

func collect(t *testing.T, f Feed) []market.Tick {
	t.Helper()
	var out []market.Tick
	deadline := time.After(2 * time.Second)
	for {
		select {
		case tick, ok := <-f.Ticks():
			if !ok {
				return out
			}
			out = append(out, tick)
		case <-deadline:
			t.Fatal("timed out collecting ticks")
		}
	}
}

func TestScriptFeed_ReplaysSteps(t *testing.T) {
	t.Parallel()

	f := NewScript([]config.Step{
		{Symbol: "NIFTY", Bid: 99.9, Ask: 100.1, Volume: 1000},
		{Symbol: "NIFTY", Bid: 100.0, Ask: 100.2, Volume: 1200, Delay: config.Duration(5 * time.Millisecond)},
		{Symbol: "BANKNIFTY", Bid: 200.0, Ask: 200.4, Volume: 500},
	})

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background()) }()

	ticks := collect(t, f)
	require.NoError(t, <-done)
	require.Len(t, ticks, 3)

	assert.Equal(t, "NIFTY", ticks[0].Symbol)
	assert.InDelta(t, 100.0, ticks[0].Price, 1e-9) // mid of bid/ask
	assert.Equal(t, 1000.0, ticks[0].Volume)
	assert.Equal(t, "BANKNIFTY", ticks[2].Symbol)
	assert.False(t, ticks[1].Time.Before(ticks[0].Time))
}

func TestScriptFeed_CancelStopsReplay(t *testing.T) {
	t.Parallel()

	f := NewScript([]config.Step{
		{Symbol: "NIFTY", Bid: 99.9, Ask: 100.1, Delay: config.Duration(time.Hour)},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop on cancel")
	}
}

func TestTee_MirrorsTicksIntoStore(t *testing.T) {
	t.Parallel()

	store := market.NewTickStore()
	inner := NewScript([]config.Step{
		{Symbol: "NIFTY", Bid: 99.9, Ask: 100.1},
		{Symbol: "NIFTY", Bid: 100.1, Ask: 100.3},
	})
	tee := NewTee(inner, store)

	done := make(chan error, 1)
	go func() { done <- tee.Run(context.Background()) }()

	ticks := collect(t, tee)
	require.NoError(t, <-done)
	require.Len(t, ticks, 2)

	// The store holds the latest forwarded tick.
	latest, err := store.Get("NIFTY")
	require.NoError(t, err)
	assert.Equal(t, 100.1, latest.Bid)
}

func TestNew_SelectsFeedType(t *testing.T) {
	t.Parallel()

	f := New(config.FeedConfig{Type: "script"})
	assert.IsType(t, &ScriptFeed{}, f)

	f = New(config.FeedConfig{Type: "websocket", URL: "wss://example.test/md"})
	assert.IsType(t, &WSFeed{}, f)
}
