package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/market"
)

func tickStore(symbol string, bid, ask float64) *market.TickStore {
	ts := market.NewTickStore()
	ts.Set(market.Tick{Symbol: symbol, Bid: bid, Ask: ask, Time: time.Now()})
	return ts
}

func nextEvent(t *testing.T, e *Engine) broker.Event {
	t.Helper()
	select {
	case ev := <-e.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broker event")
		return broker.Event{}
	}
}

func TestSubmitOrder_AckThenFill(t *testing.T) {
	t.Parallel()

	e := NewEngine(tickStore("NIFTY", 99.9, 100.1))
	brokerID, err := e.SubmitOrder(context.Background(), broker.OrderRequest{
		ClientID: "ord-1",
		Symbol:   "NIFTY",
		Side:     market.Buy,
		Quantity: 100,
	})
	require.NoError(t, err)
	require.NotEmpty(t, brokerID)

	ack := nextEvent(t, e)
	assert.Equal(t, broker.EventAck, ack.Type)
	assert.Equal(t, "ord-1", ack.ClientID)

	fill := nextEvent(t, e)
	assert.Equal(t, broker.EventFill, fill.Type)
	assert.Equal(t, 100.0, fill.FillQuantity)
	assert.Equal(t, 100.1, fill.FillPrice) // buyer lifts the ask

	pos, err := e.FetchPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, 100.0, pos[0].NetQuantity)
	assert.Equal(t, 100.1, pos[0].AvgPrice)
}

func TestSubmitOrder_SellHitsBidWithSlippage(t *testing.T) {
	t.Parallel()

	e := NewEngine(tickStore("NIFTY", 100, 100.2), WithSlippage(0.001))
	_, err := e.SubmitOrder(context.Background(), broker.OrderRequest{
		ClientID: "ord-1",
		Symbol:   "NIFTY",
		Side:     market.Sell,
		Quantity: 10,
	})
	require.NoError(t, err)

	nextEvent(t, e) // ack
	fill := nextEvent(t, e)
	assert.InDelta(t, 100*0.999, fill.FillPrice, 1e-9)
}

func TestSubmitOrder_FillChunks(t *testing.T) {
	t.Parallel()

	e := NewEngine(tickStore("NIFTY", 99.9, 100.1), WithFillChunks(3), WithCommission(0.01))
	_, err := e.SubmitOrder(context.Background(), broker.OrderRequest{
		ClientID: "ord-1",
		Symbol:   "NIFTY",
		Side:     market.Buy,
		Quantity: 100,
	})
	require.NoError(t, err)

	nextEvent(t, e) // ack
	total, commission := 0.0, 0.0
	for i := 0; i < 3; i++ {
		fill := nextEvent(t, e)
		require.Equal(t, broker.EventFill, fill.Type)
		total += fill.FillQuantity
		commission += fill.Commission
	}
	assert.InDelta(t, 100.0, total, 1e-9)
	assert.InDelta(t, 1.0, commission, 1e-9)
}

func TestSubmitOrder_RejectNext(t *testing.T) {
	t.Parallel()

	e := NewEngine(tickStore("NIFTY", 99.9, 100.1))
	e.RejectNext("NO_MARGIN")

	_, err := e.SubmitOrder(context.Background(), broker.OrderRequest{
		ClientID: "ord-1",
		Symbol:   "NIFTY",
		Side:     market.Buy,
		Quantity: 100,
	})
	require.NoError(t, err)

	ev := nextEvent(t, e)
	assert.Equal(t, broker.EventReject, ev.Type)
	assert.Equal(t, "NO_MARGIN", ev.Reason)

	// Only the next submission is rejected.
	_, err = e.SubmitOrder(context.Background(), broker.OrderRequest{
		ClientID: "ord-2",
		Symbol:   "NIFTY",
		Side:     market.Buy,
		Quantity: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, broker.EventAck, nextEvent(t, e).Type)
}

func TestSubmitOrder_FailSubmits(t *testing.T) {
	t.Parallel()

	e := NewEngine(tickStore("NIFTY", 99.9, 100.1))
	e.FailSubmits(2)

	_, err := e.SubmitOrder(context.Background(), broker.OrderRequest{ClientID: "a", Symbol: "NIFTY", Side: market.Buy, Quantity: 1})
	assert.Error(t, err)
	_, err = e.SubmitOrder(context.Background(), broker.OrderRequest{ClientID: "b", Symbol: "NIFTY", Side: market.Buy, Quantity: 1})
	assert.Error(t, err)
	_, err = e.SubmitOrder(context.Background(), broker.OrderRequest{ClientID: "c", Symbol: "NIFTY", Side: market.Buy, Quantity: 1})
	assert.NoError(t, err)
}

func TestManualFillAndCancel(t *testing.T) {
	t.Parallel()

	e := NewEngine(tickStore("NIFTY", 99.9, 100.1), WithManualFills())
	brokerID, err := e.SubmitOrder(context.Background(), broker.OrderRequest{
		ClientID: "ord-1",
		Symbol:   "NIFTY",
		Side:     market.Buy,
		Quantity: 100,
	})
	require.NoError(t, err)
	nextEvent(t, e) // ack

	require.NoError(t, e.Fill(brokerID, 40, 100.1))
	fill := nextEvent(t, e)
	assert.Equal(t, 40.0, fill.FillQuantity)

	// Overfill is refused.
	assert.Error(t, e.Fill(brokerID, 70, 100.1))

	require.NoError(t, e.CancelOrder(context.Background(), brokerID))
	assert.Equal(t, broker.EventCancel, nextEvent(t, e).Type)

	// Terminal orders cannot be cancelled again or filled.
	assert.Error(t, e.CancelOrder(context.Background(), brokerID))
	assert.Error(t, e.Fill(brokerID, 10, 100.1))
}

func TestFetchOpenOrders_IncludesTerminal(t *testing.T) {
	t.Parallel()

	e := NewEngine(tickStore("NIFTY", 99.9, 100.1))
	_, err := e.SubmitOrder(context.Background(), broker.OrderRequest{
		ClientID: "ord-1",
		Symbol:   "NIFTY",
		Side:     market.Buy,
		Quantity: 100,
	})
	require.NoError(t, err)

	orders, err := e.FetchOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "FILLED", orders[0].Status)
	assert.Equal(t, 100.1, orders[0].AvgFillPrice)
}

func TestPositionNetting(t *testing.T) {
	t.Parallel()

	ts := tickStore("NIFTY", 99.9, 100.1)
	e := NewEngine(ts)

	_, err := e.SubmitOrder(context.Background(), broker.OrderRequest{ClientID: "a", Symbol: "NIFTY", Side: market.Buy, Quantity: 100})
	require.NoError(t, err)
	_, err = e.SubmitOrder(context.Background(), broker.OrderRequest{ClientID: "b", Symbol: "NIFTY", Side: market.Sell, Quantity: 100})
	require.NoError(t, err)

	pos, err := e.FetchPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pos) // flat positions are omitted
}
