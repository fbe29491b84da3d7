package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rustyeddy/scalper/market"
)

const (
	wsReconnectDelay = 5 * time.Second
	wsMaxReconnects  = 10
	wsReadTimeout    = 30 * time.Second
)

// wsTick is the wire format: one JSON object per message.
type wsTick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
}

type wsSubscribe struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// WSFeed reads ticks from a websocket endpoint, resubscribing after
// disconnects up to a bounded reconnect budget.
type WSFeed struct {
	url     string
	symbols []string
	out     chan market.Tick
}

func NewWS(url string, symbols []string) *WSFeed {
	return &WSFeed{
		url:     url,
		symbols: symbols,
		out:     make(chan market.Tick, 256),
	}
}

func (f *WSFeed) Ticks() <-chan market.Tick { return f.out }

func (f *WSFeed) Run(ctx context.Context) error {
	defer close(f.out)

	reconnects := 0
	for {
		err := f.readLoop(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reconnects++
		if reconnects > wsMaxReconnects {
			return fmt.Errorf("websocket feed: gave up after %d reconnects: %w", wsMaxReconnects, err)
		}
		select {
		case <-time.After(wsReconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *WSFeed) readLoop(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsSubscribe{Op: "subscribe", Symbols: f.symbols}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			return err
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var wt wsTick
		if err := json.Unmarshal(msg, &wt); err != nil || wt.Symbol == "" {
			continue // heartbeats and acks share the stream
		}

		tick := market.Tick{
			Symbol: wt.Symbol,
			Price:  wt.Price,
			Volume: wt.Volume,
			Bid:    wt.Bid,
			Ask:    wt.Ask,
			Time:   time.UnixMilli(wt.Timestamp).UTC(),
		}
		select {
		case f.out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
