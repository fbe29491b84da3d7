package broker

import (
	"context"
	"time"

	"github.com/rustyeddy/scalper/market"
)

// OrderType is the broker-facing order type.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
	Stop   OrderType = "STOP"
)

// OrderRequest is a submission to the gateway. ClientID is generated by the
// order manager and is globally unique; the gateway echoes it back on every
// event so fills can be routed without the broker ID.
type OrderRequest struct {
	ClientID   string
	Symbol     string
	Side       market.Side
	Quantity   float64
	Type       OrderType
	LimitPrice float64
	StopPrice  float64
}

// EventType classifies gateway notifications.
type EventType string

const (
	EventAck    EventType = "ACK"
	EventReject EventType = "REJECT"
	EventFill   EventType = "FILL"
	EventCancel EventType = "CANCEL"
)

// Event is an asynchronous gateway notification. Fills never arrive
// synchronously from SubmitOrder; all fill accounting flows through here.
type Event struct {
	Type          EventType
	ClientID      string
	BrokerOrderID string
	Symbol        string

	FillQuantity float64
	FillPrice    float64
	Commission   float64

	Reason string
	Time   time.Time
}

// BrokerOrder is the broker's authoritative view of an order.
type BrokerOrder struct {
	BrokerOrderID string
	ClientID      string
	Symbol        string
	Side          market.Side
	Quantity      float64
	Filled        float64
	AvgFillPrice  float64
	Status        string // "OPEN", "FILLED", "CANCELLED", "REJECTED"
}

// BrokerPosition is the broker's authoritative net position.
type BrokerPosition struct {
	Symbol      string
	NetQuantity float64 // signed: positive long, negative short
	AvgPrice    float64
}

// Gateway is the abstract brokerage contract. Submit and cancel are
// blocking I/O from the caller's perspective; all state changes (ack,
// reject, fill, cancel confirmation) arrive on the event stream. The
// broker is the source of truth for terminal order states and net
// positions.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (brokerOrderID string, err error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	FetchOpenOrders(ctx context.Context) ([]BrokerOrder, error)
	FetchPositions(ctx context.Context) ([]BrokerPosition, error)
	Events() <-chan Event
}
