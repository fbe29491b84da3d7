package orders

import (
	"time"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/market"
)

// Status is the order lifecycle state. FILLED, CANCELLED and REJECTED are
// terminal: an order never transitions out of them.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusOpen      Status = "OPEN"
	StatusPartial   Status = "PARTIAL"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
	StatusRejected  Status = "REJECTED"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// legal enumerates the allowed state-machine transitions.
var legal = map[Status][]Status{
	StatusPending: {StatusOpen, StatusPartial, StatusFilled, StatusCancelled, StatusRejected},
	StatusOpen:    {StatusPartial, StatusFilled, StatusCancelled},
	StatusPartial: {StatusOpen, StatusPartial, StatusFilled, StatusCancelled},
}

func canTransition(from, to Status) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Order is owned exclusively by the Manager and mutated only through its
// state-machine transitions.
type Order struct {
	ID       string // client-generated, globally unique
	BrokerID string // empty until the broker acknowledges

	Symbol     string
	Side       market.Side
	Quantity   float64
	Type       broker.OrderType
	LimitPrice float64
	StopPrice  float64

	FilledQuantity float64
	AvgFillPrice   float64
	Commission     float64

	Status   Status
	Strategy string
	SignalID string
	Reason   string // reject or cancel reason

	// Exit levels carried from the admitted signal; the position tracker
	// picks them up on the opening fill.
	StopLoss     float64
	TakeProfit   float64
	TrailingDist float64
	MaxHold      time.Duration

	// Closing marks position-exit orders, which bypass risk admission.
	Closing     bool
	CloseReason string

	// RiskAmount is the worst-case loss reserved at admission; released
	// or committed on the order's outcome.
	RiskAmount float64

	CreatedAt   time.Time
	PlacedAt    time.Time
	FilledAt    time.Time
	CancelledAt time.Time

	lastFillAt time.Time
}

// Remaining is the unfilled quantity.
func (o *Order) Remaining() float64 {
	return o.Quantity - o.FilledQuantity
}
