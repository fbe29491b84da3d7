package positions

import (
	"time"

	"github.com/rustyeddy/scalper/market"
)

type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Position is the net exposure in one symbol. One active position per
// symbol; owned by the Tracker and updated on every fill and price tick.
type Position struct {
	Symbol   string
	Strategy string

	// NetQuantity is signed: positive long, negative short.
	NetQuantity  float64
	AvgEntry     float64
	RealizedPL   float64 // net of commission
	UnrealizedPL float64
	Commission   float64

	StopLoss     float64
	TakeProfit   float64
	TrailingDist float64
	MaxHold      time.Duration

	OpenedAt time.Time
	ClosedAt time.Time
	Status   Status
}

func (p *Position) Direction() market.Direction {
	if p.NetQuantity < 0 {
		return market.Short
	}
	return market.Long
}

// Mark returns the price a position of this direction values against:
// longs exit on the bid, shorts on the ask.
func (p *Position) Mark(t market.Tick) float64 {
	if p.NetQuantity < 0 {
		if t.Ask > 0 {
			return t.Ask
		}
	} else if t.Bid > 0 {
		return t.Bid
	}
	return t.Last()
}

// lot is one FIFO entry parcel. Quantity is always positive; the parent
// position's sign carries direction.
type lot struct {
	qty        float64
	price      float64
	commission float64
	openedAt   time.Time
}
