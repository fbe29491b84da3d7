package market

// Side is the order side sent to the broker.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the closing side for an entry side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Direction is the intent of a signal or position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Side maps a direction to the entry order side.
func (d Direction) Side() Side {
	if d == Short {
		return Sell
	}
	return Buy
}

// Sign is +1 for long, -1 for short. Used in P&L math so the same formula
// covers both directions.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}
