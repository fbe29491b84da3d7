package journal

import "time"

// Records are write-only from the core's perspective: they feed external
// reporting and never flow back into trading decisions.

// OrderRecord is the current state of an order; one row per order,
// replaced on every transition.
type OrderRecord struct {
	OrderID    string
	BrokerID   string
	Symbol     string
	Side       string
	Type       string
	Status     string
	Strategy   string
	SignalID   string
	Quantity   float64
	Filled     float64
	AvgPrice   float64
	Commission float64
	Reason     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TradeRecord is one closed round trip.
type TradeRecord struct {
	TradeID    string
	Symbol     string
	Strategy   string
	Direction  string
	Quantity   float64
	EntryPrice float64
	ExitPrice  float64
	RealizedPL float64
	Commission float64
	OpenTime   time.Time
	CloseTime  time.Time
	Reason     string
}

// PositionRecord is a position snapshot taken after each fill.
type PositionRecord struct {
	Symbol       string
	Strategy     string
	NetQuantity  float64
	AvgEntry     float64
	RealizedPL   float64
	UnrealizedPL float64
	Status       string
	OpenedAt     time.Time
	ClosedAt     time.Time
	Time         time.Time
}

// RiskRecord is a periodic snapshot of the risk state.
type RiskRecord struct {
	Time              time.Time
	DailyRealized     float64
	DailyUnrealized   float64
	OpenPositions     int
	ConsecutiveLosses int
	Halted            bool
	HaltReason        string
}

type Journal interface {
	RecordOrder(OrderRecord) error
	RecordTrade(TradeRecord) error
	RecordPosition(PositionRecord) error
	RecordRisk(RiskRecord) error
	Close() error
}

// Noop discards everything. Used in tests and when journaling is disabled.
type Noop struct{}

func (Noop) RecordOrder(OrderRecord) error       { return nil }
func (Noop) RecordTrade(TradeRecord) error       { return nil }
func (Noop) RecordPosition(PositionRecord) error { return nil }
func (Noop) RecordRisk(RiskRecord) error         { return nil }
func (Noop) Close() error                        { return nil }
