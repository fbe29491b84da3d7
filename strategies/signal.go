package strategies

import (
	"time"

	"github.com/rustyeddy/scalper/market"
)

// Signal is a strategy's proposal to enter a position, pre-risk-check.
// Immutable once created; the risk limiter consumes it exactly once.
type Signal struct {
	ID          string
	Symbol      string
	Strategy    string
	Direction   market.Direction
	Entry       float64
	StopLoss    float64
	Target      float64
	Confidence  float64 // 0-10
	GeneratedAt time.Time
	ValidUntil  time.Time
}

// Expired reports whether the signal's validity window has passed.
func (s Signal) Expired(now time.Time) bool {
	return !s.ValidUntil.IsZero() && now.After(s.ValidUntil)
}

// StopDistance is the absolute entry-to-stop distance.
func (s Signal) StopDistance() float64 {
	d := s.Entry - s.StopLoss
	if d < 0 {
		return -d
	}
	return d
}
