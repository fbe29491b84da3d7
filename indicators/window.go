package indicators

import "fmt"

// RollingRange tracks the high/low of the last N values. Used for breakout
// detection where the question is "did price leave the recent range".
type RollingRange struct {
	period int
	values []float64
}

func NewRange(period int) *RollingRange {
	return &RollingRange{
		period: period,
		values: make([]float64, 0, period),
	}
}

func (r *RollingRange) Name() string {
	return fmt.Sprintf("Range(%d)", r.period)
}

func (r *RollingRange) Warmup() int { return r.period }

func (r *RollingRange) Reset() { r.values = r.values[:0] }

func (r *RollingRange) Update(v float64) {
	r.values = append(r.values, v)
	if len(r.values) > r.period {
		r.values = r.values[1:]
	}
}

func (r *RollingRange) Ready() bool { return len(r.values) >= r.period }

// High returns the max of the window, 0 when not ready.
func (r *RollingRange) High() float64 {
	if !r.Ready() {
		return 0
	}
	hi := r.values[0]
	for _, v := range r.values[1:] {
		if v > hi {
			hi = v
		}
	}
	return hi
}

// Low returns the min of the window, 0 when not ready.
func (r *RollingRange) Low() float64 {
	if !r.Ready() {
		return 0
	}
	lo := r.values[0]
	for _, v := range r.values[1:] {
		if v < lo {
			lo = v
		}
	}
	return lo
}
