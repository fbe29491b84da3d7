package indicators

import "fmt"

// Streaming indicators update one value at a time and expose Ready/Value.
// They are single-goroutine by design; callers own the serialization.
type Streaming interface {
	Name() string
	Warmup() int
	Reset()
	Update(v float64)
	Ready() bool
	Value() float64
}

// SimpleMA is a streaming simple moving average.
type SimpleMA struct {
	period int
	values []float64
}

func NewMA(period int) *SimpleMA {
	return &SimpleMA{
		period: period,
		values: make([]float64, 0, period),
	}
}

func (m *SimpleMA) Name() string {
	return fmt.Sprintf("MA(%d)", m.period)
}

func (m *SimpleMA) Warmup() int { return m.period }

func (m *SimpleMA) Reset() { m.values = m.values[:0] }

func (m *SimpleMA) Update(v float64) {
	m.values = append(m.values, v)
	if len(m.values) > m.period {
		m.values = m.values[1:]
	}
}

func (m *SimpleMA) Ready() bool { return len(m.values) >= m.period }

func (m *SimpleMA) Value() float64 {
	if !m.Ready() {
		return 0
	}
	sum := 0.0
	for _, v := range m.values {
		sum += v
	}
	return sum / float64(len(m.values))
}

// ExponentialMA is a streaming exponential moving average, seeded with an
// SMA over the warmup period.
type ExponentialMA struct {
	period     int
	multiplier float64
	ema        float64
	count      int
	warmupSum  float64
}

func NewEMA(period int) *ExponentialMA {
	return &ExponentialMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *ExponentialMA) Name() string {
	return fmt.Sprintf("EMA(%d)", e.period)
}

func (e *ExponentialMA) Warmup() int { return e.period }

func (e *ExponentialMA) Reset() {
	e.ema = 0
	e.count = 0
	e.warmupSum = 0
}

func (e *ExponentialMA) Update(v float64) {
	if e.count < e.period {
		e.warmupSum += v
		e.count++
		if e.count == e.period {
			e.ema = e.warmupSum / float64(e.period)
		}
		return
	}
	e.ema = (v-e.ema)*e.multiplier + e.ema
}

func (e *ExponentialMA) Ready() bool { return e.count >= e.period }

func (e *ExponentialMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.ema
}
