package market

import (
	"errors"
	"sync"
	"time"
)

// Tick is a single validated market data point. Upstream transport is
// responsible for validation and dedup; by the time a Tick reaches this
// package it is assumed well-formed.
type Tick struct {
	Symbol string
	Price  float64 // last traded price
	Volume float64
	Bid    float64
	Ask    float64
	Time   time.Time
}

func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

// Last returns the best available mark for the tick: the traded price when
// present, otherwise the mid.
func (t Tick) Last() float64 {
	if t.Price > 0 {
		return t.Price
	}
	return t.Mid()
}

var ErrNoTick = errors.New("no tick for symbol")

// TickStore keeps the latest tick per symbol.
type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]Tick)}
}

func (s *TickStore) Set(t Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks[t.Symbol] = t
}

func (s *TickStore) Get(symbol string) (Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.ticks[symbol]
	if !ok {
		return Tick{}, ErrNoTick
	}
	return t, nil
}
