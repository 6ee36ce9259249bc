package ltp

import (
	"sort"
	"sync"
	"time"

	"nodeflow/internal/schema"
)

// Quote is the last traded state of one symbol.
type Quote struct {
	Symbol    string
	LTP       float64
	Volume    int64
	OI        int64
	Timestamp time.Time
}

// Store is a last traded price cache keyed by symbol.
//
// The orchestrator is the only writer; strategies read it while evaluating.
// A tick older than the stored quote never rewinds it.
type Store struct {
	mtx    sync.RWMutex
	quotes map[string]Quote
}

func NewStore() *Store {
	return &Store{
		quotes: make(map[string]Quote),
	}
}

// Update records the tick. It returns false when the tick is older than the stored quote.
func (s *Store) Update(t schema.Tick) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if prev, ok := s.quotes[t.Symbol]; ok && t.Timestamp.Before(prev.Timestamp) {
		return false
	}
	s.quotes[t.Symbol] = Quote{
		Symbol:    t.Symbol,
		LTP:       t.LTP,
		Volume:    t.Volume,
		OI:        t.OI,
		Timestamp: t.Timestamp,
	}
	return true
}

// Get returns the stored quote for symbol.
func (s *Store) Get(symbol string) (Quote, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	q, ok := s.quotes[symbol]
	return q, ok
}

// Price returns the last traded price for symbol.
func (s *Store) Price(symbol string) (float64, bool) {
	q, ok := s.Get(symbol)
	return q.LTP, ok
}

// Symbols returns the symbols with a quote, sorted.
func (s *Store) Symbols() []string {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	out := make([]string, 0, len(s.quotes))
	for sym := range s.quotes {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Snapshot copies every stored quote.
func (s *Store) Snapshot() map[string]Quote {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	out := make(map[string]Quote, len(s.quotes))
	for k, v := range s.quotes {
		out[k] = v
	}
	return out
}

// Reset drops every quote.
func (s *Store) Reset() {
	s.mtx.Lock()
	s.quotes = make(map[string]Quote)
	s.mtx.Unlock()
}
