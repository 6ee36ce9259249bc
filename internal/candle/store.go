package candle

import (
	"sort"
	"sync"
	"time"

	"nodeflow/internal/schema"
)

// Key identifies one candle series.
type Key struct {
	Symbol    string
	Timeframe schema.Timeframe
}

// Series is the rolling window of one (symbol, timeframe): up to N-1 completed
// candles plus the forming one.
type Series struct {
	Completed []schema.Candle
	Forming   *schema.Candle
	LastTick  time.Time
	Live      bool
}

// Store holds candle series. Components receive it explicitly instead of sharing globals.
type Store interface {
	Get(key Key) (*Series, bool)
	Set(key Key, series *Series)
	Keys() []Key
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mtx    sync.RWMutex
	series map[Key]*Series
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{series: make(map[Key]*Series)}
}

func (m *MemoryStore) Get(key Key) (*Series, bool) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	s, ok := m.series[key]
	return s, ok
}

func (m *MemoryStore) Set(key Key, series *Series) {
	m.mtx.Lock()
	m.series[key] = series
	m.mtx.Unlock()
}

// Keys returns keys ordered by symbol then timeframe.
func (m *MemoryStore) Keys() []Key {
	m.mtx.RLock()
	keys := make([]Key, 0, len(m.series))
	for k := range m.series {
		keys = append(keys, k)
	}
	m.mtx.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Symbol != keys[j].Symbol {
			return keys[i].Symbol < keys[j].Symbol
		}
		return keys[i].Timeframe < keys[j].Timeframe
	})
	return keys
}
