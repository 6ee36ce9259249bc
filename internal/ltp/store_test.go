package ltp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeflow/internal/schema"
)

func TestStoreKeepsLatest(t *testing.T) {
	s := NewStore()
	base := time.Date(2024, 1, 10, 9, 15, 0, 0, time.UTC)

	require.True(t, s.Update(schema.Tick{Symbol: "NIFTY", Timestamp: base, LTP: 100}))
	require.True(t, s.Update(schema.Tick{Symbol: "NIFTY", Timestamp: base.Add(time.Second), LTP: 101}))
	require.False(t, s.Update(schema.Tick{Symbol: "NIFTY", Timestamp: base.Add(-time.Second), LTP: 90}))

	price, ok := s.Price("NIFTY")
	require.True(t, ok)
	assert.Equal(t, 101.0, price)

	_, ok = s.Price("BANKNIFTY")
	assert.False(t, ok)
}

func TestStoreEqualTimestampOverwrites(t *testing.T) {
	s := NewStore()
	ts := time.Unix(100, 0)
	s.Update(schema.Tick{Symbol: "A", Timestamp: ts, LTP: 1})
	s.Update(schema.Tick{Symbol: "A", Timestamp: ts, LTP: 2})

	q, ok := s.Get("A")
	require.True(t, ok)
	assert.Equal(t, 2.0, q.LTP)
}

func TestStoreSymbolsAndSnapshot(t *testing.T) {
	s := NewStore()
	s.Update(schema.Tick{Symbol: "B", Timestamp: time.Unix(1, 0), LTP: 2})
	s.Update(schema.Tick{Symbol: "A", Timestamp: time.Unix(1, 0), LTP: 1})

	assert.Equal(t, []string{"A", "B"}, s.Symbols())

	snap := s.Snapshot()
	snap["A"] = Quote{LTP: 99}
	price, _ := s.Price("A")
	assert.Equal(t, 1.0, price)

	s.Reset()
	assert.Empty(t, s.Symbols())
}
