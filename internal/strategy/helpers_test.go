package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nodeflow/internal/schema"
)

var t0 = time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC)

type seriesKey struct {
	symbol string
	tf     schema.Timeframe
}

// fakeMarket addresses candles like the aggregator: 0 forming, -1 last completed.
type fakeMarket struct {
	ltp       map[string]float64
	completed map[seriesKey][]schema.Candle
	forming   map[seriesKey]schema.Candle
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		ltp:       make(map[string]float64),
		completed: make(map[seriesKey][]schema.Candle),
		forming:   make(map[seriesKey]schema.Candle),
	}
}

func (m *fakeMarket) LTP(symbol string) (float64, bool) {
	v, ok := m.ltp[symbol]
	return v, ok
}

func (m *fakeMarket) Candle(symbol string, tf schema.Timeframe, offset int) (schema.Candle, bool) {
	k := seriesKey{symbol: symbol, tf: tf}
	if offset == 0 {
		c, ok := m.forming[k]
		return c, ok
	}
	list := m.completed[k]
	idx := len(list) + offset
	if offset > 0 || idx < 0 {
		return schema.Candle{}, false
	}
	return list[idx], true
}

func (m *fakeMarket) addCompleted(symbol string, tf schema.Timeframe, closes ...float64) {
	k := seriesKey{symbol: symbol, tf: tf}
	for _, c := range closes {
		start := t0.Add(time.Duration(len(m.completed[k])) * tf.Duration())
		m.completed[k] = append(m.completed[k], schema.Candle{Symbol: symbol, Timeframe: tf, Start: start, Open: c, High: c, Low: c, Close: c})
	}
}

func mustLoad(t *testing.T, js string) *Graph {
	t.Helper()
	def, err := Decode([]byte(js))
	require.NoError(t, err)
	g, err := Load(def)
	require.NoError(t, err)
	return g
}

// step sets the LTP of OPT and evaluates the instance at t0+sec seconds.
func step(t *testing.T, in *Instance, m *fakeMarket, sec int, ltp float64) {
	t.Helper()
	m.ltp["OPT"] = ltp
	require.NoError(t, in.Evaluate(Context{Time: t0.Add(time.Duration(sec) * time.Second), Location: time.UTC, Market: m}))
}

const reEntryGraph = `{
  "id": "s1",
  "grace_ticks": 2,
  "nodes": [
    {"id": "start", "type": "start", "children": ["es"]},
    {"id": "es", "type": "entry_signal", "children": ["en"],
     "conditions": [{"left": {"kind": "ltp", "symbol": "OPT"}, "op": ">", "right": {"kind": "constant", "value": 100}}]},
    {"id": "en", "type": "entry", "children": ["xs"],
     "entry": {"position_id": "p1", "symbol": "OPT", "side": "BUY", "qty": 10}},
    {"id": "xs", "type": "exit_signal", "children": ["ex"],
     "conditions": [{"left": {"kind": "ltp", "symbol": "OPT"}, "op": ">=", "right": {"kind": "constant", "value": 120}}]},
    {"id": "ex", "type": "exit", "children": ["re"], "exit": {"position_id": "p1", "reason": "target"}},
    {"id": "re", "type": "re_entry_signal", "children": ["es"], "re_entry": {"entry": "en", "max": 1}}
  ]
}`
