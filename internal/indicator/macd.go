package indicator

import (
	"fmt"
	"math"

	ta "github.com/banbox/banta"

	"nodeflow/internal/schema"
)

// macd takes the fast and slow EMAs from banta; the signal line smooths the
// MACD line from its first defined value.
type macd struct {
	fast, slow, signal int
	bars               bars
	sig                emaState
}

func newMACD(fast, slow, signal int) *macd {
	return &macd{fast: fast, slow: slow, signal: signal, sig: newEMAState(signal)}
}

func (m *macd) Key() string { return fmt.Sprintf("MACD(%d,%d,%d)", m.fast, m.slow, m.signal) }

func (m *macd) Fresh() Indicator { return newMACD(m.fast, m.slow, m.signal) }

func (m *macd) Bulk(candles []schema.Candle) Series {
	xs := closes(candles)
	fast := emaSeries(xs, m.fast)
	slow := emaSeries(xs, m.slow)
	line := nanSeries(len(xs))
	for i := range xs {
		if !math.IsNaN(slow[i]) {
			line[i] = fast[i] - slow[i]
		}
	}
	signal := emaSeries(line, m.signal)
	hist := nanSeries(len(xs))
	for i := range xs {
		if !math.IsNaN(signal[i]) {
			hist[i] = line[i] - signal[i]
		}
	}
	return Series{
		"macd":   line,
		"signal": signal,
		"hist":   hist,
		"_fast":  fast,
		"_slow":  slow,
	}
}

func (m *macd) Seed(candles []schema.Candle, _ Series) {
	m.bars, m.sig = bars{}, newEMAState(m.signal)
	replay(m, candles)
}

func (m *macd) Update(c schema.Candle) Output {
	env := m.bars.push(c)
	fv := ta.EMA(env.Close, m.fast).Get(0)
	sv := ta.EMA(env.Close, m.slow).Get(0)
	if !m.bars.warm(m.slow) {
		return nil
	}
	line := fv - sv
	out := Output{"macd": line}
	if sig, ok := m.sig.push(line); ok {
		out["signal"] = sig
		out["hist"] = line - sig
	}
	return out
}
