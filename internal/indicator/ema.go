package indicator

import (
	"fmt"
	"math"

	ta "github.com/banbox/banta"

	"nodeflow/internal/schema"
)

// emaState is an EMA seeded with the SMA of its first period inputs. It
// smooths derived values that have no banta series, like the MACD line.
type emaState struct {
	period int
	k      float64
	count  int
	sum    float64
	value  float64
}

func newEMAState(period int) emaState {
	return emaState{period: period, k: 2 / float64(period+1)}
}

func (s *emaState) push(x float64) (float64, bool) {
	s.count++
	switch {
	case s.count < s.period:
		s.sum += x
		return 0, false
	case s.count == s.period:
		s.sum += x
		s.value = s.sum / float64(s.period)
	default:
		s.value = s.value + s.k*(x-s.value)
	}
	return s.value, true
}

// emaSeries computes an EMA over values, skipping leading NaNs.
func emaSeries(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	offset := 0
	for offset < len(values) && math.IsNaN(values[offset]) {
		offset++
	}
	if len(values)-offset < period {
		return out
	}

	k := 2 / float64(period+1)
	sum := 0.0
	for i := offset; i < offset+period; i++ {
		sum += values[i]
	}
	prev := sum / float64(period)
	out[offset+period-1] = prev
	for i := offset + period; i < len(values); i++ {
		prev = prev + k*(values[i]-prev)
		out[i] = prev
	}
	return out
}

type ema struct {
	period int
	bars   bars
}

func newEMA(period int) *ema {
	return &ema{period: period}
}

func (e *ema) Key() string { return fmt.Sprintf("EMA(%d)", e.period) }

func (e *ema) Fresh() Indicator { return newEMA(e.period) }

func (e *ema) Bulk(candles []schema.Candle) Series {
	return Series{"": emaSeries(closes(candles), e.period)}
}

func (e *ema) Seed(candles []schema.Candle, _ Series) {
	e.bars = bars{}
	replay(e, candles)
}

func (e *ema) Update(c schema.Candle) Output {
	env := e.bars.push(c)
	v := ta.EMA(env.Close, e.period).Get(0)
	if !e.bars.warm(e.period) {
		return nil
	}
	return Output{"": v}
}
