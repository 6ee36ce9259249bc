package indicator

import (
	"fmt"
	"math"

	ta "github.com/banbox/banta"

	"nodeflow/internal/schema"
)

// atr is Wilder's average true range. The first candle has no previous close,
// so its true range is undefined and the first value lands on candle period+1.
type atr struct {
	period int
	bars   bars
}

func newATR(period int) *atr {
	return &atr{period: period}
}

func (a *atr) Key() string { return fmt.Sprintf("ATR(%d)", a.period) }

func (a *atr) Fresh() Indicator { return newATR(a.period) }

func trueRange(c schema.Candle, prevClose float64) float64 {
	return max(c.High-c.Low, math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose))
}

func (a *atr) Bulk(candles []schema.Candle) Series {
	out := nanSeries(len(candles))
	if len(candles) <= a.period {
		return Series{"": out}
	}

	p := float64(a.period)
	sum := 0.0
	for i := 1; i <= a.period; i++ {
		sum += trueRange(candles[i], candles[i-1].Close)
	}
	v := sum / p
	out[a.period] = v
	for i := a.period + 1; i < len(candles); i++ {
		v = (v*(p-1) + trueRange(candles[i], candles[i-1].Close)) / p
		out[i] = v
	}
	return Series{"": out}
}

func (a *atr) Seed(candles []schema.Candle, _ Series) {
	a.bars = bars{}
	replay(a, candles)
}

func (a *atr) Update(c schema.Candle) Output {
	env := a.bars.push(c)
	v := ta.ATR(env.High, env.Low, env.Close, a.period).Get(0)
	if !a.bars.warm(a.period + 1) {
		return nil
	}
	return Output{"": v}
}
