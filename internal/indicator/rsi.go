package indicator

import (
	"fmt"

	ta "github.com/banbox/banta"

	"nodeflow/internal/schema"
)

// rsi uses Wilder smoothing: the first average is a simple mean of period
// changes, later ones are avg = (avg*(period-1) + x) / period. Until both
// averages move the value is 50.
type rsi struct {
	period int
	bars   bars
	moved  bool
}

func newRSI(period int) *rsi {
	return &rsi{period: period}
}

func (r *rsi) Key() string { return fmt.Sprintf("RSI(%d)", r.period) }

func (r *rsi) Fresh() Indicator { return newRSI(r.period) }

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

func gainLoss(d float64) (float64, float64) {
	if d > 0 {
		return d, 0
	}
	return 0, -d
}

func (r *rsi) Bulk(candles []schema.Candle) Series {
	xs := closes(candles)
	n := len(xs)
	out, avgG, avgL := nanSeries(n), nanSeries(n), nanSeries(n)
	if n <= r.period {
		return Series{"": out, "_avg_gain": avgG, "_avg_loss": avgL}
	}

	p := float64(r.period)
	var sumG, sumL float64
	for i := 1; i <= r.period; i++ {
		g, l := gainLoss(xs[i] - xs[i-1])
		sumG += g
		sumL += l
	}
	g, l := sumG/p, sumL/p
	avgG[r.period], avgL[r.period] = g, l
	out[r.period] = rsiValue(g, l)

	for i := r.period + 1; i < n; i++ {
		gain, loss := gainLoss(xs[i] - xs[i-1])
		g = (g*(p-1) + gain) / p
		l = (l*(p-1) + loss) / p
		avgG[i], avgL[i] = g, l
		out[i] = rsiValue(g, l)
	}
	return Series{"": out, "_avg_gain": avgG, "_avg_loss": avgL}
}

func (r *rsi) Seed(candles []schema.Candle, _ Series) {
	r.bars, r.moved = bars{}, false
	replay(r, candles)
}

func (r *rsi) Update(c schema.Candle) Output {
	env := r.bars.push(c)
	if r.bars.n > 1 && env.Close.Get(1) != c.Close {
		r.moved = true
	}
	v := ta.RSI(env.Close, r.period).Get(0)
	if !r.bars.warm(r.period + 1) {
		return nil
	}
	if !r.moved {
		v = rsiValue(0, 0)
	}
	return Output{"": v}
}
