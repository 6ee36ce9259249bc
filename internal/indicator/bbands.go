package indicator

import (
	"fmt"
	"math"

	ta "github.com/banbox/banta"

	"nodeflow/internal/schema"
)

// bbands are Bollinger bands over a population standard deviation. The middle
// band is banta's SMA; the deviation reads the same window back from the
// close series.
type bbands struct {
	period int
	k      float64
	bars   bars
}

func newBBands(period int, k float64) *bbands {
	return &bbands{period: period, k: k}
}

func (b *bbands) Key() string {
	return fmt.Sprintf("BBANDS(%d,%s)", b.period, formatFloat(b.k))
}

func (b *bbands) Fresh() Indicator { return newBBands(b.period, b.k) }

func stddev(xs []float64, mean float64) float64 {
	acc := 0.0
	for _, x := range xs {
		d := x - mean
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(xs)))
}

func (b *bbands) Bulk(candles []schema.Candle) Series {
	xs := closes(candles)
	mid, up, lo := nanSeries(len(xs)), nanSeries(len(xs)), nanSeries(len(xs))
	for i := b.period - 1; i < len(xs); i++ {
		win := xs[i-b.period+1 : i+1]
		sum := 0.0
		for _, x := range win {
			sum += x
		}
		mean := sum / float64(b.period)
		sd := stddev(win, mean)
		mid[i], up[i], lo[i] = mean, mean+b.k*sd, mean-b.k*sd
	}
	return Series{"middle": mid, "upper": up, "lower": lo}
}

func (b *bbands) Seed(candles []schema.Candle, _ Series) {
	b.bars = bars{}
	replay(b, candles)
}

func (b *bbands) Update(c schema.Candle) Output {
	env := b.bars.push(c)
	mean := ta.SMA(env.Close, b.period).Get(0)
	if !b.bars.warm(b.period) {
		return nil
	}
	win := make([]float64, b.period)
	for i := range win {
		win[i] = env.Close.Get(i)
	}
	sd := stddev(win, mean)
	return Output{
		"middle": mean,
		"upper":  mean + b.k*sd,
		"lower":  mean - b.k*sd,
	}
}
