package indicator

import (
	"fmt"

	ta "github.com/banbox/banta"

	"nodeflow/internal/schema"
)

type sma struct {
	period int
	bars   bars
}

func newSMA(period int) *sma {
	return &sma{period: period}
}

func (s *sma) Key() string { return fmt.Sprintf("SMA(%d)", s.period) }

func (s *sma) Fresh() Indicator { return newSMA(s.period) }

func (s *sma) Bulk(candles []schema.Candle) Series {
	xs := closes(candles)
	out := nanSeries(len(xs))
	for i := s.period - 1; i < len(xs); i++ {
		sum := 0.0
		for _, x := range xs[i-s.period+1 : i+1] {
			sum += x
		}
		out[i] = sum / float64(s.period)
	}
	return Series{"": out}
}

func (s *sma) Seed(candles []schema.Candle, _ Series) {
	s.bars = bars{}
	replay(s, candles)
}

func (s *sma) Update(c schema.Candle) Output {
	env := s.bars.push(c)
	v := ta.SMA(env.Close, s.period).Get(0)
	if !s.bars.warm(s.period) {
		return nil
	}
	return Output{"": v}
}
