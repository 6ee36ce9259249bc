package indicator

import (
	ta "github.com/banbox/banta"

	"nodeflow/internal/schema"
)

// bars feeds completed candles into a banta environment. Each indicator owns
// one, so banta's per-bar caches advance exactly once per candle.
type bars struct {
	env *ta.BarEnv
	n   int
}

func (b *bars) push(c schema.Candle) *ta.BarEnv {
	if b.env == nil {
		b.env = &ta.BarEnv{TimeFrame: c.Timeframe.String()}
	}
	// candle order is checked by Engine.Update before any indicator sees it
	b.env.OnBar(c.Start.UnixMilli(), c.Open, c.High, c.Low, c.Close, float64(c.Volume), 0)
	b.n++
	return b.env
}

// warm reports whether at least lookback candles were pushed.
func (b *bars) warm(lookback int) bool {
	return b.n >= lookback
}

// replay rebuilds ind's incremental state from candles.
func replay(ind Indicator, candles []schema.Candle) {
	for _, c := range candles {
		ind.Update(c)
	}
}
