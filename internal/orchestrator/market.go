package orchestrator

import (
	"github.com/yanun0323/logs"

	"nodeflow/internal/candle"
	"nodeflow/internal/indicator"
	"nodeflow/internal/ltp"
	"nodeflow/internal/schema"
)

// Market is the shared market state. Strategies read it through
// strategy.MarketView; only the orchestrator writes it.
type Market struct {
	Prices     *ltp.Store
	Candles    *candle.Aggregator
	Indicators *indicator.Engine
}

// NewMarket wires a market with in-memory stores.
func NewMarket(cfg candle.Config, registry *schema.Registry) (*Market, error) {
	agg, err := candle.NewAggregator(cfg, candle.NewMemoryStore(), registry)
	if err != nil {
		return nil, err
	}
	return &Market{
		Prices:     ltp.NewStore(),
		Candles:    agg,
		Indicators: indicator.NewEngine(),
	}, nil
}

func (m *Market) LTP(symbol string) (float64, bool) {
	return m.Prices.Price(symbol)
}

func (m *Market) Candle(symbol string, tf schema.Timeframe, offset int) (schema.Candle, bool) {
	return m.Candles.At(symbol, tf, offset)
}

// Bootstrap seeds a candle series from history and computes its indicators in
// bulk. Every history row feeds the indicators; only the retained window is
// annotated.
func (m *Market) Bootstrap(symbol string, tf schema.Timeframe, rows []schema.Candle) error {
	if err := m.Candles.InitializeFromHistory(symbol, tf, rows); err != nil {
		return err
	}
	values, err := m.Indicators.Bootstrap(symbol, tf, rows)
	if err != nil {
		return err
	}
	annotated := 0
	for i, v := range values {
		if len(v) > 0 && m.Candles.Annotate(symbol, tf, rows[i].Start, v) {
			annotated++
		}
	}
	logs.Infof("series bootstrapped, symbol: %s, timeframe: %s, rows: %d, annotated: %d", symbol, tf, len(rows), annotated)
	return nil
}
