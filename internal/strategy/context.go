package strategy

import (
	"time"

	"nodeflow/internal/gps"
	"nodeflow/internal/schema"
)

// MarketView is the read-only shared market state a strategy evaluates against.
type MarketView interface {
	// LTP returns the last traded price of symbol.
	LTP(symbol string) (float64, bool)
	// Candle addresses a candle by offset: 0 forming, -1 last completed.
	Candle(symbol string, tf schema.Timeframe, offset int) (schema.Candle, bool)
}

// Context is what one evaluation sees: the representative tick time, the
// shared market and the instance's own ledger.
type Context struct {
	Time     time.Time
	Location *time.Location
	Market   MarketView

	positions *gps.Store
}

// timeOfDay is the duration since local midnight of the evaluation time.
func (c *Context) timeOfDay() time.Duration {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	t := c.Time.In(loc)
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}

func (c *Context) ltp(symbol string) (float64, bool) {
	if c.Market == nil {
		return 0, false
	}
	return c.Market.LTP(symbol)
}
