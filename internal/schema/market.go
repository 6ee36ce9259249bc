package schema

import "time"

// Tick is one market data update for one symbol at one instant.
type Tick struct {
	Symbol    string
	Timestamp time.Time
	LTP       float64
	Volume    int64
	OI        int64
}

// Second returns the tick timestamp floored to the whole second.
func (t Tick) Second() int64 {
	return t.Timestamp.Unix()
}

// Candle is an OHLCV bar over one timeframe interval.
type Candle struct {
	Symbol     string
	Timeframe  Timeframe
	Start      time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	Indicators map[string]float64
}

// Field names addressable by strategy conditions.
const (
	FieldOpen   = "open"
	FieldHigh   = "high"
	FieldLow    = "low"
	FieldClose  = "close"
	FieldVolume = "volume"
)

// Field returns the OHLCV value named by field.
func (c Candle) Field(field string) (float64, bool) {
	switch field {
	case FieldOpen:
		return c.Open, true
	case FieldHigh:
		return c.High, true
	case FieldLow:
		return c.Low, true
	case FieldClose:
		return c.Close, true
	case FieldVolume:
		return float64(c.Volume), true
	default:
		return 0, false
	}
}

// Indicator returns the indicator value stored on the candle.
func (c Candle) Indicator(key string) (float64, bool) {
	if c.Indicators == nil {
		return 0, false
	}
	v, ok := c.Indicators[key]
	return v, ok
}

// Valid reports whether the OHLC values are consistent.
func (c Candle) Valid() bool {
	if c.High < c.Low {
		return false
	}
	return c.High >= max(c.Open, c.Close) && c.Low <= min(c.Open, c.Close)
}

// Clone returns a copy that does not share the indicator map.
func (c Candle) Clone() Candle {
	cp := c
	if c.Indicators != nil {
		cp.Indicators = make(map[string]float64, len(c.Indicators))
		for k, v := range c.Indicators {
			cp.Indicators[k] = v
		}
	}
	return cp
}
