package indicator

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"nodeflow/internal/schema"
	"nodeflow/pkg/exception"
)

// Tolerance is the maximum accepted difference between the incremental
// value and a bulk recomputation.
const Tolerance = 1e-6

// Spec describes an indicator instance in a strategy definition.
type Spec struct {
	Name   string  `json:"name"`
	Period int     `json:"period,omitempty"`
	Fast   int     `json:"fast,omitempty"`
	Slow   int     `json:"slow,omitempty"`
	Signal int     `json:"signal,omitempty"`
	StdDev float64 `json:"stddev,omitempty"`
}

// Output maps component name to value. Scalar indicators use the empty component.
type Output map[string]float64

// Series maps component name to a value per input candle; NaN marks warm-up.
// Components starting with "_" carry recursive state and are never published.
type Series map[string][]float64

// Indicator is one incrementally maintained technical indicator.
type Indicator interface {
	// Key is the deterministic name, e.g. RSI(14).
	Key() string
	// Bulk computes the full series over candles.
	Bulk(candles []schema.Candle) Series
	// Seed rebuilds the incremental state from candles so Update continues
	// after them; bulk is the series that state agrees with.
	Seed(candles []schema.Candle, bulk Series)
	// Update consumes one completed candle; a nil Output means still warming up.
	Update(c schema.Candle) Output
	// Fresh returns an instance with the same parameters and no state.
	Fresh() Indicator
}

// New builds an indicator from spec.
func New(spec Spec) (Indicator, error) {
	name := strings.ToUpper(strings.TrimSpace(spec.Name))
	switch name {
	case "SMA":
		if spec.Period <= 0 {
			return nil, paramsError(spec, "period must be > 0")
		}
		return newSMA(spec.Period), nil
	case "EMA":
		if spec.Period <= 0 {
			return nil, paramsError(spec, "period must be > 0")
		}
		return newEMA(spec.Period), nil
	case "RSI":
		if spec.Period <= 0 {
			return nil, paramsError(spec, "period must be > 0")
		}
		return newRSI(spec.Period), nil
	case "ATR":
		if spec.Period <= 0 {
			return nil, paramsError(spec, "period must be > 0")
		}
		return newATR(spec.Period), nil
	case "MACD":
		fast, slow, signal := orDefault(spec.Fast, 12), orDefault(spec.Slow, 26), orDefault(spec.Signal, 9)
		if fast >= slow {
			return nil, paramsError(spec, "fast must be < slow")
		}
		return newMACD(fast, slow, signal), nil
	case "BBANDS", "BB":
		period := orDefault(spec.Period, 20)
		k := spec.StdDev
		if k == 0 {
			k = 2
		}
		if k < 0 {
			return nil, paramsError(spec, "stddev must be > 0")
		}
		return newBBands(period, k), nil
	default:
		return nil, fmt.Errorf("%w: %q", exception.ErrIndicatorUnknown, spec.Name)
	}
}

// KeyOf returns the key New(spec) would produce.
func KeyOf(spec Spec) (string, error) {
	ind, err := New(spec)
	if err != nil {
		return "", err
	}
	return ind.Key(), nil
}

// Flatten names each component as KEY or KEY.component.
func Flatten(key string, out Output) map[string]float64 {
	flat := make(map[string]float64, len(out))
	for comp, v := range out {
		if name := flatName(key, comp); name != "" {
			flat[name] = v
		}
	}
	return flat
}

func flatName(key, comp string) string {
	switch {
	case strings.HasPrefix(comp, "_"):
		return ""
	case comp == "":
		return key
	default:
		return key + "." + comp
	}
}

func paramsError(spec Spec, msg string) error {
	return fmt.Errorf("%w: %s %s", exception.ErrIndicatorParams, spec.Name, msg)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func closes(candles []schema.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
