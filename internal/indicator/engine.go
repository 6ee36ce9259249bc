package indicator

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"nodeflow/internal/schema"
	"nodeflow/pkg/exception"
)

type seriesKey struct {
	symbol    string
	timeframe schema.Timeframe
}

type seriesState struct {
	indicators []Indicator
	byKey      map[string]int
	lastStart  time.Time
}

// Engine keeps incremental indicator state per (symbol, timeframe).
// Every failure it reports wraps exception.ErrIndicatorComputation or a params
// error and must abort the run.
type Engine struct {
	mtx    sync.RWMutex
	series map[seriesKey]*seriesState
}

func NewEngine() *Engine {
	return &Engine{series: make(map[seriesKey]*seriesState)}
}

// Register adds an indicator to the series and returns its key. Registering the
// same key twice is a no-op.
func (e *Engine) Register(symbol string, tf schema.Timeframe, spec Spec) (string, error) {
	ind, err := New(spec)
	if err != nil {
		return "", err
	}

	e.mtx.Lock()
	defer e.mtx.Unlock()

	sk := seriesKey{symbol: symbol, timeframe: tf}
	st, ok := e.series[sk]
	if !ok {
		st = &seriesState{byKey: make(map[string]int)}
		e.series[sk] = st
	}
	key := ind.Key()
	if _, ok := st.byKey[key]; ok {
		return key, nil
	}
	st.byKey[key] = len(st.indicators)
	st.indicators = append(st.indicators, ind)
	return key, nil
}

// Keys returns the registered indicator keys of a series, sorted.
func (e *Engine) Keys(symbol string, tf schema.Timeframe) []string {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	st, ok := e.series[seriesKey{symbol: symbol, timeframe: tf}]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(st.byKey))
	for k := range st.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Bootstrap computes every indicator in bulk over history, captures its state and
// validates it against an incremental replay. The returned values are index
// aligned with history and flattened like Update's.
func (e *Engine) Bootstrap(symbol string, tf schema.Timeframe, history []schema.Candle) ([]map[string]float64, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	st, ok := e.series[seriesKey{symbol: symbol, timeframe: tf}]
	if !ok {
		return nil, nil
	}

	values := make([]map[string]float64, len(history))
	for i := range values {
		values[i] = make(map[string]float64)
	}

	for _, ind := range st.indicators {
		bulk := ind.Bulk(history)
		if err := validate(ind, history, bulk); err != nil {
			return nil, err
		}
		ind.Seed(history, bulk)

		for comp, series := range bulk {
			if len(series) != len(history) {
				return nil, fmt.Errorf("%w: %s bulk length %d, want %d", exception.ErrIndicatorComputation, ind.Key(), len(series), len(history))
			}
			name := flatName(ind.Key(), comp)
			if name == "" {
				continue
			}
			for i, v := range series {
				if !math.IsNaN(v) {
					values[i][name] = v
				}
			}
		}
	}

	if n := len(history); n > 0 {
		st.lastStart = history[n-1].Start
	}
	logs.Infof("indicators bootstrapped, symbol: %s, timeframe: %s, candles: %d, indicators: %d", symbol, tf, len(history), len(st.indicators))
	return values, nil
}

// Update advances every indicator of the candle's series by one completed candle.
func (e *Engine) Update(c schema.Candle) (map[string]float64, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	st, ok := e.series[seriesKey{symbol: c.Symbol, timeframe: c.Timeframe}]
	if !ok {
		return nil, nil
	}
	if !st.lastStart.IsZero() && !c.Start.After(st.lastStart) {
		return nil, fmt.Errorf("%w: %s %s candle %s already applied", exception.ErrIndicatorComputation, c.Symbol, c.Timeframe, c.Start)
	}
	st.lastStart = c.Start

	values := make(map[string]float64)
	for _, ind := range st.indicators {
		for name, v := range Flatten(ind.Key(), ind.Update(c)) {
			if !finite(v) {
				return nil, fmt.Errorf("%w: %s produced %v at %s", exception.ErrIndicatorComputation, name, v, c.Start)
			}
			values[name] = v
		}
	}
	return values, nil
}

// validate replays history through a fresh instance and compares the final
// value of every published component with the bulk series.
func validate(ind Indicator, history []schema.Candle, bulk Series) error {
	if len(history) == 0 {
		return nil
	}
	fresh := ind.Fresh()
	var out Output
	for _, c := range history {
		out = fresh.Update(c)
	}

	for comp, series := range bulk {
		if flatName(ind.Key(), comp) == "" {
			continue
		}
		want := last(series)
		got, ok := out[comp]
		if math.IsNaN(want) {
			if ok {
				return fmt.Errorf("%w: %s bulk warming up but incremental has %v", exception.ErrIndicatorComputation, ind.Key(), got)
			}
			continue
		}
		if !ok {
			return fmt.Errorf("%w: %s incremental missing %q", exception.ErrIndicatorComputation, ind.Key(), comp)
		}
		if diff := math.Abs(got - want); diff >= Tolerance || !finite(got) {
			return fmt.Errorf("%w: %s diverged by %g (incremental %v, bulk %v)", exception.ErrIndicatorComputation, ind.Key(), diff, got, want)
		}
	}
	return nil
}

