package candle

import (
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"nodeflow/internal/schema"
	"nodeflow/pkg/exception"
)

const defaultWindow = 100

// Config controls window size and session alignment.
type Config struct {
	// Window is N: N-1 completed candles plus the forming one.
	Window  int
	Session Session
}

func (c Config) withDefaults() Config {
	if c.Window == 0 {
		c.Window = defaultWindow
	}
	c.Session = c.Session.withDefaults()
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Window < 2 {
		return fmt.Errorf("invalid candle config: Window must be >= 2")
	}
	if c.Session.Open < 0 || c.Session.Open >= 24*time.Hour {
		return fmt.Errorf("invalid candle config: Session.Open out of range")
	}
	return nil
}

// Aggregator turns ticks into OHLCV candles per registered (symbol, timeframe).
type Aggregator struct {
	cfg      Config
	store    Store
	registry *schema.Registry

	mtx        sync.RWMutex
	timeframes map[string][]schema.Timeframe
}

// NewAggregator creates an aggregator. A nil store falls back to a MemoryStore;
// a nil registry lets every symbol build candles.
func NewAggregator(cfg Config, store Store, registry *schema.Registry) (*Aggregator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Aggregator{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		timeframes: make(map[string][]schema.Timeframe),
	}, nil
}

// Session returns the alignment session.
func (a *Aggregator) Session() Session {
	return a.cfg.Session
}

// Register starts a candle series. Options are LTP-only and cannot be registered.
func (a *Aggregator) Register(symbol string, tf schema.Timeframe) error {
	if tf <= 0 {
		return exception.ErrUnsupportedTimeframe
	}
	if a.registry != nil {
		sym, ok := a.registry.Lookup(symbol)
		if !ok {
			return fmt.Errorf("%w: %s", exception.ErrUnknownSeries, symbol)
		}
		if !sym.Kind.BuildsCandles() {
			return fmt.Errorf("%w: %s", exception.ErrLTPOnlySymbol, symbol)
		}
	}

	key := Key{Symbol: symbol, Timeframe: tf}
	if _, ok := a.store.Get(key); ok {
		return nil
	}
	a.store.Set(key, &Series{Completed: make([]schema.Candle, 0, a.cfg.Window-1)})

	a.mtx.Lock()
	a.timeframes[symbol] = append(a.timeframes[symbol], tf)
	a.mtx.Unlock()
	return nil
}

// Timeframes returns the registered timeframes of symbol in registration order.
func (a *Aggregator) Timeframes(symbol string) []schema.Timeframe {
	a.mtx.RLock()
	defer a.mtx.RUnlock()
	return append([]schema.Timeframe(nil), a.timeframes[symbol]...)
}

// Ingest feeds a tick to every series of its symbol and returns the candles it completed.
// Symbols without series (options) are ignored. A tick older than any series
// of its symbol is rejected before any series changes.
func (a *Aggregator) Ingest(t schema.Tick) ([]schema.Candle, error) {
	tfs := a.Timeframes(t.Symbol)
	for _, tf := range tfs {
		s, ok := a.store.Get(Key{Symbol: t.Symbol, Timeframe: tf})
		if !ok {
			return nil, fmt.Errorf("%w: %s %s", exception.ErrUnknownSeries, t.Symbol, tf)
		}
		if t.Timestamp.Before(s.LastTick) {
			logs.Warnf("drop out of order tick, symbol: %s, timeframe: %s, ts: %s, last: %s", t.Symbol, tf, t.Timestamp, s.LastTick)
			return nil, exception.ErrOutOfOrderTick
		}
	}

	var completed []schema.Candle
	for _, tf := range tfs {
		c, done, err := a.IngestTick(t.Symbol, tf, t.Timestamp, t.LTP, t.Volume)
		if err != nil {
			return completed, err
		}
		if done {
			completed = append(completed, c)
		}
	}
	return completed, nil
}

// IngestTick updates one series. It returns the candle completed by this tick, if any.
func (a *Aggregator) IngestTick(symbol string, tf schema.Timeframe, ts time.Time, price float64, volume int64) (schema.Candle, bool, error) {
	key := Key{Symbol: symbol, Timeframe: tf}
	s, ok := a.store.Get(key)
	if !ok {
		return schema.Candle{}, false, fmt.Errorf("%w: %s %s", exception.ErrUnknownSeries, symbol, tf)
	}

	if ts.Before(s.LastTick) {
		logs.Warnf("drop out of order tick, symbol: %s, timeframe: %s, ts: %s, last: %s", symbol, tf, ts, s.LastTick)
		return schema.Candle{}, false, exception.ErrOutOfOrderTick
	}
	s.LastTick = ts
	s.Live = true

	start := a.cfg.Session.Align(ts, tf)
	if s.Forming != nil && start.Equal(s.Forming.Start) {
		f := s.Forming
		f.High = max(f.High, price)
		f.Low = min(f.Low, price)
		f.Close = price
		f.Volume += volume
		return schema.Candle{}, false, nil
	}

	var (
		completed schema.Candle
		done      bool
	)
	if s.Forming != nil {
		completed = *s.Forming
		done = true
		a.push(s, completed)
	}
	s.Forming = &schema.Candle{
		Symbol:    symbol,
		Timeframe: tf,
		Start:     start,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    volume,
	}
	return completed.Clone(), done, nil
}

// InitializeFromHistory seeds the last N-1 completed candles. It must run before
// the first live tick of the series.
func (a *Aggregator) InitializeFromHistory(symbol string, tf schema.Timeframe, rows []schema.Candle) error {
	key := Key{Symbol: symbol, Timeframe: tf}
	s, ok := a.store.Get(key)
	if !ok {
		return fmt.Errorf("%w: %s %s", exception.ErrUnknownSeries, symbol, tf)
	}
	if s.Live {
		return exception.ErrHistoryAfterLive
	}

	for i, row := range rows {
		if !row.Valid() {
			return fmt.Errorf("%w: row %d at %s", exception.ErrInvalidHistoryRow, i, row.Start)
		}
		if i > 0 && !row.Start.After(rows[i-1].Start) {
			return fmt.Errorf("%w: row %d not ascending", exception.ErrInvalidHistoryRow, i)
		}
	}

	keep := a.cfg.Window - 1
	if len(rows) > keep {
		rows = rows[len(rows)-keep:]
	}
	s.Completed = s.Completed[:0]
	for _, row := range rows {
		row.Symbol = symbol
		row.Timeframe = tf
		s.Completed = append(s.Completed, row.Clone())
	}
	s.Forming = nil
	if n := len(rows); n > 0 {
		s.LastTick = a.cfg.Session.End(rows[n-1].Start, tf)
	}
	return nil
}

// Window returns the candles oldest to newest with the forming candle last.
func (a *Aggregator) Window(symbol string, tf schema.Timeframe) []schema.Candle {
	s, ok := a.store.Get(Key{Symbol: symbol, Timeframe: tf})
	if !ok {
		return nil
	}
	out := make([]schema.Candle, 0, len(s.Completed)+1)
	for _, c := range s.Completed {
		out = append(out, c.Clone())
	}
	if s.Forming != nil {
		out = append(out, s.Forming.Clone())
	}
	return out
}

// At addresses a candle by offset: 0 is the forming candle, -1 the previous
// completed one, and so on. Missing history reports false.
func (a *Aggregator) At(symbol string, tf schema.Timeframe, offset int) (schema.Candle, bool) {
	if offset > 0 {
		return schema.Candle{}, false
	}
	s, ok := a.store.Get(Key{Symbol: symbol, Timeframe: tf})
	if !ok {
		return schema.Candle{}, false
	}
	if offset == 0 {
		if s.Forming == nil {
			return schema.Candle{}, false
		}
		return *s.Forming, true
	}
	idx := len(s.Completed) + offset
	if idx < 0 {
		return schema.Candle{}, false
	}
	return s.Completed[idx], true
}

// Annotate attaches indicator values to the completed candle starting at start.
func (a *Aggregator) Annotate(symbol string, tf schema.Timeframe, start time.Time, values map[string]float64) bool {
	s, ok := a.store.Get(Key{Symbol: symbol, Timeframe: tf})
	if !ok {
		return false
	}
	for i := len(s.Completed) - 1; i >= 0; i-- {
		c := &s.Completed[i]
		if !c.Start.Equal(start) {
			continue
		}
		if c.Indicators == nil {
			c.Indicators = make(map[string]float64, len(values))
		}
		for k, v := range values {
			c.Indicators[k] = v
		}
		return true
	}
	return false
}

// Keys returns every registered series.
func (a *Aggregator) Keys() []Key {
	return a.store.Keys()
}

func (a *Aggregator) push(s *Series, c schema.Candle) {
	keep := a.cfg.Window - 1
	if len(s.Completed) >= keep {
		copy(s.Completed, s.Completed[len(s.Completed)-keep+1:])
		s.Completed = s.Completed[:keep-1]
	}
	s.Completed = append(s.Completed, c)
}
