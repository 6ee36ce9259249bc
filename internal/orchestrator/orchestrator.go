package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/yanun0323/logs"

	"nodeflow/internal/feed"
	"nodeflow/internal/obs"
	"nodeflow/internal/schema"
	"nodeflow/internal/strategy"
	"nodeflow/pkg/exception"
)

// ReasonFeedEnd terminates strategies still running when the feed is exhausted.
const ReasonFeedEnd = "feed_end"

// Orchestrator batches ticks by whole second, updates the shared market and
// evaluates every registered strategy deterministically. It is not safe for
// concurrent use; one goroutine owns a run.
type Orchestrator struct {
	cfg       Config
	market    *Market
	metrics   *obs.Metrics
	sinks     []SnapshotSink
	instances []*strategy.Instance

	pending  []schema.Tick
	last     int64
	started  bool
	lastTime time.Time
	seconds  int
	err      error
}

func New(cfg Config, market *Market, metrics *obs.Metrics, sinks ...SnapshotSink) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if market == nil {
		return nil, fmt.Errorf("%w: nil market", exception.ErrInvalidArgument)
	}
	return &Orchestrator{
		cfg:     cfg,
		market:  market,
		metrics: metrics,
		sinks:   sinks,
	}, nil
}

// Market returns the shared market state.
func (o *Orchestrator) Market() *Market { return o.market }

// Instances returns the registered strategies in registration order.
func (o *Orchestrator) Instances() []*strategy.Instance {
	return append([]*strategy.Instance(nil), o.instances...)
}

// Err returns the fatal error that stopped the run, if any.
func (o *Orchestrator) Err() error { return o.err }

// AddSink registers another snapshot sink.
func (o *Orchestrator) AddSink(s SnapshotSink) {
	if s != nil {
		o.sinks = append(o.sinks, s)
	}
}

// AddStrategy registers an instance and the candle series and indicators its
// graph reads. Strategies must be added before the first tick.
func (o *Orchestrator) AddStrategy(in *strategy.Instance) error {
	if in == nil {
		return exception.ErrNilInstance
	}
	if o.started {
		return fmt.Errorf("%w: strategy %s added after the first tick", exception.ErrInvalidArgument, in.ID())
	}
	for _, req := range in.Graph().Requirements() {
		if err := o.market.Candles.Register(req.Symbol, req.Timeframe); err != nil {
			return fmt.Errorf("strategy %s: %w", in.ID(), err)
		}
		for _, spec := range req.Indicators {
			if _, err := o.market.Indicators.Register(req.Symbol, req.Timeframe, spec); err != nil {
				return fmt.Errorf("strategy %s: %w", in.ID(), err)
			}
		}
	}
	o.instances = append(o.instances, in)
	return nil
}

// Done reports whether every registered strategy has terminated.
func (o *Orchestrator) Done() bool {
	if len(o.instances) == 0 {
		return false
	}
	for _, in := range o.instances {
		if !in.Terminated() {
			return false
		}
	}
	return true
}

// Ingest buffers batch and processes every second that is complete, that is
// every buffered second older than the newest one. Ticks of a second already
// processed arrive too late and are dropped.
func (o *Orchestrator) Ingest(ctx context.Context, batch []schema.Tick) error {
	if o.err != nil {
		return o.err
	}
	for _, t := range batch {
		if o.started && t.Second() <= o.last {
			logs.Warnf("drop late tick, symbol: %s, ts: %s", t.Symbol, t.Timestamp.Format(time.RFC3339Nano))
			o.metrics.Inc(obs.CounterTicksDropped)
			continue
		}
		o.pending = append(o.pending, t)
	}
	return o.drain(ctx, false)
}

// Flush processes the trailing buffered second.
func (o *Orchestrator) Flush(ctx context.Context) error {
	if o.err != nil {
		return o.err
	}
	return o.drain(ctx, true)
}

// Run streams src through the orchestrator until the feed ends, every
// strategy terminates, ctx is done or a fatal error occurs. Strategies still
// running at the end of the feed are terminated with ReasonFeedEnd.
func (o *Orchestrator) Run(ctx context.Context, src feed.Source) error {
	for !o.Done() {
		batch, err := src.Next(ctx)
		if len(batch) > 0 {
			if ierr := o.Ingest(ctx, batch); ierr != nil {
				return ierr
			}
		}
		if errors.Is(err, io.EOF) {
			if err := o.Flush(ctx); err != nil {
				return err
			}
			return o.Close()
		}
		if err != nil {
			return err
		}
	}
	logs.Infof("all strategies terminated, seconds: %d", o.seconds)
	return nil
}

// Close terminates every strategy still running at the last processed time.
func (o *Orchestrator) Close() error {
	if o.err != nil {
		return o.err
	}
	for _, in := range o.instances {
		if in.Terminated() {
			continue
		}
		if err := in.Terminate(o.context(o.lastTime), ReasonFeedEnd); err != nil {
			return o.fail(fmt.Errorf("strategy %s: %w", in.ID(), err))
		}
	}
	return nil
}

// Results summarizes every strategy in registration order.
func (o *Orchestrator) Results() []Result {
	out := make([]Result, 0, len(o.instances))
	for _, in := range o.instances {
		out = append(out, resultOf(in, o.market))
	}
	return out
}

// drain processes buffered seconds in order. Without all, the newest second
// stays buffered because more of its ticks may still arrive.
func (o *Orchestrator) drain(ctx context.Context, all bool) error {
	if len(o.pending) == 0 {
		return nil
	}
	sort.SliceStable(o.pending, func(i, j int) bool {
		return o.pending[i].Second() < o.pending[j].Second()
	})
	newest := o.pending[len(o.pending)-1].Second()

	i := 0
	for i < len(o.pending) {
		sec := o.pending[i].Second()
		if !all && sec == newest {
			break
		}
		if err := ctx.Err(); err != nil {
			o.pending = o.pending[i:]
			return err
		}
		j := i
		for j < len(o.pending) && o.pending[j].Second() == sec {
			j++
		}
		if err := o.processSecond(ctx, sec, o.pending[i:j]); err != nil {
			o.pending = nil
			return err
		}
		i = j
	}
	o.pending = append(o.pending[:0], o.pending[i:]...)
	return nil
}

func (o *Orchestrator) processSecond(ctx context.Context, sec int64, ticks []schema.Tick) error {
	began := time.Now()
	o.started, o.last = true, sec

	var (
		evalAt   time.Time
		accepted bool
	)
	for _, t := range ticks {
		o.metrics.Inc(obs.CounterTicks)
		ok, err := o.apply(t)
		if err != nil {
			return o.fail(err)
		}
		if !ok {
			continue
		}
		accepted, evalAt = true, t.Timestamp
		if o.cfg.Mode == EvalPerTick {
			if err := o.evaluate(evalAt); err != nil {
				return err
			}
		}
	}
	if !accepted {
		return nil
	}
	if o.cfg.Mode == EvalPerSecond {
		if err := o.evaluate(evalAt); err != nil {
			return err
		}
	}

	o.lastTime = evalAt
	o.seconds++
	o.metrics.Inc(obs.CounterSeconds)
	o.metrics.ObserveSecond(time.Since(began))
	if o.seconds%o.cfg.SnapshotEvery == 0 {
		o.publish(ctx, evalAt)
	}
	return nil
}

// apply feeds one tick to the market. It reports false for dropped ticks.
func (o *Orchestrator) apply(t schema.Tick) (bool, error) {
	completed, err := o.market.Candles.Ingest(t)
	if errors.Is(err, exception.ErrOutOfOrderTick) {
		o.metrics.Inc(obs.CounterTicksDropped)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !o.market.Prices.Update(t) {
		logs.Warnf("drop stale tick, symbol: %s, ts: %s", t.Symbol, t.Timestamp.Format(time.RFC3339Nano))
		o.metrics.Inc(obs.CounterTicksDropped)
		return false, nil
	}

	for _, c := range completed {
		o.metrics.Inc(obs.CounterCandles)
		values, err := o.market.Indicators.Update(c)
		if err != nil {
			return false, err
		}
		if len(values) > 0 {
			o.market.Candles.Annotate(c.Symbol, c.Timeframe, c.Start, values)
		}
	}
	return true, nil
}

func (o *Orchestrator) evaluate(ts time.Time) error {
	c := o.context(ts)
	for _, in := range o.instances {
		if in.Terminated() {
			continue
		}
		if err := in.Evaluate(c); err != nil {
			return o.fail(fmt.Errorf("strategy %s: %w", in.ID(), err))
		}
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, ts time.Time) {
	if len(o.sinks) == 0 {
		return
	}
	for _, in := range o.instances {
		snap := snapshotOf(in, ts, o.market)
		for _, sink := range o.sinks {
			if err := sink.OnSnapshot(ctx, snap); err != nil {
				logs.Errorf("snapshot sink failed, strategy: %s, err: %+v", in.ID(), err)
			}
		}
	}
}

func (o *Orchestrator) context(ts time.Time) strategy.Context {
	return strategy.Context{Time: ts, Location: o.cfg.Location, Market: o.market}
}

func (o *Orchestrator) fail(err error) error {
	o.err = err
	logs.Errorf("run aborted, err: %+v", err)
	return err
}
