// Package session assembles one run: the shared market, the orchestrator, a
// strategy instance per graph and the optional ledger and redis outputs.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/yanun0323/logs"

	"nodeflow/internal/diagnostics"
	"nodeflow/internal/export"
	"nodeflow/internal/feed"
	"nodeflow/internal/ledger"
	"nodeflow/internal/obs"
	"nodeflow/internal/og"
	"nodeflow/internal/ops"
	"nodeflow/internal/orchestrator"
	"nodeflow/internal/risk"
	"nodeflow/internal/strategy"
)

// Run modes recorded in the ledger.
const (
	ModeBacktest = "backtest"
	ModeLive     = "live"
)

// Options are the optional collaborators of a session. Nil outputs are skipped.
type Options struct {
	Name      string
	Mode      string
	Repo      *ledger.Repository
	Publisher *export.Publisher
	Metrics   *obs.Metrics
	Sinks     []orchestrator.SnapshotSink
	Now       func() time.Time
}

// Session owns one run from assembly to persistence.
type Session struct {
	cfg     ops.Loaded
	opts    Options
	orch    *orchestrator.Orchestrator
	runID   string
	writers []*ledger.EventWriter
}

func New(ctx context.Context, cfg ops.Loaded, opts Options) (*Session, error) {
	if opts.Metrics == nil {
		opts.Metrics = obs.NewMetrics()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Mode == "" {
		opts.Mode = ModeBacktest
	}

	market, err := orchestrator.NewMarket(cfg.Candles, cfg.Registry)
	if err != nil {
		return nil, err
	}

	sinks := append([]orchestrator.SnapshotSink(nil), opts.Sinks...)
	if opts.Publisher != nil && cfg.Features.PublishSnapshots {
		sinks = append(sinks, opts.Publisher, opts.Publisher.PriceSink(market.Prices))
	}
	orch, err := orchestrator.New(cfg.Orchestrator, market, opts.Metrics, sinks...)
	if err != nil {
		return nil, err
	}

	s := &Session{cfg: cfg, opts: opts, orch: orch}
	if opts.Repo != nil && cfg.Features.PersistLedger {
		s.runID, err = opts.Repo.StartRun(ctx, opts.Name, opts.Mode, len(cfg.Graphs), opts.Now())
		if err != nil {
			return nil, fmt.Errorf("start run: %w", err)
		}
	}

	for _, g := range cfg.Graphs {
		var observers []diagnostics.Observer
		if s.runID != "" {
			w := ledger.NewEventWriter(opts.Repo, s.runID, 0)
			s.writers = append(s.writers, w)
			observers = append(observers, w)
		}
		if opts.Publisher != nil && cfg.Features.PublishEvents {
			observers = append(observers, opts.Publisher)
		}
		in, err := strategy.NewInstance(g, strategy.Deps{
			Gateway:   og.NewGateway(cfg.Gateway),
			Risk:      risk.NewEngine(cfg.Risk),
			Metrics:   opts.Metrics,
			Observers: observers,
		})
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", g.ID, err)
		}
		if err := orch.AddStrategy(in); err != nil {
			return nil, err
		}
	}

	// Series are registered by AddStrategy, so history goes in afterwards.
	if opts.Repo != nil && cfg.Features.Bootstrap {
		if err := s.bootstrap(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Session) bootstrap(ctx context.Context) error {
	market := s.orch.Market()
	for _, h := range s.cfg.History {
		rows, err := s.opts.Repo.LoadHistory(ctx, h.Symbol, h.Timeframe, h.Limit)
		if err != nil {
			return fmt.Errorf("load history %s %s: %w", h.Symbol, h.Timeframe, err)
		}
		if len(rows) == 0 {
			logs.Warnf("no history, symbol: %s, timeframe: %s", h.Symbol, h.Timeframe)
			continue
		}
		if err := market.Candles.Register(h.Symbol, h.Timeframe); err != nil {
			return err
		}
		if err := market.Bootstrap(h.Symbol, h.Timeframe, rows); err != nil {
			return fmt.Errorf("bootstrap %s %s: %w", h.Symbol, h.Timeframe, err)
		}
	}
	return nil
}

// Orchestrator returns the run's orchestrator.
func (s *Session) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// RunID returns the ledger id of the run, empty when nothing is persisted.
func (s *Session) RunID() string { return s.runID }

// Run streams src until it ends or every strategy terminates.
func (s *Session) Run(ctx context.Context, src feed.Source) error {
	return s.orch.Run(ctx, src)
}

// Stop evaluates the seconds still buffered and terminates the strategies
// that are running. It ends a run whose feed was interrupted; ctx must not be
// the canceled run context.
func (s *Session) Stop(ctx context.Context) error {
	if err := s.orch.Flush(ctx); err != nil {
		return err
	}
	return s.orch.Close()
}

// Finish persists trades and pending events, closes the ledger run with
// runErr and returns the per strategy results.
func (s *Session) Finish(ctx context.Context, runErr error) ([]orchestrator.Result, error) {
	results := s.orch.Results()
	if s.runID == "" {
		return results, nil
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, w := range s.writers {
		keep(w.Flush(ctx))
	}
	for _, in := range s.orch.Instances() {
		keep(s.opts.Repo.SaveTrades(ctx, s.runID, in.ID(), in.Store().Trades()))
	}
	keep(s.opts.Repo.FinishRun(ctx, s.runID, runErr, s.opts.Now()))
	if firstErr != nil {
		logs.Errorf("persist run failed, run: %s, err: %+v", s.runID, firstErr)
	}
	return results, firstErr
}
