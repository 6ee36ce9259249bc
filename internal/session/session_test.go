package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"nodeflow/internal/feed"
	"nodeflow/internal/ledger"
	"nodeflow/internal/ops"
	"nodeflow/internal/orchestrator"
	"nodeflow/internal/schema"
)

const runFile = `{
  "registry": {"symbols": [
    {"name": "NIFTY", "kind": "index"},
    {"name": "OPT", "kind": "option", "underlying": "NIFTY", "lot_size": 50}
  ]},
  "candles": {"window": 10, "session_open": "09:15", "timezone": "Asia/Kolkata"},
  "strategies": {"inline": [{
    "id": "round-trip",
    "grace_ticks": 2,
    "nodes": [
      {"id": "start", "type": "start", "children": ["es"]},
      {"id": "es", "type": "entry_signal", "children": ["en"],
       "conditions": [{"left": {"kind": "ltp", "symbol": "OPT"}, "op": ">", "right": {"kind": "constant", "value": 100}}]},
      {"id": "en", "type": "entry", "children": ["xs"], "entry": {"position_id": "p1", "symbol": "OPT", "side": "BUY", "qty": 10}},
      {"id": "xs", "type": "exit_signal", "children": ["ex"],
       "conditions": [{"left": {"kind": "ltp", "symbol": "OPT"}, "op": ">=", "right": {"kind": "constant", "value": 120}}]},
      {"id": "ex", "type": "exit", "exit": {"position_id": "p1", "reason": "target"}}
    ]
  }]},
  "history": [{"symbol": "NIFTY", "timeframe": "1m", "limit": 20}]
}`

var ist = time.FixedZone("IST", 5*3600+30*60)

func at(h, m, s int) time.Time {
	return time.Date(2024, 1, 10, h, m, s, 0, ist)
}

func loadConfig(t *testing.T) ops.Loaded {
	t.Helper()
	fc, err := ops.Decode([]byte(runFile))
	require.NoError(t, err)
	cfg, err := ops.Resolve(fc, t.TempDir())
	require.NoError(t, err)
	return cfg
}

func setupRepo(t *testing.T) *ledger.Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	repo := ledger.NewRepository(db)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

func roundTripTicks() []schema.Tick {
	return []schema.Tick{
		{Symbol: "OPT", Timestamp: at(9, 20, 0), LTP: 101, Volume: 1},
		{Symbol: "OPT", Timestamp: at(9, 20, 1), LTP: 110, Volume: 1},
		{Symbol: "OPT", Timestamp: at(9, 20, 2), LTP: 125, Volume: 1},
	}
}

func TestSessionWithoutLedger(t *testing.T) {
	ctx := context.Background()
	sink := &orchestrator.MemorySink{}
	s, err := New(ctx, loadConfig(t), Options{Sinks: []orchestrator.SnapshotSink{sink}})
	require.NoError(t, err)
	assert.Empty(t, s.RunID())

	require.NoError(t, s.Run(ctx, feed.NewSliceSource(roundTripTicks(), 2)))
	results, err := s.Finish(ctx, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "240", results[0].Stats.NetPnL.String())
	assert.Equal(t, orchestrator.ReasonFeedEnd, results[0].Reason)
	assert.Len(t, sink.Snapshots(), 3)
}

// interruptedSource serves its ticks once, then cancels the run the way a
// signal would.
type interruptedSource struct {
	ticks  []schema.Tick
	cancel context.CancelFunc
}

func (s *interruptedSource) Next(ctx context.Context) ([]schema.Tick, error) {
	if s.ticks != nil {
		batch := s.ticks
		s.ticks = nil
		return batch, nil
	}
	s.cancel()
	return nil, ctx.Err()
}

func TestSessionStopAfterInterrupt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := New(ctx, loadConfig(t), Options{})
	require.NoError(t, err)

	err = s.Run(ctx, &interruptedSource{ticks: roundTripTicks(), cancel: cancel})
	require.ErrorIs(t, err, context.Canceled)
	results := s.Orchestrator().Results()
	require.Len(t, results, 1)
	assert.False(t, results[0].Terminated)
	assert.Len(t, s.Orchestrator().Instances()[0].Store().OpenPositions(), 1)

	require.NoError(t, s.Stop(context.Background()))
	results, err = s.Finish(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, results[0].Terminated)
	assert.Equal(t, orchestrator.ReasonFeedEnd, results[0].Reason)
	assert.Equal(t, "240", results[0].Stats.NetPnL.String())
}

func TestSessionPersistsRun(t *testing.T) {
	ctx := context.Background()
	repo := setupRepo(t)

	history := make([]schema.Candle, 12)
	for i := range history {
		c := float64(21000 + i)
		history[i] = schema.Candle{Symbol: "NIFTY", Timeframe: schema.Timeframe1m, Start: at(9, 15, 0).Add(time.Duration(i-12) * time.Minute), Open: c, High: c, Low: c, Close: c}
	}
	require.NoError(t, repo.UpsertCandles(ctx, history))

	now := at(9, 0, 0)
	s, err := New(ctx, loadConfig(t), Options{Name: "unit", Repo: repo, Now: func() time.Time { return now }})
	require.NoError(t, err)
	require.NotEmpty(t, s.RunID())

	window := s.Orchestrator().Market().Candles.Window("NIFTY", schema.Timeframe1m)
	require.Len(t, window, 9)
	assert.Equal(t, 21011.0, window[len(window)-1].Close)

	require.NoError(t, s.Run(ctx, feed.NewSliceSource(roundTripTicks(), 2)))
	_, err = s.Finish(ctx, nil)
	require.NoError(t, err)

	run, err := repo.Run(ctx, s.RunID())
	require.NoError(t, err)
	assert.Equal(t, ledger.RunFinished, run.Status)
	assert.Equal(t, ModeBacktest, run.Mode)
	assert.Equal(t, 1, run.Strategies)

	trades, err := repo.Trades(ctx, s.RunID(), "round-trip")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "240", trades[0].TotalPnL)

	in := s.Orchestrator().Instances()[0]
	events, err := repo.Events(ctx, s.RunID(), "round-trip")
	require.NoError(t, err)
	assert.Len(t, events, in.Diagnostics().Len())
}
