package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"nodeflow/internal/diagnostics"
	"nodeflow/internal/gps"
	"nodeflow/internal/schema"
)

var base = time.Date(2024, 1, 10, 3, 45, 0, 0, time.UTC)

// setupTestDB prepares an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to initialize test database")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every pooled connection would open its own in-memory database
	sqlDB.SetMaxOpenConns(1)
	repo := NewRepository(db)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

func candles(n int, close0 float64) []schema.Candle {
	out := make([]schema.Candle, n)
	for i := range out {
		c := close0 + float64(i)
		out[i] = schema.Candle{Symbol: "NIFTY", Timeframe: schema.Timeframe5m, Start: base.Add(time.Duration(i) * 5 * time.Minute), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10}
	}
	return out
}

func TestUpsertAndLoadHistory(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertCandles(ctx, candles(5, 100)))
	// same keys, new values
	require.NoError(t, repo.UpsertCandles(ctx, candles(5, 200)))

	all, err := repo.LoadHistory(ctx, "NIFTY", schema.Timeframe5m, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, 200.0, all[0].Close)
	assert.True(t, all[0].Start.Equal(base))
	assert.Equal(t, schema.Timeframe5m, all[0].Timeframe)

	last, err := repo.LoadHistory(ctx, "NIFTY", schema.Timeframe5m, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, 203.0, last[0].Close)
	assert.Equal(t, 204.0, last[1].Close)

	none, err := repo.LoadHistory(ctx, "NIFTY", schema.Timeframe1m, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRunLifecycle(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	id, err := repo.StartRun(ctx, "nightly", "backtest", 2, base)
	require.NoError(t, err)
	assert.Len(t, id, 36)

	require.NoError(t, repo.FinishRun(ctx, id, errors.New("indicator: computation failed"), base.Add(time.Minute)))
	run, err := repo.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, run.Status)
	assert.Equal(t, "indicator: computation failed", run.Error)
	require.NotNil(t, run.FinishedAt)

	require.Error(t, repo.FinishRun(ctx, "missing", nil, base))
}

func TestSaveTrades(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	store := gps.NewStore()
	_, err := store.AddPosition("p1", 0, gps.Entry{Symbol: "OPT", Side: schema.SideBuy, Qty: 10, Price: 50, Time: base, ExecutionID: "exec-000002"})
	require.NoError(t, err)
	_, err = store.RequestExit("p1", 0, gps.ExitRequest{Qty: 6, Price: 55, Reason: "target", Time: base.Add(time.Minute)})
	require.NoError(t, err)

	require.NoError(t, repo.SaveTrades(ctx, "run-1", "s1", store.Trades()))

	_, err = store.RequestExit("p1", 0, gps.ExitRequest{Qty: 6, Price: 52, Reason: "stop", Time: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	require.NoError(t, repo.SaveTrades(ctx, "run-1", "s1", store.Trades()))

	trades, err := repo.Trades(ctx, "run-1", "s1")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "38", trades[0].TotalPnL)
	assert.Equal(t, "CLOSED", trades[0].Status)
	assert.Equal(t, int64(0), trades[0].RemainingQty)
	assert.Equal(t, "BUY", trades[0].Side)

	exits, err := repo.Exits(ctx, "run-1", "s1")
	require.NoError(t, err)
	require.Len(t, exits, 2)
	assert.Equal(t, "30", exits[0].PnL)
	assert.Equal(t, int64(4), exits[1].ClosedQty)
	assert.Equal(t, "12", exits[1].RawPnL)
	assert.Equal(t, "8", exits[1].PnL)
}

func sampleEvents() []diagnostics.Event {
	return []diagnostics.Event{
		{Seq: 1, ExecutionID: "exec-000001", StrategyID: "s1", NodeID: "start", NodeType: "start", Type: diagnostics.EventRunStart, Timestamp: base},
		{Seq: 2, ExecutionID: "exec-000002", ParentExecutionID: "exec-000001", StrategyID: "s1", NodeID: "en", NodeType: "entry", Type: diagnostics.EventEntry, Timestamp: base,
			Payload: diagnostics.Payload{"position_id": "p1", "qty": float64(10)}},
	}
}

func TestSaveEventsIsIdempotent(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	events := sampleEvents()
	require.NoError(t, repo.SaveEvents(ctx, "run-1", events))
	require.NoError(t, repo.SaveEvents(ctx, "run-1", events))

	got, err := repo.Events(ctx, "run-1", "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "exec-000001", got[1].ParentExecutionID)
	assert.Equal(t, diagnostics.EventEntry, got[1].Type)
	assert.Equal(t, "p1", got[1].Payload["position_id"])
	assert.Equal(t, float64(10), got[1].Payload["qty"])
	assert.True(t, got[0].Timestamp.Equal(base))
}

func TestEventWriterBatches(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	w := NewEventWriter(repo, "run-1", 2)

	events := sampleEvents()
	require.NoError(t, w.OnEvent(events[0]))
	assert.Equal(t, 1, w.Pending())
	require.NoError(t, w.OnEvent(events[1]))
	assert.Equal(t, 0, w.Pending())

	got, err := repo.Events(ctx, "run-1", "s1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	require.NoError(t, w.Flush(ctx))
}
