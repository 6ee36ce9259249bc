package export

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeflow/internal/diagnostics"
	"nodeflow/internal/ltp"
	"nodeflow/internal/orchestrator"
	"nodeflow/internal/schema"
)

var ts = time.Date(2024, 1, 10, 3, 45, 1, 0, time.UTC)

func TestNewPublisherDefaults(t *testing.T) {
	p := NewPublisher(nil, "", 0)
	assert.Equal(t, "nodeflow:snapshot:s1", p.SnapshotKey("s1"))
	assert.Equal(t, "nodeflow:snapshots", p.SnapshotChannel())
	assert.Equal(t, "nodeflow:events:s1", p.EventChannel("s1"))
	assert.Equal(t, "nodeflow:ltp", p.PriceKey())
	assert.Equal(t, defaultTTL, p.ttl)

	p = NewPublisher(nil, "bt", time.Minute)
	assert.Equal(t, "bt:ltp", p.PriceKey())
	assert.Equal(t, time.Minute, p.ttl)
}

func TestPublisherNilClient(t *testing.T) {
	p := NewPublisher(nil, "", 0)
	assert.ErrorIs(t, p.OnSnapshot(context.Background(), orchestrator.Snapshot{}), ErrNilClient)
	assert.ErrorIs(t, p.OnEvent(diagnostics.Event{}), ErrNilClient)
	assert.ErrorIs(t, p.PublishPrices(context.Background(), nil), ErrNilClient)
}

func TestOnSnapshot(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer func() { _ = rdb.Close() }()

	snap := orchestrator.Snapshot{Timestamp: ts, StrategyID: "s1", ActiveNodeIDs: []string{"start", "es"}}
	b, err := sonic.ConfigStd.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectSet("nodeflow:snapshot:s1", b, 5*time.Minute).SetVal("OK")
	mock.ExpectPublish("nodeflow:snapshots", b).SetVal(1)

	p := NewPublisher(rdb, "", 5*time.Minute)
	require.NoError(t, p.OnSnapshot(context.Background(), snap))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOnSnapshotSetFails(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer func() { _ = rdb.Close() }()

	snap := orchestrator.Snapshot{Timestamp: ts, StrategyID: "s1"}
	b, err := sonic.ConfigStd.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectSet("nodeflow:snapshot:s1", b, defaultTTL).SetErr(errors.New("connection refused"))

	p := NewPublisher(rdb, "", 0)
	require.Error(t, p.OnSnapshot(context.Background(), snap))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOnEvent(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer func() { _ = rdb.Close() }()

	e := diagnostics.Event{
		Seq: 2, ExecutionID: "exec-000002", StrategyID: "s1", NodeID: "en", NodeType: "entry",
		Type: diagnostics.EventEntry, Timestamp: ts, Payload: diagnostics.Payload{"qty": 10, "position_id": "p1"},
	}
	b, err := sonic.ConfigStd.Marshal(e)
	require.NoError(t, err)

	mock.ExpectPublish("nodeflow:events:s1", b).SetVal(0)

	p := NewPublisher(rdb, "", 0)
	require.NoError(t, p.OnEvent(e))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceSinkOncePerSecond(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	defer func() { _ = rdb.Close() }()

	store := ltp.NewStore()
	store.Update(schema.Tick{Symbol: "OPT", LTP: 55, Timestamp: ts})
	store.Update(schema.Tick{Symbol: "NIFTY", LTP: 22000.5, Timestamp: ts})

	mock.ExpectHSet("nodeflow:ltp", "NIFTY", "22000.5", "OPT", "55").SetVal(2)

	p := NewPublisher(rdb, "", 0)
	sink := p.PriceSink(store)
	ctx := context.Background()
	require.NoError(t, sink.OnSnapshot(ctx, orchestrator.Snapshot{Timestamp: ts, StrategyID: "s1"}))
	// second strategy, same second
	require.NoError(t, sink.OnSnapshot(ctx, orchestrator.Snapshot{Timestamp: ts, StrategyID: "s2"}))
	require.NoError(t, mock.ExpectationsWereMet())
}
