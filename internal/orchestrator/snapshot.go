package orchestrator

import (
	"context"
	"sync"
	"time"

	"nodeflow/internal/gps"
	"nodeflow/internal/strategy"
)

// Snapshot is the per second view of one strategy.
type Snapshot struct {
	Timestamp     time.Time      `json:"timestamp"`
	StrategyID    string         `json:"strategyId"`
	ActiveNodeIDs []string       `json:"activeNodeIds"`
	OpenPositions []gps.Position `json:"openPositions"`
	PnL           gps.PnLSummary `json:"pnl"`
	Terminated    bool           `json:"terminated"`
	Reason        string         `json:"reason,omitempty"`
}

// SnapshotSink receives snapshots. Sink errors are logged and never stop the run.
type SnapshotSink interface {
	OnSnapshot(ctx context.Context, snap Snapshot) error
}

// SinkFunc adapts a function to SnapshotSink.
type SinkFunc func(ctx context.Context, snap Snapshot) error

func (f SinkFunc) OnSnapshot(ctx context.Context, snap Snapshot) error {
	return f(ctx, snap)
}

// MemorySink keeps every snapshot in memory.
type MemorySink struct {
	mtx   sync.Mutex
	snaps []Snapshot
}

func (m *MemorySink) OnSnapshot(_ context.Context, snap Snapshot) error {
	m.mtx.Lock()
	m.snaps = append(m.snaps, snap)
	m.mtx.Unlock()
	return nil
}

// Snapshots returns a copy of the collected snapshots.
func (m *MemorySink) Snapshots() []Snapshot {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return append([]Snapshot(nil), m.snaps...)
}

// Result is the end of run summary of one strategy.
type Result struct {
	StrategyID  string         `json:"strategyId"`
	Terminated  bool           `json:"terminated"`
	Reason      string         `json:"reason,omitempty"`
	Evaluations int            `json:"evaluations"`
	Events      int            `json:"events"`
	PnL         gps.PnLSummary `json:"pnl"`
	Stats       gps.Stats      `json:"stats"`
}

func snapshotOf(in *strategy.Instance, ts time.Time, m *Market) Snapshot {
	store := in.Store()
	return Snapshot{
		Timestamp:     ts,
		StrategyID:    in.ID(),
		ActiveNodeIDs: in.ActiveNodeIDs(),
		OpenPositions: store.OpenPositions(),
		PnL:           store.Summary(m.LTP),
		Terminated:    in.Terminated(),
		Reason:        in.TerminationReason(),
	}
}

func resultOf(in *strategy.Instance, m *Market) Result {
	store := in.Store()
	return Result{
		StrategyID:  in.ID(),
		Terminated:  in.Terminated(),
		Reason:      in.TerminationReason(),
		Evaluations: in.Evaluations(),
		Events:      in.Diagnostics().Len(),
		PnL:         store.Summary(m.LTP),
		Stats:       gps.ComputeStats(store.Trades()),
	}
}
