package gps

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
)

// Snapshot is a serializable copy of a ledger.
type Snapshot struct {
	StrategyID string     `json:"strategyId"`
	LastSeq    uint64     `json:"lastSeq"`
	Positions  []Position `json:"positions"`
	Summary    PnLSummary `json:"summary"`
}

// Snapshot copies the ledger in opening order.
func (s *Store) Snapshot(strategyID string) Snapshot {
	s.mtx.RLock()
	seq := s.seq
	s.mtx.RUnlock()
	return Snapshot{
		StrategyID: strategyID,
		LastSeq:    seq,
		Positions:  s.Positions(),
		Summary:    s.Summary(nil),
	}
}

// MarshalSnapshot renders a snapshot with sorted keys so identical ledgers are byte-identical.
func MarshalSnapshot(snap Snapshot) ([]byte, error) {
	return sonic.ConfigStd.MarshalIndent(snap, "", "  ")
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snap Snapshot) error {
	data, err := MarshalSnapshot(snap)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.ConfigStd.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// CompareSnapshots checks that two ledgers hold the same positions and exits.
func CompareSnapshots(expected, actual Snapshot) error {
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	for i := range expected.Positions {
		want, got := expected.Positions[i], actual.Positions[i]
		if want.Key != got.Key {
			return fmt.Errorf("snapshot key mismatch at %d: expected=%+v actual=%+v", i, want.Key, got.Key)
		}
		if want.EntryQty != got.EntryQty || want.EntryPrice != got.EntryPrice || !want.EntryTime.Equal(got.EntryTime) {
			return fmt.Errorf("snapshot entry mismatch: position=%s#%d", want.PositionID, want.ReEntryNum)
		}
		if len(want.Exits) != len(got.Exits) {
			return fmt.Errorf("snapshot exit count mismatch: position=%s#%d expected=%d actual=%d", want.PositionID, want.ReEntryNum, len(want.Exits), len(got.Exits))
		}
		for j := range want.Exits {
			we, ge := want.Exits[j], got.Exits[j]
			if we.ClosedQty != ge.ClosedQty || we.Effective != ge.Effective || !we.PnL.Equal(ge.PnL) {
				return fmt.Errorf("snapshot exit mismatch: position=%s#%d exit=%d", want.PositionID, want.ReEntryNum, j)
			}
		}
	}
	if !expected.Summary.Realized.Equal(actual.Summary.Realized) {
		return fmt.Errorf("snapshot realized pnl mismatch: expected=%s actual=%s", expected.Summary.Realized, actual.Summary.Realized)
	}
	return nil
}
