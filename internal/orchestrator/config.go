package orchestrator

import (
	"fmt"
	"strings"
	"time"
)

// EvalMode decides how often strategies are evaluated.
type EvalMode uint8

const (
	// EvalPerSecond evaluates each strategy once per second with the last tick of the second.
	EvalPerSecond EvalMode = iota
	// EvalPerTick evaluates after every accepted tick.
	EvalPerTick
)

func ParseEvalMode(s string) (EvalMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "per_second":
		return EvalPerSecond, nil
	case "per_tick":
		return EvalPerTick, nil
	default:
		return 0, fmt.Errorf("unknown eval mode: %q", s)
	}
}

func (m EvalMode) String() string {
	if m == EvalPerTick {
		return "per_tick"
	}
	return "per_second"
}

// Config controls the orchestrator.
type Config struct {
	Mode EvalMode
	// Location is the exchange time zone used by time_of_day operands.
	Location *time.Location
	// SnapshotEvery emits snapshots every n processed seconds; 0 means every second.
	SnapshotEvery int
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.SnapshotEvery <= 0 {
		c.SnapshotEvery = 1
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Mode > EvalPerTick {
		return fmt.Errorf("invalid orchestrator config: Mode %d", c.Mode)
	}
	return nil
}
