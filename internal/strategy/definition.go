package strategy

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"

	"nodeflow/internal/indicator"
	"nodeflow/internal/schema"
	"nodeflow/pkg/exception"
)

// Definition is the declarative form of a strategy graph.
type Definition struct {
	ID          string           `json:"id"`
	WarmupTicks int              `json:"warmup_ticks,omitempty"`
	GraceTicks  int              `json:"grace_ticks,omitempty"`
	Nodes       []NodeDefinition `json:"nodes"`
}

// NodeDefinition declares one node. Only the params block matching Type is read.
type NodeDefinition struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Children   []string         `json:"children,omitempty"`
	Conditions []ConditionSpec  `json:"conditions,omitempty"`
	Start      *StartParams     `json:"start,omitempty"`
	Entry      *EntryParams     `json:"entry,omitempty"`
	Exit       *ExitParams      `json:"exit,omitempty"`
	ReEntry    *ReEntryParams   `json:"re_entry,omitempty"`
	SquareOff  *SquareOffParams `json:"square_off,omitempty"`
}

// StartParams ends the run at a session time of day.
type StartParams struct {
	EndTime        string `json:"end_time,omitempty"`
	SquareOffOnEnd bool   `json:"square_off_on_end,omitempty"`
}

// EntryParams opens PositionID.
type EntryParams struct {
	PositionID string      `json:"position_id"`
	Symbol     string      `json:"symbol"`
	Side       schema.Side `json:"side"`
	Qty        int64       `json:"qty"`
}

// ExitParams closes Qty of PositionID; zero closes whatever remains.
type ExitParams struct {
	PositionID string `json:"position_id"`
	Qty        int64  `json:"qty,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ReEntryParams re-arms the Entry node Entry at most Max times.
type ReEntryParams struct {
	Entry string `json:"entry"`
	Max   int    `json:"max"`
}

// SquareOffParams closes every open position.
type SquareOffParams struct {
	Reason string `json:"reason,omitempty"`
}

// ConditionSpec is either a group (All or Any) or a comparison leaf.
type ConditionSpec struct {
	All   []ConditionSpec `json:"all,omitempty"`
	Any   []ConditionSpec `json:"any,omitempty"`
	Left  *OperandSpec    `json:"left,omitempty"`
	Op    string          `json:"op,omitempty"`
	Right *OperandSpec    `json:"right,omitempty"`
}

// Operand kinds.
const (
	OperandLTP       = "ltp"
	OperandCandle    = "candle"
	OperandIndicator = "indicator"
	OperandConstant  = "constant"
	OperandTimeOfDay = "time_of_day"
	OperandPosition  = "position"
)

// Position operand fields.
const (
	PositionEntryPrice    = "entry_price"
	PositionRemainingQty  = "remaining_qty"
	PositionUnrealizedPnL = "unrealized_pnl"
)

// OperandSpec names a value read at evaluation time.
type OperandSpec struct {
	Kind       string           `json:"kind"`
	Symbol     string           `json:"symbol,omitempty"`
	Timeframe  schema.Timeframe `json:"timeframe,omitempty"`
	Field      string           `json:"field,omitempty"`
	Indicator  *indicator.Spec  `json:"indicator,omitempty"`
	Component  string           `json:"component,omitempty"`
	Offset     int              `json:"offset,omitempty"`
	Value      float64          `json:"value,omitempty"`
	Time       string           `json:"time,omitempty"`
	PositionID string           `json:"position_id,omitempty"`
	Scale      float64          `json:"scale,omitempty"`
}

// Decode parses a JSON strategy definition.
func Decode(data []byte) (Definition, error) {
	var def Definition
	if err := sonic.ConfigStd.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("%w: decode definition: %v", exception.ErrInvalidGraph, err)
	}
	return def, nil
}

// LoadFile reads, decodes and loads a definition file.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	def, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Load(def)
}
