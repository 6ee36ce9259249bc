package schema

import (
	"fmt"
	"strings"
	"time"
)

// Side describes position or order direction.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

// ParseSide converts "BUY"/"SELL" (any case) into a Side.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B", "LONG":
		return SideBuy, nil
	case "SELL", "S", "SHORT":
		return SideSell, nil
	default:
		return SideUnknown, fmt.Errorf("unknown side: %q", s)
	}
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideUnknown
	}
}

// OrderIntent is an order a node wants the gateway to execute.
type OrderIntent struct {
	OrderID    uint64
	StrategyID string
	NodeID     string
	PositionID string
	ReEntryNum int
	Symbol     string
	Side       Side
	Qty        int64
	RefPrice   float64
	Ts         time.Time
}

// Fill is an execution reported by the gateway.
type Fill struct {
	OrderID uint64
	Symbol  string
	Side    Side
	Qty     int64
	Price   float64
	Ts      time.Time
}

// RiskAction is the result of a pre-trade check.
type RiskAction uint8

const (
	RiskActionUnknown RiskAction = iota
	RiskActionAllow
	RiskActionReject
)

// RiskReason explains a rejection.
type RiskReason uint8

const (
	RiskReasonNone RiskReason = iota
	RiskReasonKillSwitch
	RiskReasonMaxOrderQty
	RiskReasonMaxOpenPositions
	RiskReasonMaxNotional
	RiskReasonRateLimit
	RiskReasonInvalidIntent
)

func (r RiskReason) String() string {
	switch r {
	case RiskReasonKillSwitch:
		return "kill_switch"
	case RiskReasonMaxOrderQty:
		return "max_order_qty"
	case RiskReasonMaxOpenPositions:
		return "max_open_positions"
	case RiskReasonMaxNotional:
		return "max_notional"
	case RiskReasonRateLimit:
		return "rate_limit"
	case RiskReasonInvalidIntent:
		return "invalid_intent"
	default:
		return "none"
	}
}

// RiskDecision is the pre-trade verdict for an intent.
type RiskDecision struct {
	OrderID uint64
	Action  RiskAction
	Reason  RiskReason
}
