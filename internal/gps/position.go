package gps

import (
	"time"

	"github.com/shopspring/decimal"

	"nodeflow/internal/schema"
)

// Status is the lifecycle state of a position.
type Status uint8

const (
	StatusOpen Status = iota + 1
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Key is the composite identity of a position: the same position id re-opened
// by a re-entry gets a new ReEntryNum.
type Key struct {
	PositionID string `json:"positionId"`
	ReEntryNum int    `json:"reEntryNum"`
}

// Entry describes how a position was opened.
type Entry struct {
	Symbol      string
	Side        schema.Side
	Qty         int64
	Price       float64
	Time        time.Time
	NodeID      string
	ExecutionID string
}

// ExitRequest asks to close qty of a position.
type ExitRequest struct {
	Qty         int64
	Price       float64
	Reason      string
	Time        time.Time
	NodeID      string
	ExecutionID string
}

// ExitRecord is the reconciled result of one exit request. Records are never mutated.
type ExitRecord struct {
	Seq          uint64          `json:"seq"`
	Timestamp    time.Time       `json:"timestamp"`
	RequestedQty int64           `json:"requestedQty"`
	ClosedQty    int64           `json:"closedQty"`
	Price        float64         `json:"price"`
	Reason       string          `json:"reason"`
	Effective    bool            `json:"effective"`
	RawPnL       decimal.Decimal `json:"rawPnl"`
	PnL          decimal.Decimal `json:"pnl"`
	Warning      string          `json:"warning,omitempty"`
	NodeID       string          `json:"nodeId,omitempty"`
	ExecutionID  string          `json:"executionId,omitempty"`
}

// Position is one entry plus the exits reconciled against it.
type Position struct {
	Key
	Symbol      string       `json:"symbol"`
	Side        schema.Side  `json:"side"`
	EntryQty    int64        `json:"entryQty"`
	EntryPrice  float64      `json:"entryPrice"`
	EntryTime   time.Time    `json:"entryTime"`
	NodeID      string       `json:"nodeId,omitempty"`
	ExecutionID string       `json:"executionId,omitempty"`
	Exits       []ExitRecord `json:"exits"`
}

// ClosedQty is the sum of closed quantity over all exits.
func (p Position) ClosedQty() int64 {
	var n int64
	for _, e := range p.Exits {
		n += e.ClosedQty
	}
	return n
}

// RemainingQty is the quantity still open.
func (p Position) RemainingQty() int64 {
	return p.EntryQty - p.ClosedQty()
}

// Status is CLOSED exactly when nothing remains.
func (p Position) Status() Status {
	if p.RemainingQty() == 0 {
		return StatusClosed
	}
	return StatusOpen
}

// RealizedPnL sums the pnl of effective exits.
func (p Position) RealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, e := range p.Exits {
		if e.Effective {
			total = total.Add(e.PnL)
		}
	}
	return total
}

// UnrealizedPnL marks the remaining quantity at ltp.
func (p Position) UnrealizedPnL(ltp float64) decimal.Decimal {
	return pnl(p.Side, p.EntryPrice, ltp, p.RemainingQty())
}

// ClosedAt returns the time of the exit that closed the position.
func (p Position) ClosedAt() (time.Time, bool) {
	if p.Status() != StatusClosed {
		return time.Time{}, false
	}
	var at time.Time
	for _, e := range p.Exits {
		if e.Effective && e.Timestamp.After(at) {
			at = e.Timestamp
		}
	}
	return at, true
}

func (p Position) clone() Position {
	cp := p
	cp.Exits = append([]ExitRecord(nil), p.Exits...)
	return cp
}

// pnl is (exit-entry)*qty for BUY and (entry-exit)*qty for SELL.
func pnl(side schema.Side, entry, exit float64, qty int64) decimal.Decimal {
	diff := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	if side == schema.SideSell {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromInt(qty))
}
