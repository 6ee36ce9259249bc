package gps

import (
	"time"

	"github.com/shopspring/decimal"

	"nodeflow/internal/schema"
)

// EntryFlow is the opening leg of a trade.
type EntryFlow struct {
	Time        time.Time `json:"time"`
	Qty         int64     `json:"qty"`
	Price       float64   `json:"price"`
	NodeID      string    `json:"nodeId,omitempty"`
	ExecutionID string    `json:"executionId,omitempty"`
}

// TradeSummary is derived from the entry and its exits.
type TradeSummary struct {
	EntryQty     int64           `json:"entryQty"`
	NetClosedQty int64           `json:"netClosedQty"`
	RemainingQty int64           `json:"remainingQty"`
	TotalPnL     decimal.Decimal `json:"totalPnl"`
	Status       Status          `json:"status"`
	Duration     time.Duration   `json:"duration"`
}

// Trade is the derived view of one (position id, re-entry) pair.
type Trade struct {
	Key
	Symbol  string       `json:"symbol"`
	Side    schema.Side  `json:"side"`
	Entry   EntryFlow    `json:"entry"`
	Exits   []ExitRecord `json:"exits"`
	Summary TradeSummary `json:"summary"`
}

// TradeOf builds the trade view of p.
func TradeOf(p Position) Trade {
	exits := append([]ExitRecord(nil), p.Exits...)
	sortExits(exits)

	t := Trade{
		Key:    p.Key,
		Symbol: p.Symbol,
		Side:   p.Side,
		Entry: EntryFlow{
			Time:        p.EntryTime,
			Qty:         p.EntryQty,
			Price:       p.EntryPrice,
			NodeID:      p.NodeID,
			ExecutionID: p.ExecutionID,
		},
		Exits: exits,
		Summary: TradeSummary{
			EntryQty:     p.EntryQty,
			NetClosedQty: p.ClosedQty(),
			RemainingQty: p.RemainingQty(),
			TotalPnL:     p.RealizedPnL(),
			Status:       p.Status(),
		},
	}
	if at, ok := p.ClosedAt(); ok {
		t.Summary.Duration = at.Sub(p.EntryTime)
	}
	return t
}

// Trades returns the trade view of every position in opening order.
func (s *Store) Trades() []Trade {
	positions := s.Positions()
	out := make([]Trade, 0, len(positions))
	for _, p := range positions {
		out = append(out, TradeOf(p))
	}
	return out
}

// Stats summarizes closed trades.
type Stats struct {
	Trades       int             `json:"trades"`
	Wins         int             `json:"wins"`
	Losses       int             `json:"losses"`
	WinRate      float64         `json:"winRate"`
	ProfitFactor float64         `json:"profitFactor"`
	NetPnL       decimal.Decimal `json:"netPnl"`
	MaxDrawdown  decimal.Decimal `json:"maxDrawdown"`
}

// ComputeStats walks closed trades in close order and accumulates an equity curve.
func ComputeStats(trades []Trade) Stats {
	st := Stats{NetPnL: decimal.Zero, MaxDrawdown: decimal.Zero}
	gross, loss := decimal.Zero, decimal.Zero
	peak := decimal.Zero
	for _, t := range trades {
		if t.Summary.Status != StatusClosed {
			continue
		}
		st.Trades++
		p := t.Summary.TotalPnL
		switch p.Sign() {
		case 1:
			st.Wins++
			gross = gross.Add(p)
		case -1:
			st.Losses++
			loss = loss.Add(p.Neg())
		}
		st.NetPnL = st.NetPnL.Add(p)
		if st.NetPnL.GreaterThan(peak) {
			peak = st.NetPnL
		}
		if dd := peak.Sub(st.NetPnL); dd.GreaterThan(st.MaxDrawdown) {
			st.MaxDrawdown = dd
		}
	}
	if st.Trades > 0 {
		st.WinRate = float64(st.Wins) / float64(st.Trades)
	}
	if loss.IsPositive() {
		st.ProfitFactor = gross.Div(loss).InexactFloat64()
	}
	return st
}
