package gps

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"nodeflow/internal/schema"
	"nodeflow/pkg/exception"
)

// Annotation written on exits that found nothing left to close.
const ReasonAlreadyClosed = "already closed by another exit"

// Store is the position ledger of one strategy instance.
type Store struct {
	mtx       sync.RWMutex
	positions map[Key]*Position
	order     []Key
	latest    map[string]int
	seq       uint64
}

func NewStore() *Store {
	return &Store{
		positions: make(map[Key]*Position),
		latest:    make(map[string]int),
	}
}

// AddPosition opens a position under (id, reEntryNum).
func (s *Store) AddPosition(id string, reEntryNum int, e Entry) (Position, error) {
	if id == "" || reEntryNum < 0 {
		return Position{}, fmt.Errorf("%w: position id %q re-entry %d", exception.ErrInvalidArgument, id, reEntryNum)
	}
	if e.Qty <= 0 {
		return Position{}, fmt.Errorf("%w: entry qty %d", exception.ErrInvalidQuantity, e.Qty)
	}
	if e.Side != schema.SideBuy && e.Side != schema.SideSell {
		return Position{}, fmt.Errorf("%w: entry side %s", exception.ErrInvalidArgument, e.Side)
	}
	if !isPrice(e.Price) {
		return Position{}, fmt.Errorf("%w: entry price %v", exception.ErrMissingPrice, e.Price)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	key := Key{PositionID: id, ReEntryNum: reEntryNum}
	if _, ok := s.positions[key]; ok {
		return Position{}, fmt.Errorf("%w: %s#%d", exception.ErrDuplicatePosition, id, reEntryNum)
	}
	p := &Position{
		Key:         key,
		Symbol:      e.Symbol,
		Side:        e.Side,
		EntryQty:    e.Qty,
		EntryPrice:  e.Price,
		EntryTime:   e.Time,
		NodeID:      e.NodeID,
		ExecutionID: e.ExecutionID,
	}
	s.positions[key] = p
	s.order = append(s.order, key)
	if n, ok := s.latest[id]; !ok || reEntryNum > n {
		s.latest[id] = reEntryNum
	}
	return p.clone(), nil
}

// RequestExit reconciles an exit: closed = min(requested, remaining). An exit
// against a fully closed position is recorded with Effective=false.
func (s *Store) RequestExit(id string, reEntryNum int, req ExitRequest) (ExitRecord, error) {
	if req.Qty <= 0 {
		return ExitRecord{}, fmt.Errorf("%w: exit qty %d", exception.ErrInvalidQuantity, req.Qty)
	}
	if !isPrice(req.Price) {
		return ExitRecord{}, fmt.Errorf("%w: exit price %v", exception.ErrMissingPrice, req.Price)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	p, ok := s.positions[Key{PositionID: id, ReEntryNum: reEntryNum}]
	if !ok {
		return ExitRecord{}, fmt.Errorf("%w: %s#%d", exception.ErrUnknownPosition, id, reEntryNum)
	}
	return s.applyExit(p, req)
}

// SquareOff closes every open position at the price returned by priceOf. Prices
// are resolved for all positions before any exit is recorded, so a missing price
// leaves the ledger untouched.
func (s *Store) SquareOff(ts time.Time, priceOf func(symbol string) (float64, bool), reason, nodeID, executionID string) ([]ExitRecord, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	type pending struct {
		p     *Position
		price float64
	}
	var todo []pending
	for _, key := range s.order {
		p := s.positions[key]
		if p.RemainingQty() == 0 {
			continue
		}
		price, ok := priceOf(p.Symbol)
		if !ok || !isPrice(price) {
			return nil, fmt.Errorf("%w: square off %s#%d symbol %s", exception.ErrMissingPrice, key.PositionID, key.ReEntryNum, p.Symbol)
		}
		if len(p.Exits) > 0 && ts.Before(p.Exits[len(p.Exits)-1].Timestamp) {
			return nil, fmt.Errorf("%w: square off %s#%d", exception.ErrExitOutOfOrder, key.PositionID, key.ReEntryNum)
		}
		todo = append(todo, pending{p: p, price: price})
	}

	records := make([]ExitRecord, 0, len(todo))
	for _, t := range todo {
		rec, err := s.applyExit(t.p, ExitRequest{
			Qty:         t.p.RemainingQty(),
			Price:       t.price,
			Reason:      reason,
			Time:        ts,
			NodeID:      nodeID,
			ExecutionID: executionID,
		})
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) applyExit(p *Position, req ExitRequest) (ExitRecord, error) {
	if n := len(p.Exits); n > 0 && req.Time.Before(p.Exits[n-1].Timestamp) {
		return ExitRecord{}, fmt.Errorf("%w: %s#%d at %s before %s", exception.ErrExitOutOfOrder, p.PositionID, p.ReEntryNum, req.Time, p.Exits[n-1].Timestamp)
	}

	remaining := p.RemainingQty()
	closed := min(req.Qty, remaining)

	s.seq++
	rec := ExitRecord{
		Seq:          s.seq,
		Timestamp:    req.Time,
		RequestedQty: req.Qty,
		ClosedQty:    closed,
		Price:        req.Price,
		Reason:       req.Reason,
		Effective:    closed > 0,
		RawPnL:       pnl(p.Side, p.EntryPrice, req.Price, req.Qty),
		NodeID:       req.NodeID,
		ExecutionID:  req.ExecutionID,
	}
	// Same as RawPnL * closed / requested without the rounding of a division.
	rec.PnL = pnl(p.Side, p.EntryPrice, req.Price, closed)

	switch {
	case closed == 0:
		rec.PnL = decimal.Zero
		rec.Warning = ReasonAlreadyClosed
	case closed < req.Qty:
		rec.Warning = fmt.Sprintf("requested %d, only %d remained", req.Qty, remaining)
		logs.Warnf("exit clamped, position: %s#%d, requested: %d, closed: %d", p.PositionID, p.ReEntryNum, req.Qty, closed)
	}

	p.Exits = append(p.Exits, rec)
	return rec, nil
}

// Position returns a copy of the position stored under (id, reEntryNum).
func (s *Store) Position(id string, reEntryNum int) (Position, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	p, ok := s.positions[Key{PositionID: id, ReEntryNum: reEntryNum}]
	if !ok {
		return Position{}, false
	}
	return p.clone(), true
}

// Latest returns the position of id with the highest re-entry number.
func (s *Store) Latest(id string) (Position, bool) {
	s.mtx.RLock()
	n, ok := s.latest[id]
	s.mtx.RUnlock()
	if !ok {
		return Position{}, false
	}
	return s.Position(id, n)
}

// HasOpen reports whether any re-entry of id is still open.
func (s *Store) HasOpen(id string) bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	for _, key := range s.order {
		if key.PositionID == id && s.positions[key].RemainingQty() > 0 {
			return true
		}
	}
	return false
}

// OpenPositions returns open positions in opening order.
func (s *Store) OpenPositions() []Position {
	return s.filter(func(p *Position) bool { return p.RemainingQty() > 0 })
}

// ClosedPositions returns closed positions in opening order.
func (s *Store) ClosedPositions() []Position {
	return s.filter(func(p *Position) bool { return p.RemainingQty() == 0 })
}

// Positions returns every position in opening order.
func (s *Store) Positions() []Position {
	return s.filter(func(*Position) bool { return true })
}

// Len returns the number of positions.
func (s *Store) Len() int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return len(s.order)
}

func (s *Store) filter(keep func(*Position) bool) []Position {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	out := make([]Position, 0, len(s.order))
	for _, key := range s.order {
		if p := s.positions[key]; keep(p) {
			out = append(out, p.clone())
		}
	}
	return out
}

// PnLSummary aggregates realized and unrealized pnl.
type PnLSummary struct {
	Realized   decimal.Decimal `json:"realized"`
	Unrealized decimal.Decimal `json:"unrealized"`
	Total      decimal.Decimal `json:"total"`
	Open       int             `json:"open"`
	Closed     int             `json:"closed"`
}

// Summary marks open positions with priceOf; positions without a price count as zero.
func (s *Store) Summary(priceOf func(symbol string) (float64, bool)) PnLSummary {
	sum := PnLSummary{Realized: decimal.Zero, Unrealized: decimal.Zero}
	for _, p := range s.Positions() {
		sum.Realized = sum.Realized.Add(p.RealizedPnL())
		if p.RemainingQty() == 0 {
			sum.Closed++
			continue
		}
		sum.Open++
		if priceOf == nil {
			continue
		}
		if ltp, ok := priceOf(p.Symbol); ok {
			sum.Unrealized = sum.Unrealized.Add(p.UnrealizedPnL(ltp))
		}
	}
	sum.Total = sum.Realized.Add(sum.Unrealized)
	return sum
}

func isPrice(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// sortExits orders exits by timestamp then sequence.
func sortExits(exits []ExitRecord) {
	sort.SliceStable(exits, func(i, j int) bool {
		if !exits[i].Timestamp.Equal(exits[j].Timestamp) {
			return exits[i].Timestamp.Before(exits[j].Timestamp)
		}
		return exits[i].Seq < exits[j].Seq
	})
}
