package strategy

import (
	"fmt"
	"time"

	"nodeflow/internal/diagnostics"
	"nodeflow/internal/gps"
	"nodeflow/internal/obs"
	"nodeflow/internal/risk"
	"nodeflow/internal/schema"
	"nodeflow/pkg/exception"
)

// Outcome is what one node execution tells the runtime.
type Outcome struct {
	Status schema.NodeStatus
	// Fired means the node acted; its children are activated with
	// ExecutionID as their cause.
	Fired       bool
	ExecutionID string
	// Terminate, when set, ends the run with this reason.
	Terminate string
}

// behavior is implemented by every node kind.
type behavior interface {
	execute(c *Context) Outcome
	// accepts reports whether the node would act if activated now.
	accepts(c *Context, depth int) bool
}

// filler is implemented by kinds that send orders and complete on a fill.
type filler interface {
	onFill(c *Context, fill schema.Fill) Outcome
}

func newBehavior(in *Instance, n Node) (behavior, error) {
	base := nodeBase{in: in, idx: n.Index}
	switch n.Kind {
	case KindStart:
		return &startNode{nodeBase: base, endAt: n.EndAt}, nil
	case KindEntrySignal, KindExitSignal:
		return &signalNode{nodeBase: base}, nil
	case KindEntry:
		return &entryNode{nodeBase: base, params: *n.Def.Entry}, nil
	case KindExit:
		return &exitNode{nodeBase: base, params: *n.Def.Exit, target: n.Target}, nil
	case KindReEntrySignal:
		return &reEntryNode{nodeBase: base, max: n.Def.ReEntry.Max, target: n.Target}, nil
	case KindSquareOff:
		reason := "square_off"
		if p := n.Def.SquareOff; p != nil && p.Reason != "" {
			reason = p.Reason
		}
		return &squareOffNode{nodeBase: base, reason: reason}, nil
	default:
		return nil, fmt.Errorf("%w: %s", exception.ErrUnknownNodeType, n.Kind)
	}
}

type nodeBase struct {
	in  *Instance
	idx int
}

func (b nodeBase) node() Node          { return b.in.graph.nodes[b.idx] }
func (b nodeBase) state() *nodeRuntime { return &b.in.nodes[b.idx] }

type startNode struct {
	nodeBase
	endAt time.Duration
}

func (s *startNode) execute(c *Context) Outcome {
	if s.endAt > 0 && c.timeOfDay() >= s.endAt {
		return Outcome{Status: schema.NodeActive, Terminate: ReasonEndTime}
	}
	return Outcome{Status: schema.NodeActive, Fired: true, ExecutionID: s.in.runStart}
}

func (s *startNode) accepts(*Context, int) bool { return true }

// signalNode covers EntrySignal and ExitSignal: it fires while its
// conditions hold and some child would act, and stays Active.
type signalNode struct {
	nodeBase
}

func (s *signalNode) execute(c *Context) Outcome {
	if !s.in.childrenAccept(s.idx, c, 0) {
		return Outcome{Status: schema.NodeInactive}
	}
	if !s.state().cond.eval(c).Met() {
		return Outcome{Status: schema.NodeActive}
	}
	id := s.in.record(s.idx, c, diagnostics.EventSignal, diagnostics.Payload{"signal": s.node().Kind.String()}, "")
	return Outcome{Status: schema.NodeActive, Fired: id != "", ExecutionID: id}
}

func (s *signalNode) accepts(c *Context, depth int) bool {
	return s.in.childrenAccept(s.idx, c, depth+1)
}

type entryNode struct {
	nodeBase
	params EntryParams
}

// eligible means no order in flight and no open position for this entry.
func (e *entryNode) eligible() bool {
	return e.state().status != schema.NodePending && !e.in.store.HasOpen(e.params.PositionID)
}

func (e *entryNode) accepts(*Context, int) bool {
	if !e.eligible() {
		return false
	}
	_, exists := e.in.store.Position(e.params.PositionID, e.state().reEntryNum)
	return !exists
}

func (e *entryNode) execute(c *Context) Outcome {
	rt := e.state()
	if rt.status == schema.NodePending {
		return Outcome{Status: schema.NodePending}
	}
	if !e.accepts(c, 0) {
		return Outcome{Status: schema.NodeInactive}
	}
	price, ok := c.ltp(e.params.Symbol)
	if !ok {
		e.in.fail(e.idx, c, "no ltp for "+e.params.Symbol, nil)
		return Outcome{Status: schema.NodeActive}
	}

	intent := schema.OrderIntent{
		StrategyID: e.in.graph.ID,
		NodeID:     e.node().ID,
		PositionID: e.params.PositionID,
		ReEntryNum: rt.reEntryNum,
		Symbol:     e.params.Symbol,
		Side:       e.params.Side,
		Qty:        e.params.Qty,
		RefPrice:   price,
		Ts:         c.Time,
	}
	if e.in.risk != nil {
		d := e.in.risk.Evaluate(intent, risk.StateView{
			OpenPositions:  len(e.in.store.OpenPositions()),
			ReferencePrice: price,
			Now:            c.Time,
		})
		if d.Action == schema.RiskActionReject {
			e.in.metrics.IncRiskReason(d.Reason)
			e.in.fail(e.idx, c, "risk rejected", diagnostics.Payload{"risk_reason": d.Reason.String()})
			return Outcome{Status: schema.NodeInactive}
		}
	}
	return e.in.send(e.idx, c, intent)
}

func (e *entryNode) onFill(c *Context, fill schema.Fill) Outcome {
	rt := e.state()
	parent := rt.pendingExec
	rt.clearOrder()

	pos, err := e.in.store.AddPosition(e.params.PositionID, rt.reEntryNum, gps.Entry{
		Symbol:      fill.Symbol,
		Side:        fill.Side,
		Qty:         fill.Qty,
		Price:       fill.Price,
		Time:        fill.Ts,
		NodeID:      e.node().ID,
		ExecutionID: e.in.diag.NextExecutionID(),
	})
	if err != nil {
		e.in.fail(e.idx, c, err.Error(), nil)
		return Outcome{Status: schema.NodeInactive}
	}
	id := e.in.record(e.idx, c, diagnostics.EventEntry, diagnostics.Payload{
		"position_id":  pos.PositionID,
		"re_entry_num": pos.ReEntryNum,
		"symbol":       pos.Symbol,
		"side":         pos.Side.String(),
		"qty":          pos.EntryQty,
		"price":        pos.EntryPrice,
		"order_id":     fill.OrderID,
	}, parent)
	return Outcome{Status: schema.NodeInactive, Fired: id != "", ExecutionID: id}
}

type exitNode struct {
	nodeBase
	params ExitParams
	target int
}

// accepts also holds for a position that another exit closed in this
// tick, so the losing exit of a race is still reconciled and recorded.
func (x *exitNode) accepts(c *Context, _ int) bool {
	switch x.state().status {
	case schema.NodePending:
		return false
	case schema.NodeActive:
		return true
	}
	if x.in.store.HasOpen(x.params.PositionID) {
		return true
	}
	pos, ok := x.in.store.Latest(x.params.PositionID)
	return ok && closedAt(pos, c.Time)
}

func (x *exitNode) execute(c *Context) Outcome {
	rt := x.state()
	if rt.status == schema.NodePending {
		return Outcome{Status: schema.NodePending}
	}
	pos, ok := x.in.openPosition(x.params.PositionID)
	if !ok {
		return x.lateExit(c)
	}
	price, ok := c.ltp(pos.Symbol)
	if !ok {
		x.in.fail(x.idx, c, "no ltp for "+pos.Symbol, nil)
		return Outcome{Status: schema.NodeActive}
	}
	qty := x.params.Qty
	if qty == 0 {
		qty = pos.RemainingQty()
	}
	rt.exitKey = pos.Key
	rt.exitQty = qty
	return x.in.send(x.idx, c, schema.OrderIntent{
		StrategyID: x.in.graph.ID,
		NodeID:     x.node().ID,
		PositionID: pos.PositionID,
		ReEntryNum: pos.ReEntryNum,
		Symbol:     pos.Symbol,
		Side:       pos.Side.Opposite(),
		Qty:        qty,
		RefPrice:   price,
		Ts:         c.Time,
	})
}

// lateExit handles an activated exit whose position is already closed. No
// order is sent; the request is reconciled against the ledger so it is kept
// as an ineffective exit.
func (x *exitNode) lateExit(c *Context) Outcome {
	pos, ok := x.in.store.Latest(x.params.PositionID)
	if !ok || pos.RemainingQty() > 0 {
		return Outcome{Status: schema.NodeInactive}
	}
	price, ok := c.ltp(pos.Symbol)
	if !ok && len(pos.Exits) > 0 {
		price, ok = pos.Exits[len(pos.Exits)-1].Price, true
	}
	if !ok {
		x.in.fail(x.idx, c, "no ltp for "+pos.Symbol, nil)
		return Outcome{Status: schema.NodeInactive}
	}
	qty := x.params.Qty
	if qty == 0 {
		qty = pos.EntryQty
	}
	return x.reconcile(c, pos.Key, qty, price, c.Time, 0, "")
}

func (x *exitNode) onFill(c *Context, fill schema.Fill) Outcome {
	rt := x.state()
	parent, key, qty := rt.pendingExec, rt.exitKey, rt.exitQty
	rt.clearOrder()
	return x.reconcile(c, key, qty, fill.Price, fill.Ts, fill.OrderID, parent)
}

func (x *exitNode) reconcile(c *Context, key gps.Key, qty int64, price float64, ts time.Time, orderID uint64, parent string) Outcome {
	reason := x.params.Reason
	if reason == "" {
		reason = x.node().ID
	}
	rec, err := x.in.store.RequestExit(key.PositionID, key.ReEntryNum, gps.ExitRequest{
		Qty:         qty,
		Price:       price,
		Reason:      reason,
		Time:        ts,
		NodeID:      x.node().ID,
		ExecutionID: x.in.diag.NextExecutionID(),
	})
	if err != nil {
		x.in.fail(x.idx, c, err.Error(), nil)
		return Outcome{Status: schema.NodeInactive}
	}
	if !rec.Effective {
		x.in.metrics.Inc(obs.CounterIneffectiveExits)
	}
	payload := diagnostics.Payload{
		"position_id":   key.PositionID,
		"re_entry_num":  key.ReEntryNum,
		"requested_qty": rec.RequestedQty,
		"closed_qty":    rec.ClosedQty,
		"price":         rec.Price,
		"effective":     rec.Effective,
		"pnl":           rec.PnL.String(),
		"reason":        reason,
	}
	if orderID != 0 {
		payload["order_id"] = orderID
	}
	if rec.Warning != "" {
		payload["warning"] = rec.Warning
	}
	id := x.in.record(x.idx, c, diagnostics.EventExit, payload, parent)
	return Outcome{Status: schema.NodeInactive, Fired: id != "", ExecutionID: id}
}

func closedAt(p gps.Position, ts time.Time) bool {
	n := len(p.Exits)
	return p.RemainingQty() == 0 && n > 0 && p.Exits[n-1].Timestamp.Equal(ts)
}

// reEntryNode re-arms its target Entry under the next re-entry number.
type reEntryNode struct {
	nodeBase
	max    int
	target int
}

func (r *reEntryNode) entry() *entryNode {
	return r.in.behaviors[r.target].(*entryNode)
}

func (r *reEntryNode) accepts(*Context, int) bool {
	return r.state().reEntries < r.max && r.entry().eligible()
}

func (r *reEntryNode) execute(c *Context) Outcome {
	rt := r.state()
	if rt.reEntries >= r.max {
		return Outcome{Status: schema.NodeInactive}
	}
	if !r.entry().eligible() || !rt.cond.eval(c).Met() {
		return Outcome{Status: schema.NodeActive}
	}

	target := &r.in.nodes[r.target]
	target.reEntryNum++
	rt.reEntries++
	id := r.in.record(r.idx, c, diagnostics.EventReEntry, diagnostics.Payload{
		"entry":        r.in.graph.nodes[r.target].ID,
		"re_entry_num": target.reEntryNum,
		"count":        rt.reEntries,
	}, "")
	status := schema.NodeActive
	if rt.reEntries >= r.max {
		status = schema.NodeInactive
	}
	return Outcome{Status: status, Fired: id != "", ExecutionID: id}
}

type squareOffNode struct {
	nodeBase
	reason string
}

func (s *squareOffNode) accepts(*Context, int) bool {
	return len(s.in.store.OpenPositions()) > 0
}

func (s *squareOffNode) execute(c *Context) Outcome {
	if !s.accepts(c, 0) {
		return Outcome{Status: schema.NodeInactive}
	}
	id, ok := s.in.squareOff(s.idx, c, s.reason, "")
	if !ok {
		return Outcome{Status: schema.NodeActive}
	}
	return Outcome{Status: schema.NodeInactive, Fired: id != "", ExecutionID: id}
}
