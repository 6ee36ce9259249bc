package strategy

import (
	"time"

	"github.com/yanun0323/logs"

	"nodeflow/internal/diagnostics"
	"nodeflow/internal/gps"
	"nodeflow/internal/obs"
	"nodeflow/internal/og"
	"nodeflow/internal/risk"
	"nodeflow/internal/schema"
)

// Termination reasons.
const (
	ReasonIdle    = "idle"
	ReasonEndTime = "end_time"
	ReasonStopped = "stopped"
)

// Deps are the collaborators of an instance. Zero values get defaults: an
// immediate-fill gateway, no risk checks and no metrics.
type Deps struct {
	Gateway   *og.Gateway
	Risk      *risk.Engine
	Metrics   *obs.Metrics
	Observers []diagnostics.Observer
}

type nodeRuntime struct {
	status    schema.NodeStatus
	visited   bool
	evaluated bool
	cond      condition

	reEntryNum int // Entry: number of the next position
	reEntries  int // ReEntrySignal: times fired

	orderID     uint64
	pendingExec string
	exitKey     gps.Key
	exitQty     int64
}

func (rt *nodeRuntime) clearOrder() {
	rt.orderID = 0
	rt.pendingExec = ""
}

// Instance runs one strategy graph. It owns its node state, position ledger
// and diagnostics; market state is only read through the Context.
type Instance struct {
	graph     *Graph
	nodes     []nodeRuntime
	behaviors []behavior
	store     *gps.Store
	diag      *diagnostics.Recorder
	gateway   *og.Gateway
	risk      *risk.Engine
	metrics   *obs.Metrics
	owners    map[uint64]int

	ctx         *Context
	err         error
	stop        string
	evaluations int
	idle        int
	runStart    string
	terminated  bool
	reason      string
}

func NewInstance(g *Graph, deps Deps) (*Instance, error) {
	if deps.Gateway == nil {
		deps.Gateway = og.NewGateway(og.GatewayConfig{Mode: og.FillImmediate})
	}
	in := &Instance{
		graph:     g,
		nodes:     make([]nodeRuntime, len(g.nodes)),
		behaviors: make([]behavior, len(g.nodes)),
		store:     gps.NewStore(),
		diag:      diagnostics.NewRecorder(g.ID, deps.Observers...),
		gateway:   deps.Gateway,
		risk:      deps.Risk,
		metrics:   deps.Metrics,
		owners:    make(map[uint64]int),
	}
	for i, n := range g.nodes {
		b, err := newBehavior(in, n)
		if err != nil {
			return nil, err
		}
		cond, err := compileConditions(n.Def.Conditions)
		if err != nil {
			return nil, err
		}
		in.behaviors[i] = b
		in.nodes[i].cond = cond
	}
	return in, nil
}

// ID returns the strategy id.
func (in *Instance) ID() string { return in.graph.ID }

// Graph returns the graph the instance runs.
func (in *Instance) Graph() *Graph { return in.graph }

// Store returns the position ledger.
func (in *Instance) Store() *gps.Store { return in.store }

// Diagnostics returns the execution log.
func (in *Instance) Diagnostics() *diagnostics.Recorder { return in.diag }

// Terminated reports whether the run has ended.
func (in *Instance) Terminated() bool { return in.terminated }

// TerminationReason returns why the run ended.
func (in *Instance) TerminationReason() string { return in.reason }

// Evaluations returns how many times Evaluate ran the graph.
func (in *Instance) Evaluations() int { return in.evaluations }

// Status returns the status of node id.
func (in *Instance) Status(id string) (schema.NodeStatus, bool) {
	idx, ok := in.graph.index[id]
	if !ok {
		return schema.NodeInactive, false
	}
	return in.nodes[idx].status, true
}

// ReEntryNum returns the re-entry number the Entry node id will open next.
func (in *Instance) ReEntryNum(id string) int {
	if idx, ok := in.graph.index[id]; ok {
		return in.nodes[idx].reEntryNum
	}
	return 0
}

// ActiveNodeIDs returns Active and Pending nodes in graph order.
func (in *Instance) ActiveNodeIDs() []string {
	var ids []string
	for i := range in.nodes {
		if in.nodes[i].status.Live() {
			ids = append(ids, in.graph.nodes[i].ID)
		}
	}
	return ids
}

// Evaluate runs the graph once at c.Time. Node action failures are recorded as
// events; the returned error is an integrity failure that should stop the run.
func (in *Instance) Evaluate(c Context) error {
	if in.terminated {
		return nil
	}
	began := time.Now()
	defer func() { in.metrics.ObserveEvaluation(time.Since(began)) }()

	c.positions = in.store
	in.ctx = &c
	in.evaluations++
	in.metrics.Inc(obs.CounterEvaluations)

	start := in.graph.start
	if in.runStart == "" {
		in.runStart = in.record(start, &c, diagnostics.EventRunStart, diagnostics.Payload{"strategy": in.graph.ID}, "")
		in.setStatus(start, schema.NodeActive)
		if in.err != nil {
			return in.err
		}
	}

	for i := range in.nodes {
		in.nodes[i].visited = false
		in.nodes[i].evaluated = false
	}
	in.applyFills(&c)
	if in.err == nil {
		in.walk(start)
	}
	if in.err != nil {
		return in.err
	}

	if in.stop != "" {
		return in.finish(&c, in.stop)
	}
	if in.evaluations > in.graph.WarmupTicks && in.allInactive() {
		in.idle++
	} else {
		in.idle = 0
	}
	if in.idle >= in.graph.GraceTicks {
		return in.finish(&c, ReasonIdle)
	}
	return nil
}

// Terminate ends the run without waiting for the graph to go idle.
func (in *Instance) Terminate(c Context, reason string) error {
	if in.terminated {
		return nil
	}
	c.positions = in.store
	if reason == "" {
		reason = ReasonStopped
	}
	if in.runStart == "" {
		in.terminated, in.reason = true, reason
		return nil
	}
	return in.finish(&c, reason)
}

// walk visits every node reachable from idx depth first, executing live nodes
// at most once per evaluation.
func (in *Instance) walk(idx int) {
	rt := &in.nodes[idx]
	if rt.visited || in.err != nil || in.stop != "" {
		return
	}
	rt.visited = true

	node := in.graph.nodes[idx]
	if rt.status.Live() && !rt.evaluated {
		rt.evaluated = true
		out := in.behaviors[idx].execute(in.ctx)
		in.setStatus(idx, out.Status)
		if out.Terminate != "" {
			in.stop = out.Terminate
			return
		}
		if out.Fired {
			if node.Kind != KindStart {
				in.metrics.Inc(obs.CounterNodeFires)
			}
			for _, child := range node.Children {
				// start only re-arms idle children so it never overrides a later cause
				if node.Kind == KindStart && in.nodes[child].status != schema.NodeInactive {
					continue
				}
				in.activate(child, out.ExecutionID)
			}
		}
	}
	for _, child := range node.Children {
		in.walk(child)
	}
}

func (in *Instance) activate(idx int, cause string) {
	rt := &in.nodes[idx]
	if rt.status == schema.NodePending {
		return
	}
	in.diag.Activate(in.graph.nodes[idx].ID, cause)
	in.setStatus(idx, schema.NodeActive)
	if !rt.evaluated {
		rt.visited = false
	}
}

func (in *Instance) setStatus(idx int, status schema.NodeStatus) {
	rt := &in.nodes[idx]
	if rt.status == status {
		return
	}
	rt.status = status
	node := in.graph.nodes[idx]
	payload := diagnostics.Payload{"kind": node.Kind.String()}
	if node.Kind == KindEntry {
		payload["re_entry_num"] = rt.reEntryNum
	}
	if rt.orderID != 0 {
		payload["order_id"] = rt.orderID
	}
	in.diag.UpdateCurrentState(node.ID, status, payload)
}

func (in *Instance) applyFills(c *Context) {
	for _, fill := range in.gateway.Poll(c.Time, c.ltp) {
		idx, ok := in.owners[fill.OrderID]
		if !ok {
			continue
		}
		delete(in.owners, fill.OrderID)
		f, ok := in.behaviors[idx].(filler)
		if !ok {
			continue
		}
		out := f.onFill(c, fill)
		in.setStatus(idx, out.Status)
		if out.Fired {
			in.metrics.Inc(obs.CounterNodeFires)
			for _, child := range in.graph.nodes[idx].Children {
				in.activate(child, out.ExecutionID)
			}
		}
		if in.err != nil {
			return
		}
	}
}

// send routes an intent to the gateway and completes it at once when the
// gateway fills immediately.
func (in *Instance) send(idx int, c *Context, intent schema.OrderIntent) Outcome {
	orderID, fill, filled, err := in.gateway.Send(intent)
	if err != nil {
		in.fail(idx, c, err.Error(), nil)
		return Outcome{Status: schema.NodeInactive}
	}
	f := in.behaviors[idx].(filler)
	if filled {
		return f.onFill(c, fill)
	}

	rt := &in.nodes[idx]
	rt.orderID = orderID
	in.owners[orderID] = idx
	rt.pendingExec = in.record(idx, c, diagnostics.EventOrderPending, diagnostics.Payload{
		"order_id": orderID,
		"symbol":   intent.Symbol,
		"side":     intent.Side.String(),
		"qty":      intent.Qty,
		"ref":      intent.RefPrice,
	}, "")
	return Outcome{Status: schema.NodePending}
}

func (in *Instance) squareOff(idx int, c *Context, reason, parent string) (string, bool) {
	records, err := in.store.SquareOff(c.Time, c.ltp, reason, in.graph.nodes[idx].ID, in.diag.NextExecutionID())
	if err != nil {
		in.fail(idx, c, err.Error(), nil)
		return "", false
	}
	closed := int64(0)
	for _, rec := range records {
		closed += rec.ClosedQty
	}
	id := in.record(idx, c, diagnostics.EventSquareOff, diagnostics.Payload{
		"positions":  len(records),
		"closed_qty": closed,
		"reason":     reason,
	}, parent)
	return id, true
}

func (in *Instance) finish(c *Context, reason string) error {
	start := in.graph.start
	if p := in.graph.nodes[start].Def.Start; reason == ReasonEndTime && p != nil && p.SquareOffOnEnd && len(in.store.OpenPositions()) > 0 {
		in.squareOff(start, c, "end_time", in.runStart)
	}
	for _, orderID := range in.gateway.CancelAll() {
		if idx, ok := in.owners[orderID]; ok {
			delete(in.owners, orderID)
			in.nodes[idx].clearOrder()
			in.setStatus(idx, schema.NodeInactive)
		}
	}
	in.record(start, c, diagnostics.EventTerminated, diagnostics.Payload{"reason": reason}, in.runStart)
	in.terminated, in.reason = true, reason
	logs.Infof("strategy %s terminated, reason: %s, evaluations: %d, positions: %d", in.graph.ID, reason, in.evaluations, in.store.Len())
	return in.err
}

func (in *Instance) allInactive() bool {
	for i := range in.nodes {
		if i != in.graph.start && in.nodes[i].status != schema.NodeInactive {
			return false
		}
	}
	return true
}

// childrenAccept reports whether any child of idx would act now.
func (in *Instance) childrenAccept(idx int, c *Context, depth int) bool {
	if depth > len(in.nodes) {
		return false
	}
	for _, child := range in.graph.nodes[idx].Children {
		if in.behaviors[child].accepts(c, depth) {
			return true
		}
	}
	return false
}

func (in *Instance) openPosition(id string) (gps.Position, bool) {
	for _, p := range in.store.OpenPositions() {
		if p.PositionID == id {
			return p, true
		}
	}
	return gps.Position{}, false
}

func (in *Instance) record(idx int, c *Context, typ diagnostics.EventType, payload diagnostics.Payload, parent string) string {
	node := in.graph.nodes[idx]
	id, err := in.diag.RecordEvent(diagnostics.Input{
		NodeID:            node.ID,
		NodeType:          node.Kind.String(),
		Type:              typ,
		Timestamp:         c.Time,
		Payload:           payload,
		ParentExecutionID: parent,
	})
	if err != nil {
		logs.Errorf("strategy %s: record %s for node %s, err: %+v", in.graph.ID, typ, node.ID, err)
		if in.err == nil {
			in.err = err
		}
		return ""
	}
	return id
}

// fail records a node action failure. The graph carries on.
func (in *Instance) fail(idx int, c *Context, msg string, extra diagnostics.Payload) {
	payload := diagnostics.Payload{"error": msg}
	for k, v := range extra {
		payload[k] = v
	}
	logs.Warnf("strategy %s: node %s action failed at %s, err: %s", in.graph.ID, in.graph.nodes[idx].ID, c.Time, msg)
	in.record(idx, c, diagnostics.EventActionFailed, payload, "")
}
