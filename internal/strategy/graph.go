package strategy

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"nodeflow/internal/indicator"
	"nodeflow/internal/schema"
	"nodeflow/pkg/exception"
)

const defaultGraceTicks = 3

// Node is one arena entry. Edges are indexes into the graph's node slice, so
// re-entry cycles never form pointer cycles.
type Node struct {
	Index    int
	ID       string
	Kind     Kind
	Children []int
	Def      NodeDefinition
	// Target is the Entry node an Exit or ReEntrySignal refers to, -1 otherwise.
	Target int
	// EndAt is the Start end time of day; zero means no end time.
	EndAt time.Duration
}

// Requirement is a candle series a graph reads, with the indicators it needs.
type Requirement struct {
	Symbol     string
	Timeframe  schema.Timeframe
	Indicators []indicator.Spec
}

// Graph is a validated, immutable strategy graph. Instances share it.
type Graph struct {
	ID          string
	WarmupTicks int
	GraceTicks  int

	start        int
	nodes        []Node
	index        map[string]int
	requirements []Requirement
}

// Load validates def and builds the node arena.
func Load(def Definition) (*Graph, error) {
	if def.ID == "" {
		return nil, fmt.Errorf("%w: strategy id is empty", exception.ErrInvalidGraph)
	}
	if def.WarmupTicks < 0 || def.GraceTicks < 0 {
		return nil, fmt.Errorf("%w: %s warmup/grace ticks must be >= 0", exception.ErrInvalidGraph, def.ID)
	}
	g := &Graph{
		ID:          def.ID,
		WarmupTicks: def.WarmupTicks,
		GraceTicks:  def.GraceTicks,
		start:       -1,
		nodes:       make([]Node, 0, len(def.Nodes)),
		index:       make(map[string]int, len(def.Nodes)),
	}
	if g.GraceTicks == 0 {
		g.GraceTicks = defaultGraceTicks
	}

	for i, nd := range def.Nodes {
		if nd.ID == "" {
			return nil, fmt.Errorf("%w: %s node %d has no id", exception.ErrInvalidGraph, def.ID, i)
		}
		if _, dup := g.index[nd.ID]; dup {
			return nil, fmt.Errorf("%w: %s duplicate node id %q", exception.ErrInvalidGraph, def.ID, nd.ID)
		}
		kind, err := ParseKind(nd.Type)
		if err != nil {
			return nil, fmt.Errorf("%s node %s: %w", def.ID, nd.ID, err)
		}
		if kind == KindStart {
			if g.start >= 0 {
				return nil, fmt.Errorf("%w: %s has more than one start node", exception.ErrInvalidGraph, def.ID)
			}
			g.start = i
		}
		g.index[nd.ID] = i
		g.nodes = append(g.nodes, Node{Index: i, ID: nd.ID, Kind: kind, Def: nd, Target: -1})
	}
	if g.start < 0 {
		return nil, fmt.Errorf("%w: %s has no start node", exception.ErrInvalidGraph, def.ID)
	}

	positions := make(map[string]int)
	for i := range g.nodes {
		n := &g.nodes[i]
		for _, child := range n.Def.Children {
			idx, ok := g.index[child]
			if !ok {
				return nil, fmt.Errorf("%w: %s node %s has unknown child %q", exception.ErrInvalidGraph, def.ID, n.ID, child)
			}
			if idx == i || idx == g.start {
				return nil, fmt.Errorf("%w: %s node %s cannot have child %q", exception.ErrInvalidGraph, def.ID, n.ID, child)
			}
			if slices.Contains(n.Children, idx) {
				return nil, fmt.Errorf("%w: %s node %s lists child %q twice", exception.ErrInvalidGraph, def.ID, n.ID, child)
			}
			n.Children = append(n.Children, idx)
		}
		if n.Kind == KindEntry {
			if err := validateEntry(n); err != nil {
				return nil, fmt.Errorf("%s: %w", def.ID, err)
			}
			if prev, dup := positions[n.Def.Entry.PositionID]; dup {
				return nil, fmt.Errorf("%w: %s entries %s and %s share position %q", exception.ErrInvalidGraph,
					def.ID, g.nodes[prev].ID, n.ID, n.Def.Entry.PositionID)
			}
			positions[n.Def.Entry.PositionID] = i
		}
	}

	for i := range g.nodes {
		n := &g.nodes[i]
		if err := g.resolve(n, positions); err != nil {
			return nil, fmt.Errorf("%s: %w", def.ID, err)
		}
		if len(n.Def.Conditions) > 0 && !n.Kind.Signal() {
			return nil, fmt.Errorf("%w: %s node %s of kind %s cannot have conditions", exception.ErrInvalidGraph, def.ID, n.ID, n.Kind)
		}
		if _, err := compileConditions(n.Def.Conditions); err != nil {
			return nil, fmt.Errorf("%s node %s: %w", def.ID, n.ID, err)
		}
	}

	g.requirements = collectRequirements(g.nodes)
	return g, nil
}

func validateEntry(n *Node) error {
	p := n.Def.Entry
	switch {
	case p == nil:
		return fmt.Errorf("%w: entry %s has no entry params", exception.ErrInvalidGraph, n.ID)
	case p.PositionID == "" || p.Symbol == "":
		return fmt.Errorf("%w: entry %s needs position_id and symbol", exception.ErrInvalidGraph, n.ID)
	case p.Side != schema.SideBuy && p.Side != schema.SideSell:
		return fmt.Errorf("%w: entry %s has invalid side", exception.ErrInvalidGraph, n.ID)
	case p.Qty <= 0:
		return fmt.Errorf("%w: entry %s qty must be > 0", exception.ErrInvalidGraph, n.ID)
	}
	return nil
}

func (g *Graph) resolve(n *Node, positions map[string]int) error {
	switch n.Kind {
	case KindStart:
		if p := n.Def.Start; p != nil && p.EndTime != "" {
			end, err := parseClock(p.EndTime)
			if err != nil {
				return fmt.Errorf("start %s: %w", n.ID, err)
			}
			n.EndAt = end
		}
	case KindExit:
		p := n.Def.Exit
		if p == nil || p.PositionID == "" {
			return fmt.Errorf("%w: exit %s needs position_id", exception.ErrInvalidGraph, n.ID)
		}
		target, ok := positions[p.PositionID]
		if !ok {
			return fmt.Errorf("%w: exit %s refers to unknown position %q", exception.ErrInvalidGraph, n.ID, p.PositionID)
		}
		if p.Qty < 0 {
			return fmt.Errorf("%w: exit %s qty must be >= 0", exception.ErrInvalidGraph, n.ID)
		}
		n.Target = target
	case KindReEntrySignal:
		p := n.Def.ReEntry
		if p == nil || p.Entry == "" {
			return fmt.Errorf("%w: re-entry %s needs an entry", exception.ErrInvalidGraph, n.ID)
		}
		target, ok := g.index[p.Entry]
		if !ok || g.nodes[target].Kind != KindEntry {
			return fmt.Errorf("%w: re-entry %s refers to %q which is not an entry", exception.ErrInvalidGraph, n.ID, p.Entry)
		}
		if p.Max <= 0 {
			return fmt.Errorf("%w: re-entry %s max must be > 0", exception.ErrInvalidGraph, n.ID)
		}
		n.Target = target
	case KindEntrySignal, KindEntry, KindExitSignal, KindSquareOff:
	default:
		return fmt.Errorf("%w: %s", exception.ErrUnknownNodeType, n.Kind)
	}
	return nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the node at index i.
func (g *Graph) Node(i int) Node {
	return g.nodes[i]
}

// Lookup returns the index of the node with id.
func (g *Graph) Lookup(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Start returns the index of the start node.
func (g *Graph) Start() int {
	return g.start
}

// Requirements returns the candle series and indicators the graph reads,
// sorted by symbol then timeframe.
func (g *Graph) Requirements() []Requirement {
	out := make([]Requirement, len(g.requirements))
	for i, r := range g.requirements {
		out[i] = Requirement{Symbol: r.Symbol, Timeframe: r.Timeframe, Indicators: slices.Clone(r.Indicators)}
	}
	return out
}

func collectRequirements(nodes []Node) []Requirement {
	type seriesKey struct {
		symbol string
		tf     schema.Timeframe
	}
	reqs := make(map[seriesKey]*Requirement)
	seen := make(map[seriesKey]map[string]bool)

	var visitOperand func(op *OperandSpec)
	visitOperand = func(op *OperandSpec) {
		if op == nil {
			return
		}
		kind := strings.ToLower(op.Kind)
		if kind != OperandCandle && kind != OperandIndicator {
			return
		}
		k := seriesKey{symbol: op.Symbol, tf: op.Timeframe}
		r, ok := reqs[k]
		if !ok {
			r = &Requirement{Symbol: op.Symbol, Timeframe: op.Timeframe}
			reqs[k] = r
			seen[k] = make(map[string]bool)
		}
		if kind != OperandIndicator || op.Indicator == nil {
			return
		}
		key, err := indicator.KeyOf(*op.Indicator)
		if err != nil || seen[k][key] {
			return
		}
		seen[k][key] = true
		r.Indicators = append(r.Indicators, *op.Indicator)
	}
	var visit func(c *ConditionSpec)
	visit = func(c *ConditionSpec) {
		for i := range c.All {
			visit(&c.All[i])
		}
		for i := range c.Any {
			visit(&c.Any[i])
		}
		visitOperand(c.Left)
		visitOperand(c.Right)
	}
	for i := range nodes {
		for j := range nodes[i].Def.Conditions {
			visit(&nodes[i].Def.Conditions[j])
		}
	}

	out := make([]Requirement, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Timeframe < out[j].Timeframe
	})
	return out
}
