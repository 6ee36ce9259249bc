package og

import (
	"fmt"
	"strings"
	"time"

	"nodeflow/internal/obs"
	"nodeflow/internal/schema"
	"nodeflow/pkg/exception"
)

// FillMode selects when the simulated venue fills an order.
type FillMode uint8

const (
	// FillImmediate fills at the reference price inside Send.
	FillImmediate FillMode = iota
	// FillNextTick leaves the order pending until the next Poll, which fills it at
	// the LTP seen then.
	FillNextTick
)

// ParseFillMode parses "immediate" or "next_tick"; empty means immediate.
func ParseFillMode(s string) (FillMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "immediate":
		return FillImmediate, nil
	case "next_tick":
		return FillNextTick, nil
	default:
		return 0, fmt.Errorf("%w: fill mode %q", exception.ErrInvalidArgument, s)
	}
}

func (m FillMode) String() string {
	switch m {
	case FillNextTick:
		return "next_tick"
	default:
		return "immediate"
	}
}

// GatewayConfig controls the simulated gateway.
type GatewayConfig struct {
	Mode        FillMode
	SlippageBps float64
}

// Gateway is a simulated order venue. It never routes to a broker. Not safe
// for concurrent use; each strategy owns one.
type Gateway struct {
	cfg     GatewayConfig
	state   *StateMachine
	ids     *obs.Sequence
	pending []uint64
}

// NewGateway creates a new simulated gateway.
func NewGateway(cfg GatewayConfig) *Gateway {
	return &Gateway{
		cfg:   cfg,
		state: NewStateMachine(),
		ids:   obs.NewSequence(0),
	}
}

// Mode returns the configured fill mode.
func (g *Gateway) Mode() FillMode {
	return g.cfg.Mode
}

// State returns the underlying order state machine.
func (g *Gateway) State() *StateMachine {
	return g.state
}

// Send registers an intent, assigning an order id when it has none. In
// immediate mode the returned fill is valid when ok is true.
func (g *Gateway) Send(intent schema.OrderIntent) (order uint64, fill schema.Fill, ok bool, err error) {
	if intent.OrderID == 0 {
		intent.OrderID = g.ids.Next()
	}
	if intent.Qty <= 0 || intent.Symbol == "" {
		return 0, schema.Fill{}, false, fmt.Errorf("%w: order %d qty %d symbol %q", exception.ErrOrderInvalidRequest, intent.OrderID, intent.Qty, intent.Symbol)
	}
	if _, err := g.state.ApplyIntent(intent); err != nil {
		return 0, schema.Fill{}, false, err
	}

	if g.cfg.Mode == FillNextTick {
		g.pending = append(g.pending, intent.OrderID)
		return intent.OrderID, schema.Fill{}, false, nil
	}

	if intent.RefPrice <= 0 {
		_, _ = g.state.Reject(intent.OrderID)
		return intent.OrderID, schema.Fill{}, false, fmt.Errorf("%w: order %d", exception.ErrOrderNoPrice, intent.OrderID)
	}
	fill, err = g.fill(intent.OrderID, intent.RefPrice, intent.Ts)
	if err != nil {
		return intent.OrderID, schema.Fill{}, false, err
	}
	return intent.OrderID, fill, true, nil
}

// Poll fills pending orders, oldest first, at priceOf(symbol). Orders whose
// symbol has no price stay pending.
func (g *Gateway) Poll(ts time.Time, priceOf func(symbol string) (float64, bool)) []schema.Fill {
	if len(g.pending) == 0 {
		return nil
	}
	var fills []schema.Fill
	rest := g.pending[:0]
	for _, id := range g.pending {
		o, ok := g.state.Order(id)
		if !ok || o.State.Terminal() {
			continue
		}
		price, ok := priceOf(o.Symbol)
		if !ok || price <= 0 {
			rest = append(rest, id)
			continue
		}
		fill, err := g.fill(id, price, ts)
		if err != nil {
			continue
		}
		fills = append(fills, fill)
	}
	g.pending = rest
	return fills
}

// Cancel cancels a pending order.
func (g *Gateway) Cancel(id uint64) error {
	if _, err := g.state.Cancel(id); err != nil {
		return err
	}
	for i, p := range g.pending {
		if p == id {
			g.pending = append(g.pending[:i], g.pending[i+1:]...)
			break
		}
	}
	return nil
}

// CancelAll cancels every pending order and returns their ids.
func (g *Gateway) CancelAll() []uint64 {
	ids := g.pending
	g.pending = nil
	for _, id := range ids {
		_, _ = g.state.Cancel(id)
	}
	return ids
}

// Pending returns the number of orders waiting for a fill.
func (g *Gateway) Pending() int {
	return len(g.pending)
}

func (g *Gateway) fill(id uint64, price float64, ts time.Time) (schema.Fill, error) {
	o, ok := g.state.Order(id)
	if !ok {
		return schema.Fill{}, ErrUnknownOrder
	}
	fill := schema.Fill{
		OrderID: id,
		Symbol:  o.Symbol,
		Side:    o.Side,
		Qty:     o.LeavesQty,
		Price:   g.slip(o.Side, price),
		Ts:      ts,
	}
	if _, err := g.state.ApplyFill(fill); err != nil {
		return schema.Fill{}, err
	}
	return fill, nil
}

func (g *Gateway) slip(side schema.Side, price float64) float64 {
	if g.cfg.SlippageBps <= 0 {
		return price
	}
	adj := price * g.cfg.SlippageBps / 10_000
	if side == schema.SideSell {
		return price - adj
	}
	return price + adj
}
