package og

import (
	"time"

	"github.com/yanun0323/errors"

	"nodeflow/internal/schema"
)

var (
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrInvalidFill       = errors.New("invalid fill quantity")
)

// OrderState tracks the lifecycle of an order.
type OrderState uint16

const (
	OrderStateUnknown OrderState = iota
	OrderStateSent
	OrderStatePartFilled
	OrderStateFilled
	OrderStateCanceled
	OrderStateRejected
)

func (s OrderState) String() string {
	switch s {
	case OrderStateSent:
		return "SENT"
	case OrderStatePartFilled:
		return "PART_FILLED"
	case OrderStateFilled:
		return "FILLED"
	case OrderStateCanceled:
		return "CANCELED"
	case OrderStateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCanceled, OrderStateRejected:
		return true
	default:
		return false
	}
}

// Order holds the gateway's view of an order.
type Order struct {
	ID        uint64
	NodeID    string
	Symbol    string
	Side      schema.Side
	Qty       int64
	LeavesQty int64
	RefPrice  float64
	AvgPrice  float64
	SentAt    time.Time
	State     OrderState
}

// StateMachine updates orders from intent and fill events.
type StateMachine struct {
	orders map[uint64]*Order
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{orders: make(map[uint64]*Order)}
}

// Order returns a copy of the current order state.
func (m *StateMachine) Order(id uint64) (Order, bool) {
	o, ok := m.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// ApplyIntent creates a new order in Sent state.
func (m *StateMachine) ApplyIntent(intent schema.OrderIntent) (*Order, error) {
	if intent.OrderID == 0 {
		return nil, ErrUnknownOrder
	}
	if _, ok := m.orders[intent.OrderID]; ok {
		return nil, ErrDuplicateOrder
	}
	o := &Order{
		ID:        intent.OrderID,
		NodeID:    intent.NodeID,
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Qty:       intent.Qty,
		LeavesQty: intent.Qty,
		RefPrice:  intent.RefPrice,
		SentAt:    intent.Ts,
		State:     OrderStateSent,
	}
	m.orders[o.ID] = o
	return o, nil
}

// ApplyFill updates an order from a fill event.
func (m *StateMachine) ApplyFill(fill schema.Fill) (*Order, error) {
	o, ok := m.orders[fill.OrderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	if o.State.Terminal() {
		return o, ErrInvalidTransition
	}
	if fill.Qty <= 0 || fill.Qty > o.LeavesQty {
		return o, ErrInvalidFill
	}
	filled := o.Qty - o.LeavesQty
	o.AvgPrice = (o.AvgPrice*float64(filled) + fill.Price*float64(fill.Qty)) / float64(filled+fill.Qty)
	o.LeavesQty -= fill.Qty
	if o.LeavesQty == 0 {
		o.State = OrderStateFilled
	} else {
		o.State = OrderStatePartFilled
	}
	return o, nil
}

// Cancel moves a live order to Canceled.
func (m *StateMachine) Cancel(id uint64) (*Order, error) {
	return m.finish(id, OrderStateCanceled)
}

// Reject moves a live order to Rejected.
func (m *StateMachine) Reject(id uint64) (*Order, error) {
	return m.finish(id, OrderStateRejected)
}

func (m *StateMachine) finish(id uint64, state OrderState) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrUnknownOrder
	}
	if o.State.Terminal() {
		return o, ErrInvalidTransition
	}
	o.State = state
	return o, nil
}
