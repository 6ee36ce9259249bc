package og

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeflow/internal/schema"
	"nodeflow/pkg/exception"
)

var t0 = time.Date(2024, 1, 10, 3, 45, 0, 0, time.UTC)

func buy(qty int64, price float64) schema.OrderIntent {
	return schema.OrderIntent{NodeID: "entry", Symbol: "NIFTY24JAN21500CE", Side: schema.SideBuy, Qty: qty, RefPrice: price, Ts: t0}
}

func TestImmediateFill(t *testing.T) {
	g := NewGateway(GatewayConfig{Mode: FillImmediate})
	id, fill, ok, err := g.Send(buy(50, 100))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, schema.Fill{OrderID: 1, Symbol: "NIFTY24JAN21500CE", Side: schema.SideBuy, Qty: 50, Price: 100, Ts: t0}, fill)

	o, found := g.State().Order(id)
	require.True(t, found)
	assert.Equal(t, OrderStateFilled, o.State)
	assert.Equal(t, 0, g.Pending())
}

func TestImmediateFillWithoutPriceRejects(t *testing.T) {
	g := NewGateway(GatewayConfig{})
	id, _, ok, err := g.Send(buy(50, 0))
	require.ErrorIs(t, err, exception.ErrOrderNoPrice)
	assert.False(t, ok)
	o, _ := g.State().Order(id)
	assert.Equal(t, OrderStateRejected, o.State)
}

func TestNextTickFill(t *testing.T) {
	g := NewGateway(GatewayConfig{Mode: FillNextTick, SlippageBps: 10})
	id, _, ok, err := g.Send(buy(50, 100))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, g.Pending())

	noPrice := func(string) (float64, bool) { return 0, false }
	assert.Empty(t, g.Poll(t0.Add(time.Second), noPrice))
	assert.Equal(t, 1, g.Pending())

	price := func(string) (float64, bool) { return 200, true }
	fills := g.Poll(t0.Add(2*time.Second), price)
	require.Len(t, fills, 1)
	assert.Equal(t, id, fills[0].OrderID)
	assert.InDelta(t, 200.2, fills[0].Price, 1e-9)
	assert.Equal(t, t0.Add(2*time.Second), fills[0].Ts)
	assert.Equal(t, 0, g.Pending())
}

func TestCancel(t *testing.T) {
	g := NewGateway(GatewayConfig{Mode: FillNextTick})
	a, _, _, err := g.Send(buy(1, 10))
	require.NoError(t, err)
	b, _, _, err := g.Send(buy(1, 10))
	require.NoError(t, err)

	require.NoError(t, g.Cancel(a))
	require.ErrorIs(t, g.Cancel(a), ErrInvalidTransition)
	assert.Equal(t, []uint64{b}, g.CancelAll())
	assert.Equal(t, 0, g.Pending())
}

func TestStateMachinePartialFill(t *testing.T) {
	m := NewStateMachine()
	_, err := m.ApplyIntent(schema.OrderIntent{OrderID: 9, Symbol: "X", Side: schema.SideSell, Qty: 10})
	require.NoError(t, err)
	_, err = m.ApplyIntent(schema.OrderIntent{OrderID: 9})
	require.ErrorIs(t, err, ErrDuplicateOrder)

	o, err := m.ApplyFill(schema.Fill{OrderID: 9, Qty: 4, Price: 10})
	require.NoError(t, err)
	assert.Equal(t, OrderStatePartFilled, o.State)
	o, err = m.ApplyFill(schema.Fill{OrderID: 9, Qty: 6, Price: 20})
	require.NoError(t, err)
	assert.Equal(t, OrderStateFilled, o.State)
	assert.InDelta(t, 16, o.AvgPrice, 1e-9)

	_, err = m.ApplyFill(schema.Fill{OrderID: 9, Qty: 1, Price: 20})
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.ApplyFill(schema.Fill{OrderID: 10, Qty: 1})
	require.ErrorIs(t, err, ErrUnknownOrder)
}

func TestParseFillMode(t *testing.T) {
	m, err := ParseFillMode("next_tick")
	require.NoError(t, err)
	assert.Equal(t, FillNextTick, m)
	m, err = ParseFillMode("")
	require.NoError(t, err)
	assert.Equal(t, FillImmediate, m)
	_, err = ParseFillMode("later")
	require.ErrorIs(t, err, exception.ErrInvalidArgument)
}
