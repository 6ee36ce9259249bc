package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeflow/internal/gps"
	"nodeflow/internal/indicator"
	"nodeflow/internal/schema"
	"nodeflow/pkg/exception"
)

func compile(t *testing.T, spec ConditionSpec) condition {
	t.Helper()
	c, err := compileCondition(spec)
	require.NoError(t, err)
	return c
}

func candleOp(offset int) *OperandSpec {
	return &OperandSpec{Kind: OperandCandle, Symbol: "NIFTY", Timeframe: schema.Timeframe1m, Field: schema.FieldClose, Offset: offset}
}

func constOp(v float64) *OperandSpec {
	return &OperandSpec{Kind: OperandConstant, Value: v}
}

func TestIndeterminateOffsetEvaluatesFalse(t *testing.T) {
	m := newFakeMarket()
	m.addCompleted("NIFTY", schema.Timeframe1m, 100)
	m.ltp["OPT"] = 150
	ctx := &Context{Time: t0, Market: m}

	missing := compile(t, ConditionSpec{Left: candleOp(-2), Op: ">", Right: constOp(0)})
	assert.Equal(t, Indeterminate, missing.eval(ctx))
	assert.False(t, missing.eval(ctx).Met())

	sibling := compile(t, ConditionSpec{Any: []ConditionSpec{
		{Left: candleOp(-2), Op: ">", Right: constOp(0)},
		{Left: &OperandSpec{Kind: OperandLTP, Symbol: "OPT"}, Op: ">", Right: constOp(100)},
	}})
	assert.Equal(t, True, sibling.eval(ctx))

	all := compile(t, ConditionSpec{All: []ConditionSpec{
		{Left: candleOp(-1), Op: "==", Right: constOp(100)},
		{Left: candleOp(-2), Op: ">", Right: constOp(0)},
	}})
	assert.Equal(t, Indeterminate, all.eval(ctx))

	allFalse := compile(t, ConditionSpec{All: []ConditionSpec{
		{Left: candleOp(-1), Op: "<", Right: constOp(50)},
		{Left: candleOp(-2), Op: ">", Right: constOp(0)},
	}})
	assert.Equal(t, False, allFalse.eval(ctx))
}

func TestComparators(t *testing.T) {
	ctx := &Context{Time: t0}
	cases := []struct {
		op   string
		l, r float64
		want Result
	}{
		{">", 2, 1, True},
		{">", 1, 1, False},
		{">=", 1, 1, True},
		{"<", 1, 2, True},
		{"<=", 3, 2, False},
		{"==", 0.1 + 0.2, 0.3, True},
		{"!=", 1, 1, False},
	}
	for _, tc := range cases {
		c := compile(t, ConditionSpec{Left: constOp(tc.l), Op: tc.op, Right: constOp(tc.r)})
		assert.Equal(t, tc.want, c.eval(ctx), "%v %s %v", tc.l, tc.op, tc.r)
	}
}

func TestCrossesAboveWithIndicators(t *testing.T) {
	m := newFakeMarket()
	m.addCompleted("NIFTY", schema.Timeframe5m, 100, 101, 102)
	key := seriesKey{symbol: "NIFTY", tf: schema.Timeframe5m}
	fast := []float64{9, 10, 12}
	slow := []float64{11, 11, 11}
	for i := range m.completed[key] {
		m.completed[key][i].Indicators = map[string]float64{"EMA(9)": fast[i], "EMA(21)": slow[i]}
	}
	ind := func(period int) *OperandSpec {
		return &OperandSpec{Kind: OperandIndicator, Symbol: "NIFTY", Timeframe: schema.Timeframe5m, Indicator: &indicator.Spec{Name: "EMA", Period: period}, Offset: -1}
	}
	ctx := &Context{Time: t0, Market: m}

	above := compile(t, ConditionSpec{Left: ind(9), Op: "crosses_above", Right: ind(21)})
	assert.Equal(t, True, above.eval(ctx))
	below := compile(t, ConditionSpec{Left: ind(9), Op: "crosses_below", Right: ind(21)})
	assert.Equal(t, False, below.eval(ctx))

	// offset 0 is the forming candle, which carries no indicator values yet
	forming := ind(9)
	forming.Offset = 0
	m.forming[key] = schema.Candle{Symbol: "NIFTY", Timeframe: schema.Timeframe5m, Close: 103}
	c := compile(t, ConditionSpec{Left: forming, Op: ">", Right: constOp(0)})
	assert.Equal(t, Indeterminate, c.eval(ctx))
}

func TestCrossesAboveLTPUsesPreviousEvaluation(t *testing.T) {
	m := newFakeMarket()
	ctx := &Context{Time: t0, Market: m}
	c := compile(t, ConditionSpec{Left: &OperandSpec{Kind: OperandLTP, Symbol: "OPT"}, Op: "crosses_above", Right: constOp(100)})

	m.ltp["OPT"] = 99
	assert.Equal(t, Indeterminate, c.eval(ctx))
	m.ltp["OPT"] = 101
	assert.Equal(t, True, c.eval(ctx))
	m.ltp["OPT"] = 102
	assert.Equal(t, False, c.eval(ctx))
}

func TestScaleAndTimeOfDay(t *testing.T) {
	m := newFakeMarket()
	m.ltp["OPT"] = 200
	ctx := &Context{Time: time.Date(2024, 1, 10, 9, 45, 0, 0, time.UTC), Location: time.UTC, Market: m}

	scaled := compile(t, ConditionSpec{
		Left:  &OperandSpec{Kind: OperandLTP, Symbol: "OPT", Scale: 0.5},
		Op:    "==",
		Right: constOp(100),
	})
	assert.Equal(t, True, scaled.eval(ctx))

	afterOpen := compile(t, ConditionSpec{
		Left:  &OperandSpec{Kind: OperandTimeOfDay},
		Op:    ">=",
		Right: &OperandSpec{Kind: OperandConstant, Time: "09:30"},
	})
	assert.Equal(t, True, afterOpen.eval(ctx))

	ctx.Location = time.FixedZone("IST", 5*3600+1800)
	assert.Equal(t, True, afterOpen.eval(ctx))
	beforeClose := compile(t, ConditionSpec{
		Left:  &OperandSpec{Kind: OperandTimeOfDay},
		Op:    "<",
		Right: &OperandSpec{Kind: OperandConstant, Time: "15:20:00"},
	})
	assert.Equal(t, True, beforeClose.eval(ctx))
}

func TestPositionOperand(t *testing.T) {
	store := gps.NewStore()
	m := newFakeMarket()
	ctx := &Context{Time: t0, Market: m, positions: store}
	pnl := compile(t, ConditionSpec{
		Left:  &OperandSpec{Kind: OperandPosition, PositionID: "p1", Field: PositionUnrealizedPnL},
		Op:    ">=",
		Right: constOp(50),
	})
	assert.Equal(t, Indeterminate, pnl.eval(ctx))

	_, err := store.AddPosition("p1", 0, gps.Entry{Symbol: "OPT", Side: schema.SideBuy, Qty: 10, Price: 100, Time: t0})
	require.NoError(t, err)
	assert.Equal(t, Indeterminate, pnl.eval(ctx))

	m.ltp["OPT"] = 105
	assert.Equal(t, True, pnl.eval(ctx))

	qty := compile(t, ConditionSpec{
		Left:  &OperandSpec{Kind: OperandPosition, PositionID: "p1", Field: PositionRemainingQty},
		Op:    "==",
		Right: constOp(10),
	})
	assert.Equal(t, True, qty.eval(ctx))
}

func TestCompileRejects(t *testing.T) {
	bad := []ConditionSpec{
		{Left: constOp(1), Op: ">"},
		{Left: constOp(1), Op: "~", Right: constOp(1)},
		{All: []ConditionSpec{{Left: constOp(1), Op: ">", Right: constOp(0)}}, Any: []ConditionSpec{{Left: constOp(1), Op: ">", Right: constOp(0)}}},
		{Left: &OperandSpec{Kind: "vwap"}, Op: ">", Right: constOp(1)},
		{Left: candleOp(1), Op: ">", Right: constOp(1)},
		{Left: &OperandSpec{Kind: OperandCandle, Symbol: "N", Timeframe: schema.Timeframe1m, Field: "oi"}, Op: ">", Right: constOp(1)},
		{Left: &OperandSpec{Kind: OperandIndicator, Symbol: "N", Timeframe: schema.Timeframe1m, Indicator: &indicator.Spec{Name: "KAMA"}}, Op: ">", Right: constOp(1)},
		{Left: &OperandSpec{Kind: OperandPosition, PositionID: "p", Field: "delta"}, Op: ">", Right: constOp(1)},
		{},
	}
	for i, spec := range bad {
		_, err := compileCondition(spec)
		assert.ErrorIs(t, err, exception.ErrInvalidCondition, "case %d", i)
	}
}
