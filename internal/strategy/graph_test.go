package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeflow/internal/schema"
	"nodeflow/pkg/exception"
)

func TestLoadBuildsArena(t *testing.T) {
	g := mustLoad(t, reEntryGraph)
	assert.Equal(t, "s1", g.ID)
	assert.Equal(t, 6, g.Len())
	assert.Equal(t, 2, g.GraceTicks)

	start := g.Node(g.Start())
	assert.Equal(t, KindStart, start.Kind)

	re, ok := g.Lookup("re")
	require.True(t, ok)
	es, _ := g.Lookup("es")
	en, _ := g.Lookup("en")
	assert.Equal(t, []int{es}, g.Node(re).Children)
	assert.Equal(t, en, g.Node(re).Target)

	ex, _ := g.Lookup("ex")
	assert.Equal(t, en, g.Node(ex).Target)
	assert.Equal(t, schema.SideBuy, g.Node(en).Def.Entry.Side)
}

func TestLoadRejectsInvalidGraphs(t *testing.T) {
	cases := map[string]Definition{
		"no id":    {Nodes: []NodeDefinition{{ID: "start", Type: "start"}}},
		"no start": {ID: "s", Nodes: []NodeDefinition{{ID: "es", Type: "entry_signal"}}},
		"two starts": {ID: "s", Nodes: []NodeDefinition{
			{ID: "a", Type: "start"}, {ID: "b", Type: "start"},
		}},
		"duplicate id": {ID: "s", Nodes: []NodeDefinition{
			{ID: "start", Type: "start"}, {ID: "start", Type: "entry_signal"},
		}},
		"unknown child": {ID: "s", Nodes: []NodeDefinition{
			{ID: "start", Type: "start", Children: []string{"ghost"}},
		}},
		"start as child": {ID: "s", Nodes: []NodeDefinition{
			{ID: "start", Type: "start", Children: []string{"es"}},
			{ID: "es", Type: "entry_signal", Children: []string{"start"}},
		}},
		"entry without params": {ID: "s", Nodes: []NodeDefinition{
			{ID: "start", Type: "start"}, {ID: "en", Type: "entry"},
		}},
		"exit unknown position": {ID: "s", Nodes: []NodeDefinition{
			{ID: "start", Type: "start"}, {ID: "ex", Type: "exit", Exit: &ExitParams{PositionID: "p9"}},
		}},
		"re-entry target not entry": {ID: "s", Nodes: []NodeDefinition{
			{ID: "start", Type: "start"}, {ID: "re", Type: "re_entry_signal", ReEntry: &ReEntryParams{Entry: "start", Max: 1}},
		}},
		"shared position": {ID: "s", Nodes: []NodeDefinition{
			{ID: "start", Type: "start"},
			{ID: "a", Type: "entry", Entry: &EntryParams{PositionID: "p", Symbol: "X", Side: schema.SideBuy, Qty: 1}},
			{ID: "b", Type: "entry", Entry: &EntryParams{PositionID: "p", Symbol: "X", Side: schema.SideBuy, Qty: 1}},
		}},
		"conditions on entry": {ID: "s", Nodes: []NodeDefinition{
			{ID: "start", Type: "start"},
			{ID: "a", Type: "entry", Entry: &EntryParams{PositionID: "p", Symbol: "X", Side: schema.SideBuy, Qty: 1},
				Conditions: []ConditionSpec{{Left: &OperandSpec{Kind: "constant"}, Op: ">", Right: &OperandSpec{Kind: "constant"}}}},
		}},
	}
	for name, def := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(def)
			require.ErrorIs(t, err, exception.ErrInvalidGraph)
		})
	}
}

func TestLoadRejectsUnknownKindAndCondition(t *testing.T) {
	_, err := Load(Definition{ID: "s", Nodes: []NodeDefinition{{ID: "start", Type: "begin"}}})
	require.ErrorIs(t, err, exception.ErrUnknownNodeType)

	_, err = Load(Definition{ID: "s", Nodes: []NodeDefinition{
		{ID: "start", Type: "start", Children: []string{"es"}},
		{ID: "es", Type: "entry_signal", Conditions: []ConditionSpec{
			{Left: &OperandSpec{Kind: "ltp", Symbol: "X"}, Op: "=>", Right: &OperandSpec{Kind: "constant"}},
		}},
	}})
	require.ErrorIs(t, err, exception.ErrInvalidCondition)

	_, err = Load(Definition{ID: "s", Nodes: []NodeDefinition{
		{ID: "start", Type: "start", Start: &StartParams{EndTime: "25:99"}},
	}})
	require.ErrorIs(t, err, exception.ErrInvalidCondition)
}

func TestRequirements(t *testing.T) {
	g := mustLoad(t, `{
	  "id": "s",
	  "nodes": [
	    {"id": "start", "type": "start", "children": ["es"]},
	    {"id": "es", "type": "entry_signal", "conditions": [
	      {"any": [
	        {"left": {"kind": "indicator", "symbol": "NIFTY", "timeframe": "5m", "indicator": {"name": "EMA", "period": 9}, "offset": -1},
	         "op": "crosses_above",
	         "right": {"kind": "indicator", "symbol": "NIFTY", "timeframe": "5m", "indicator": {"name": "ema", "period": 21}, "offset": -1}},
	        {"left": {"kind": "candle", "symbol": "BANKNIFTY", "timeframe": "1m", "field": "close", "offset": -1},
	         "op": ">", "right": {"kind": "indicator", "symbol": "NIFTY", "timeframe": "5m", "indicator": {"name": "EMA", "period": 9}}}
	      ]}
	    ]}
	  ]
	}`)
	reqs := g.Requirements()
	require.Len(t, reqs, 2)
	assert.Equal(t, "BANKNIFTY", reqs[0].Symbol)
	assert.Equal(t, schema.Timeframe1m, reqs[0].Timeframe)
	assert.Empty(t, reqs[0].Indicators)
	assert.Equal(t, "NIFTY", reqs[1].Symbol)
	assert.Equal(t, schema.Timeframe5m, reqs[1].Timeframe)
	require.Len(t, reqs[1].Indicators, 2)
	assert.Equal(t, 9, reqs[1].Indicators[0].Period)
	assert.Equal(t, 21, reqs[1].Indicators[1].Period)
}

func TestParseKind(t *testing.T) {
	for name, kind := range kindNames {
		got, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, kind, got)
		assert.NotEqual(t, "Unknown", kind.String())
	}
	assert.True(t, KindReEntrySignal.Signal())
	assert.True(t, KindSquareOff.OneShot())
	assert.False(t, KindStart.Signal())
}
