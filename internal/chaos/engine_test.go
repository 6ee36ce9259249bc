package chaos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeflow/internal/schema"
)

func ticks(n int) []schema.Tick {
	base := time.Date(2024, 1, 10, 9, 15, 0, 0, time.UTC)
	out := make([]schema.Tick, n)
	for i := range out {
		out[i] = schema.Tick{Symbol: "NIFTY", Timestamp: base.Add(time.Duration(i) * time.Second), LTP: float64(100 + i)}
	}
	return out
}

func TestEnginePassThrough(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1})
	require.NoError(t, err)
	in := ticks(10)
	assert.Equal(t, in, e.Ticks(in))
	assert.Equal(t, Stats{In: 10, Out: 10}, e.Stats())
}

func TestEngineIsDeterministicPerSeed(t *testing.T) {
	cfg := Config{Seed: 42, DropRate: 0.2, DuplicateRate: 0.2, ReorderWindow: 4}
	a, err := NewEngine(cfg)
	require.NoError(t, err)
	b, err := NewEngine(cfg)
	require.NoError(t, err)

	in := ticks(200)
	outA, outB := a.Ticks(in), b.Ticks(in)
	assert.Equal(t, outA, outB)

	st := a.Stats()
	assert.Equal(t, 200, st.In)
	assert.Positive(t, st.Dropped)
	assert.Positive(t, st.Duplicated)
	assert.Equal(t, st.In-st.Dropped+st.Duplicated, st.Out)
	assert.Len(t, outA, st.Out)
}

func TestEngineDelayOnlyTouchesReceiveTime(t *testing.T) {
	e, err := NewEngine(Config{Seed: 7, MaxDelay: time.Second})
	require.NoError(t, err)
	h := schema.NewHeader(schema.EventTick, 0, 1, 1_000, 1_000)
	out := e.Process(Event{Header: h, Tick: ticks(1)[0]})
	require.Len(t, out, 1)
	assert.Equal(t, int64(1_000), out[0].Header.TsEvent)
	assert.GreaterOrEqual(t, out[0].Header.TsRecv, int64(1_000))
}

func TestConfigValidate(t *testing.T) {
	_, err := NewEngine(Config{DropRate: 2})
	require.Error(t, err)
	_, err = NewEngine(Config{MaxDelay: -1})
	require.Error(t, err)
}
