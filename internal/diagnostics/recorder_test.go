package diagnostics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeflow/internal/schema"
	"nodeflow/pkg/exception"
)

var t0 = time.Date(2024, 1, 10, 3, 45, 0, 0, time.UTC)

func TestRecordEventAssignsSequentialIDs(t *testing.T) {
	r := NewRecorder("s1")
	a, err := r.RecordEvent(Input{NodeID: "start", NodeType: "Start", Type: EventRunStart, Timestamp: t0})
	require.NoError(t, err)
	b, err := r.RecordEvent(Input{NodeID: "start", NodeType: "Start", Type: EventTerminated, Timestamp: t0})
	require.NoError(t, err)

	assert.Equal(t, "exec-000001", a)
	assert.Equal(t, "exec-000002", b)
	assert.Equal(t, uint64(2), r.LastSeq())

	ev, ok := r.Event(a)
	require.True(t, ok)
	assert.Equal(t, "s1", ev.StrategyID)
	assert.Empty(t, ev.ParentExecutionID)
}

func TestChainFollowsActivation(t *testing.T) {
	r := NewRecorder("s1")
	start, err := r.RecordEvent(Input{NodeID: "start", Type: EventRunStart, Timestamp: t0})
	require.NoError(t, err)

	r.Activate("sig", start)
	sig, err := r.RecordEvent(Input{NodeID: "sig", Type: EventSignal, Timestamp: t0.Add(time.Second)})
	require.NoError(t, err)

	r.Activate("entry", sig)
	entry, err := r.RecordEvent(Input{NodeID: "entry", Type: EventEntry, Timestamp: t0.Add(time.Second), Payload: Payload{"qty": 10}})
	require.NoError(t, err)

	chain := r.Chain(entry)
	require.Len(t, chain, 3)
	assert.Equal(t, []string{start, sig, entry}, []string{chain[0].ExecutionID, chain[1].ExecutionID, chain[2].ExecutionID})
	for i := 1; i < len(chain); i++ {
		assert.Equal(t, chain[i-1].ExecutionID, chain[i].ParentExecutionID)
		assert.False(t, chain[i-1].Timestamp.After(chain[i].Timestamp))
	}

	assert.Empty(t, r.Chain("exec-999999"))
}

func TestParentTimestampMustNotFollowChild(t *testing.T) {
	r := NewRecorder("s1")
	start, err := r.RecordEvent(Input{NodeID: "start", Type: EventRunStart, Timestamp: t0.Add(time.Minute)})
	require.NoError(t, err)

	r.Activate("sig", start)
	_, err = r.RecordEvent(Input{NodeID: "sig", Type: EventSignal, Timestamp: t0})
	require.ErrorIs(t, err, exception.ErrParentAfterChild)
	assert.Equal(t, 1, r.Len())

	r.Activate("sig", "exec-000042")
	_, err = r.RecordEvent(Input{NodeID: "sig", Type: EventSignal, Timestamp: t0.Add(time.Hour)})
	require.ErrorIs(t, err, exception.ErrUnknownParent)

	_, err = r.RecordEvent(Input{Type: EventSignal, Timestamp: t0})
	require.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func TestEventsAreImmutable(t *testing.T) {
	r := NewRecorder("s1")
	payload := Payload{"price": 100.0}
	id, err := r.RecordEvent(Input{NodeID: "n", Type: EventEntry, Timestamp: t0, Payload: payload})
	require.NoError(t, err)

	payload["price"] = 1.0
	events := r.Events()
	events[0].Payload["price"] = 2.0

	ev, ok := r.Event(id)
	require.True(t, ok)
	assert.Equal(t, 100.0, ev.Payload["price"])
}

func TestEventsSince(t *testing.T) {
	r := NewRecorder("s1")
	for i := 0; i < 5; i++ {
		_, err := r.RecordEvent(Input{NodeID: "n", Type: EventSignal, Timestamp: t0})
		require.NoError(t, err)
	}

	assert.Len(t, r.EventsSince(0), 5)
	tail := r.EventsSince(3)
	require.Len(t, tail, 2)
	assert.Equal(t, uint64(4), tail[0].Seq)
	assert.Equal(t, uint64(5), tail[1].Seq)
	assert.Empty(t, r.EventsSince(5))
	assert.Empty(t, r.EventsSince(100))
}

func TestCurrentStateProjection(t *testing.T) {
	r := NewRecorder("s1")
	r.UpdateCurrentState("entry", schema.NodeActive, Payload{"armed": true})
	r.UpdateCurrentState("entry", schema.NodePending, Payload{"orderId": 7})

	state := r.CurrentState()
	require.Len(t, state, 1)
	assert.Equal(t, schema.NodePending, state["entry"].Status)
	assert.Equal(t, 7, state["entry"].Payload["orderId"])

	r.UpdateCurrentState("entry", schema.NodeInactive, nil)
	assert.Empty(t, r.CurrentState())
}

func TestObserverFailureKeepsEvent(t *testing.T) {
	var seen []string
	r := NewRecorder("s1", ObserverFunc(func(e Event) error {
		seen = append(seen, e.ExecutionID)
		return errors.New("sink down")
	}))
	id, err := r.RecordEvent(Input{NodeID: "n", Type: EventSignal, Timestamp: t0})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, seen)
	assert.Equal(t, 1, r.Len())
}

func TestEncodeEventRoundTrip(t *testing.T) {
	ev := Event{Seq: 1, ExecutionID: "exec-000001", StrategyID: "s1", NodeID: "n", Type: EventEntry, Timestamp: t0, Payload: Payload{"qty": 10.0}}
	b, err := EncodeEvent(ev)
	require.NoError(t, err)
	got, err := DecodeEvent(b)
	require.NoError(t, err)
	assert.Equal(t, ev.ExecutionID, got.ExecutionID)
	assert.True(t, ev.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, 10.0, got.Payload["qty"])

	b, err = EncodeEvents(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))
}
