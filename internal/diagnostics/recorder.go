package diagnostics

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/yanun0323/logs"

	"nodeflow/internal/obs"
	"nodeflow/internal/schema"
	"nodeflow/pkg/exception"
)

// Observer is notified after every recorded event. An observer error is
// logged and never undoes the recorded event.
type Observer interface {
	OnEvent(Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event) error

func (f ObserverFunc) OnEvent(e Event) error { return f(e) }

// Recorder is the append-only execution log of one strategy instance.
type Recorder struct {
	mtx        sync.RWMutex
	strategyID string
	seq        *obs.Sequence
	events     []Event
	index      map[string]int
	causes     map[string]string
	current    map[string]NodeState
	observers  []Observer
}

func NewRecorder(strategyID string, observers ...Observer) *Recorder {
	return &Recorder{
		strategyID: strategyID,
		seq:        obs.NewSequence(0),
		index:      make(map[string]int),
		causes:     make(map[string]string),
		current:    make(map[string]NodeState),
		observers:  slices.Clone(observers),
	}
}

// StrategyID returns the owning strategy id.
func (r *Recorder) StrategyID() string {
	return r.strategyID
}

// AddObserver registers an observer for subsequent events.
func (r *Recorder) AddObserver(o Observer) {
	if o == nil {
		return
	}
	r.mtx.Lock()
	r.observers = append(r.observers, o)
	r.mtx.Unlock()
}

// Activate remembers which execution activated nodeID. The next event of that
// node is recorded as its child.
func (r *Recorder) Activate(nodeID, causeExecutionID string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if causeExecutionID == "" {
		delete(r.causes, nodeID)
		return
	}
	r.causes[nodeID] = causeExecutionID
}

// Cause returns the execution that last activated nodeID.
func (r *Recorder) Cause(nodeID string) (string, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	id, ok := r.causes[nodeID]
	return id, ok
}

// RecordEvent appends an event and returns its execution id.
func (r *Recorder) RecordEvent(in Input) (string, error) {
	if in.NodeID == "" {
		return "", fmt.Errorf("%w: event without node id", exception.ErrInvalidArgument)
	}

	r.mtx.Lock()
	parent := in.ParentExecutionID
	if parent == "" {
		parent = r.causes[in.NodeID]
	}
	if parent != "" {
		idx, ok := r.index[parent]
		if !ok {
			r.mtx.Unlock()
			return "", fmt.Errorf("%w: %s for node %s", exception.ErrUnknownParent, parent, in.NodeID)
		}
		if r.events[idx].Timestamp.After(in.Timestamp) {
			r.mtx.Unlock()
			return "", fmt.Errorf("%w: %s at %s, node %s at %s", exception.ErrParentAfterChild,
				parent, r.events[idx].Timestamp, in.NodeID, in.Timestamp)
		}
	}

	seq := r.seq.Next()
	ev := Event{
		Seq:               seq,
		ExecutionID:       ExecutionID(seq),
		ParentExecutionID: parent,
		StrategyID:        r.strategyID,
		NodeID:            in.NodeID,
		NodeType:          in.NodeType,
		Type:              in.Type,
		Timestamp:         in.Timestamp,
		Payload:           maps.Clone(in.Payload),
	}
	r.index[ev.ExecutionID] = len(r.events)
	r.events = append(r.events, ev)
	observers := r.observers
	r.mtx.Unlock()

	for _, o := range observers {
		if err := o.OnEvent(ev.clone()); err != nil {
			logs.Errorf("diagnostics: observer failed on %s (strategy %s), err: %+v", ev.ExecutionID, r.strategyID, err)
		}
	}
	return ev.ExecutionID, nil
}

// ExecutionID formats the id of the event with the given sequence number.
func ExecutionID(seq uint64) string {
	return fmt.Sprintf("exec-%06d", seq)
}

// NextExecutionID returns the id the next RecordEvent will assign. It is only
// meaningful to the single goroutine driving the recorder.
func (r *Recorder) NextExecutionID() string {
	return ExecutionID(r.seq.Current() + 1)
}

// UpdateCurrentState replaces the projection of nodeID. Inactive nodes are removed.
func (r *Recorder) UpdateCurrentState(nodeID string, status schema.NodeStatus, payload Payload) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if status == schema.NodeInactive {
		delete(r.current, nodeID)
		return
	}
	r.current[nodeID] = NodeState{
		NodeID:    nodeID,
		Status:    status,
		Payload:   maps.Clone(payload),
		UpdatedAt: r.seq.Current(),
	}
}

// CurrentState returns a copy of the projection keyed by node id.
func (r *Recorder) CurrentState() map[string]NodeState {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	out := make(map[string]NodeState, len(r.current))
	for id, st := range r.current {
		out[id] = st.clone()
	}
	return out
}

// Event returns the event with the given execution id.
func (r *Recorder) Event(executionID string) (Event, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	idx, ok := r.index[executionID]
	if !ok {
		return Event{}, false
	}
	return r.events[idx].clone(), true
}

// Chain walks parent links back from executionID and returns the path root first.
func (r *Recorder) Chain(executionID string) []Event {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	var chain []Event
	for id := executionID; id != ""; {
		idx, ok := r.index[id]
		if !ok {
			break
		}
		ev := r.events[idx]
		chain = append(chain, ev.clone())
		if len(chain) > len(r.events) {
			break
		}
		id = ev.ParentExecutionID
	}
	slices.Reverse(chain)
	return chain
}

// EventsSince returns events with Seq greater than cursor, in sequence order.
func (r *Recorder) EventsSince(cursor uint64) []Event {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	// seq n lives at index n-1
	start := int(min(cursor, uint64(len(r.events))))
	out := make([]Event, 0, len(r.events)-start)
	for _, ev := range r.events[start:] {
		out = append(out, ev.clone())
	}
	return out
}

// Events returns every recorded event.
func (r *Recorder) Events() []Event {
	return r.EventsSince(0)
}

// LastSeq returns the sequence number of the newest event.
func (r *Recorder) LastSeq() uint64 {
	return r.seq.Current()
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return len(r.events)
}
