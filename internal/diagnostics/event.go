package diagnostics

import (
	"maps"
	"time"

	"nodeflow/internal/schema"
)

// EventType classifies an execution event.
type EventType string

const (
	EventRunStart     EventType = "RUN_START"
	EventSignal       EventType = "SIGNAL"
	EventEntry        EventType = "ENTRY"
	EventExit         EventType = "EXIT"
	EventReEntry      EventType = "RE_ENTRY"
	EventSquareOff    EventType = "SQUARE_OFF"
	EventOrderPending EventType = "ORDER_PENDING"
	EventActionFailed EventType = "ACTION_FAILED"
	EventTerminated   EventType = "TERMINATED"
)

// Payload is the free-form body of an event or projection entry.
type Payload map[string]any

// Event is one immutable record of a node execution.
type Event struct {
	Seq               uint64    `json:"seq"`
	ExecutionID       string    `json:"executionId"`
	ParentExecutionID string    `json:"parentExecutionId,omitempty"`
	StrategyID        string    `json:"strategyId"`
	NodeID            string    `json:"nodeId"`
	NodeType          string    `json:"nodeType"`
	Type              EventType `json:"type"`
	Timestamp         time.Time `json:"timestamp"`
	Payload           Payload   `json:"payload,omitempty"`
}

// Input is what a node hands to RecordEvent. ParentExecutionID overrides the
// activation cause when set, e.g. for a fill completing an earlier order.
type Input struct {
	NodeID            string
	NodeType          string
	Type              EventType
	Timestamp         time.Time
	Payload           Payload
	ParentExecutionID string
}

// NodeState is the current-state projection of a live node.
type NodeState struct {
	NodeID    string            `json:"nodeId"`
	Status    schema.NodeStatus `json:"status"`
	Payload   Payload           `json:"payload,omitempty"`
	UpdatedAt uint64            `json:"updatedAt"`
}

func (e Event) clone() Event {
	e.Payload = maps.Clone(e.Payload)
	return e
}

func (n NodeState) clone() NodeState {
	n.Payload = maps.Clone(n.Payload)
	return n
}
