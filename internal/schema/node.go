package schema

import "fmt"

// NodeStatus is the lifecycle state of a strategy node.
type NodeStatus uint8

const (
	NodeInactive NodeStatus = iota
	NodePending
	NodeActive
)

func (s NodeStatus) String() string {
	switch s {
	case NodeInactive:
		return "INACTIVE"
	case NodePending:
		return "PENDING"
	case NodeActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// Live reports whether a node in this status is evaluated.
func (s NodeStatus) Live() bool {
	return s == NodeActive || s == NodePending
}

// MarshalText implements encoding.TextMarshaler.
func (s NodeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *NodeStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "INACTIVE":
		*s = NodeInactive
	case "PENDING":
		*s = NodePending
	case "ACTIVE":
		*s = NodeActive
	default:
		return fmt.Errorf("unknown node status %q", string(b))
	}
	return nil
}
