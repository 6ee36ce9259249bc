package schema

// SchemaVersion is the current journal schema version.
const SchemaVersion uint16 = 1

// EventType defines the category of a record stored in the journal.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventTick
	EventExecution
	EventSnapshot
)

func (t EventType) String() string {
	switch t {
	case EventTick:
		return "tick"
	case EventExecution:
		return "execution"
	case EventSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// EventHeader is the common metadata attached to every journal record.
type EventHeader struct {
	Type    EventType
	Version uint16
	Source  uint16
	Flags   uint16
	Seq     uint64
	TsEvent int64
	TsRecv  int64
}

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, source uint16, seq uint64, tsEvent, tsRecv int64) EventHeader {
	return EventHeader{
		Type:    eventType,
		Version: SchemaVersion,
		Source:  source,
		Seq:     seq,
		TsEvent: tsEvent,
		TsRecv:  tsRecv,
	}
}
