package diagnostics

import "github.com/bytedance/sonic"

// EncodeEvent renders an event as JSON with sorted payload keys.
func EncodeEvent(e Event) ([]byte, error) {
	return sonic.ConfigStd.Marshal(e)
}

// DecodeEvent parses an event produced by EncodeEvent. Numeric payload values
// come back as float64.
func DecodeEvent(b []byte) (Event, error) {
	var e Event
	if err := sonic.ConfigStd.Unmarshal(b, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// EncodeEvents renders a slice of events as one JSON array.
func EncodeEvents(events []Event) ([]byte, error) {
	if events == nil {
		events = []Event{}
	}
	return sonic.ConfigStd.Marshal(events)
}
