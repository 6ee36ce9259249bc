package strategy

import (
	"fmt"
	"strings"

	"nodeflow/pkg/exception"
)

// Kind is the closed set of node kinds.
type Kind uint8

const (
	KindStart Kind = iota + 1
	KindEntrySignal
	KindEntry
	KindExitSignal
	KindExit
	KindReEntrySignal
	KindSquareOff
)

var kindNames = map[string]Kind{
	"start":           KindStart,
	"entry_signal":    KindEntrySignal,
	"entry":           KindEntry,
	"exit_signal":     KindExitSignal,
	"exit":            KindExit,
	"re_entry_signal": KindReEntrySignal,
	"square_off":      KindSquareOff,
}

// ParseKind parses a node type name such as "entry_signal".
func ParseKind(s string) (Kind, error) {
	k, ok := kindNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", exception.ErrUnknownNodeType, s)
	}
	return k, nil
}

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "Start"
	case KindEntrySignal:
		return "EntrySignal"
	case KindEntry:
		return "Entry"
	case KindExitSignal:
		return "ExitSignal"
	case KindExit:
		return "Exit"
	case KindReEntrySignal:
		return "ReEntrySignal"
	case KindSquareOff:
		return "SquareOff"
	default:
		return "Unknown"
	}
}

// Signal reports whether the kind evaluates conditions and stays Active after firing.
func (k Kind) Signal() bool {
	return k == KindEntrySignal || k == KindExitSignal || k == KindReEntrySignal
}

// OneShot reports whether the kind goes Inactive after its action.
func (k Kind) OneShot() bool {
	return k == KindEntry || k == KindExit || k == KindSquareOff
}
