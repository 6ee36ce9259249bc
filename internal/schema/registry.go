package schema

import (
	"fmt"
	"sort"
	"strings"
)

// InstrumentKind classifies a symbol. Only indices and futures build candles.
type InstrumentKind uint8

const (
	KindUnknown InstrumentKind = iota
	KindIndex
	KindFuture
	KindOption
)

// ParseInstrumentKind converts a config string into an InstrumentKind.
func ParseInstrumentKind(s string) (InstrumentKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "index", "idx":
		return KindIndex, nil
	case "future", "fut":
		return KindFuture, nil
	case "option", "opt":
		return KindOption, nil
	default:
		return KindUnknown, fmt.Errorf("unknown instrument kind: %q", s)
	}
}

func (k InstrumentKind) String() string {
	switch k {
	case KindIndex:
		return "index"
	case KindFuture:
		return "future"
	case KindOption:
		return "option"
	default:
		return "unknown"
	}
}

// BuildsCandles reports whether ticks of this kind are aggregated into candles.
func (k InstrumentKind) BuildsCandles() bool {
	return k == KindIndex || k == KindFuture
}

// SymbolID is the numeric identifier for a symbol.
type SymbolID uint32

// Symbol describes a tradable or observable instrument.
type Symbol struct {
	ID         SymbolID
	Name       string
	Kind       InstrumentKind
	Underlying string
	LotSize    int64
}

// Registry stores symbol mappings in a compact form.
type Registry struct {
	symbols      []Symbol
	symbolByName map[string]SymbolID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		symbolByName: make(map[string]SymbolID),
	}
}

// AddSymbol registers a new symbol and returns its ID.
func (r *Registry) AddSymbol(name string, kind InstrumentKind, underlying string, lotSize int64) (SymbolID, error) {
	if name == "" {
		return 0, fmt.Errorf("symbol name is empty")
	}
	if kind == KindUnknown {
		return 0, fmt.Errorf("symbol kind is unknown: %s", name)
	}
	if id, ok := r.symbolByName[name]; ok {
		return id, fmt.Errorf("symbol already exists: %s", name)
	}
	if lotSize <= 0 {
		lotSize = 1
	}
	id := SymbolID(len(r.symbols) + 1)
	r.symbols = append(r.symbols, Symbol{
		ID:         id,
		Name:       name,
		Kind:       kind,
		Underlying: underlying,
		LotSize:    lotSize,
	})
	r.symbolByName[name] = id
	return id, nil
}

// Symbol returns the symbol by ID.
func (r *Registry) Symbol(id SymbolID) (Symbol, bool) {
	if r == nil || id == 0 || int(id) > len(r.symbols) {
		return Symbol{}, false
	}
	return r.symbols[id-1], true
}

// Lookup returns the symbol by name.
func (r *Registry) Lookup(name string) (Symbol, bool) {
	if r == nil {
		return Symbol{}, false
	}
	id, ok := r.symbolByName[name]
	if !ok {
		return Symbol{}, false
	}
	return r.symbols[id-1], true
}

// SymbolCount returns the number of symbols in the registry.
func (r *Registry) SymbolCount() int {
	if r == nil {
		return 0
	}
	return len(r.symbols)
}

// SymbolAt returns the symbol by zero-based index.
func (r *Registry) SymbolAt(index int) (Symbol, bool) {
	if r == nil || index < 0 || index >= len(r.symbols) {
		return Symbol{}, false
	}
	return r.symbols[index], true
}

// SymbolIDByName returns the symbol ID for a name.
func (r *Registry) SymbolIDByName(name string) (SymbolID, bool) {
	if r == nil {
		return 0, false
	}
	id, ok := r.symbolByName[name]
	return id, ok
}

// Names returns all registered symbol names sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.symbols))
	for _, s := range r.symbols {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}
