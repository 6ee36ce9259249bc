package strategy

// Option is a value that may be indeterminate, e.g. an offset reaching past
// the available history.
type Option struct {
	value float64
	ok    bool
}

// Some wraps a known value.
func Some(v float64) Option {
	return Option{value: v, ok: true}
}

// None is the indeterminate value.
func None() Option {
	return Option{}
}

// Get returns the value and whether it is known.
func (o Option) Get() (float64, bool) {
	return o.value, o.ok
}

// Known reports whether the value is known.
func (o Option) Known() bool {
	return o.ok
}

// Result is the three-valued outcome of a condition.
type Result uint8

const (
	False Result = iota
	True
	Indeterminate
)

func (r Result) String() string {
	switch r {
	case True:
		return "true"
	case Indeterminate:
		return "indeterminate"
	default:
		return "false"
	}
}

// Met reports whether the condition holds. Indeterminate never holds.
func (r Result) Met() bool {
	return r == True
}

func resultOf(b bool) Result {
	if b {
		return True
	}
	return False
}
