package obs

import "sync/atomic"

// Sequence hands out monotonically increasing numbers. Unlike a wall-clock
// seeded id it restarts from the same value on every run, which keeps replays
// byte-identical.
type Sequence struct {
	next atomic.Uint64
}

// NewSequence returns a sequence whose first Next is start+1.
func NewSequence(start uint64) *Sequence {
	s := &Sequence{}
	s.next.Store(start)
	return s
}

// Next returns the next number.
func (s *Sequence) Next() uint64 {
	if s == nil {
		return 0
	}
	return s.next.Add(1)
}

// Current returns the last number handed out.
func (s *Sequence) Current() uint64 {
	if s == nil {
		return 0
	}
	return s.next.Load()
}
