package netproto

import "sync/atomic"

// Sequence is the monotonic, non-zero identifier a client mints for
// every outgoing south-side request (spec.md §3). Zero is reserved for
// server-originated notifications (poll wakeups) and is never minted by
// a Sequencer.
type Sequence uint64

// Sequencer mints Sequence values for one TCP connection. Per spec.md
// §9's redesign note, this is deliberately per-device rather than one
// process-global counter: a global counter would let sequence numbers
// leak meaning across reconnects and would be a needless point of
// contention between unrelated devices.
type Sequencer struct {
	next atomic.Uint64
}

// NewSequencer returns a Sequencer whose first Next() is 1.
func NewSequencer() *Sequencer {
	s := &Sequencer{}
	s.next.Store(1)
	return s
}

// Next returns the next strictly increasing, non-zero sequence value.
func (s *Sequencer) Next() Sequence {
	return Sequence(s.next.Add(1) - 1)
}
