package opcode

import (
	"sync"

	"github.com/fluid-notion-systems/ize/internal/clock"
)

// Sequencer stamps Operations with a strictly increasing Seq (O2) and a
// monotonic wall-clock timestamp, as required by spec.md §4.D. It is the
// only piece of state the recorder (spec.md §4.E) needs beyond a queue
// handle.
type Sequencer struct {
	mu     sync.Mutex
	next   uint64
	lastTS uint64
	clock  clock.Clock
}

// NewSequencer creates a Sequencer whose first Op has Seq == 1.
func NewSequencer(c clock.Clock) *Sequencer {
	return &Sequencer{clock: c}
}

// Next stamps op with the next sequence number and the current time.
func (s *Sequencer) Next(operation Operation) Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	ts := uint64(s.clock.Now().UnixNano())
	if ts < s.lastTS {
		ts = s.lastTS
	}
	s.lastTS = ts
	return Op{
		Seq:         s.next,
		TimestampNS: ts,
		Operation:   operation,
	}
}
