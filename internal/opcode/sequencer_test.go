package opcode

import (
	"testing"
	"time"

	"github.com/fluid-notion-systems/ize/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestSequencerMonotonic(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(1000, 0))
	seq := NewSequencer(sc)

	op1 := seq.Next(FileCreate{Path: "a"})
	sc.AdvanceTime(time.Second)
	op2 := seq.Next(FileWrite{Path: "a"})

	assert.Equal(t, uint64(1), op1.Seq)
	assert.Equal(t, uint64(2), op2.Seq)
	assert.True(t, op2.TimestampNS >= op1.TimestampNS)
}

func TestSequencerConcurrentUniqueSeqs(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(1000, 0))
	seq := NewSequencer(sc)

	const n = 200
	results := make(chan uint64, n)
	for i := 0; i < n; i++ {
		go func() {
			results <- seq.Next(FileWrite{Path: "a"}).Seq
		}()
	}

	seen := make(map[uint64]bool, n)
	for i := 0; i < n; i++ {
		s := <-results
		assert.False(t, seen[s], "duplicate seq %d", s)
		seen[s] = true
	}
}
