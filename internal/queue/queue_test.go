package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/fluid-notion-systems/ize/internal/opcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func op(seq uint64) opcode.Op {
	return opcode.Op{Seq: seq, TimestampNS: 1, Operation: opcode.FileWrite{Path: "a"}}
}

func TestTryPushRespectsCapacity(t *testing.T) {
	q := New(2)
	assert.True(t, q.TryPush(op(1)))
	assert.True(t, q.TryPush(op(2)))
	assert.False(t, q.TryPush(op(3)), "third push must be rejected at capacity 2")
	assert.Equal(t, 2, q.Len())
}

// TestSaturationDropsOverflow exercises spec.md §8's S4 scenario: a queue
// of capacity 4 offered 10 writes accepts exactly 4 and drops 6.
func TestSaturationDropsOverflow(t *testing.T) {
	q := New(4)
	accepted := 0
	for i := 0; i < 10; i++ {
		if q.TryPush(op(uint64(i))) {
			accepted++
		}
	}
	assert.Equal(t, 4, accepted)
	assert.Equal(t, 4, q.Len())
}

func TestFIFOOrder(t *testing.T) {
	q := New(0)
	for i := 1; i <= 5; i++ {
		require.True(t, q.TryPush(op(uint64(i))))
	}
	for i := 1; i <= 5; i++ {
		got, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, uint64(i), got.Seq)
	}
}

func TestTryPopEmpty(t *testing.T) {
	q := New(0)
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New(0)
	var wg sync.WaitGroup
	wg.Add(1)

	var got opcode.Op
	var ok bool
	go func() {
		defer wg.Done()
		got, ok = q.Pop()
	}()

	time.Sleep(10 * time.Millisecond)
	q.TryPush(op(42))
	wg.Wait()

	require.True(t, ok)
	assert.Equal(t, uint64(42), got.Seq)
}

func TestPopUnblocksOnClose(t *testing.T) {
	q := New(0)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Close")
	}
}

func TestDrainEmptiesQueue(t *testing.T) {
	q := New(0)
	q.TryPush(op(1))
	q.TryPush(op(2))

	drained := q.Drain()
	assert.Len(t, drained, 2)
	assert.True(t, q.IsEmpty())
}

func TestPeekAllDoesNotRemove(t *testing.T) {
	q := New(0)
	q.TryPush(op(1))

	peeked := q.PeekAll()
	assert.Len(t, peeked, 1)
	assert.Equal(t, 1, q.Len())
}
