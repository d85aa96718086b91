// Package queue implements the bounded, multi-producer/single-consumer
// opcode FIFO from spec.md §4.F: the recorder tries to push onto it without
// ever blocking the filesystem path, while the applier drains it in order,
// one opcode at a time.
package queue

import (
	"sync"

	"github.com/fluid-notion-systems/ize/internal/opcode"
)

// Queue is a bounded FIFO of opcode.Op. All methods are safe for concurrent
// use; TryPush/TryPop never block, Pop blocks until an item is available or
// the queue is closed.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    []opcode.Op
	capacity int
	closed   bool
}

// New creates a Queue bounded at capacity. A non-positive capacity is
// treated as unbounded, but callers should generally use
// config.DefaultQueueConfig().Capacity.
func New(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// TryPush appends op if the queue has room, reporting false immediately
// without blocking if it is full (spec.md §4.F "non-blocking try-push").
func (q *Queue) TryPush(op opcode.Op) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, op)
	q.notEmpty.Signal()
	return true
}

// Push appends op regardless of capacity, used only by callers that have
// already decided an overflow is acceptable (e.g. tests exercising a
// saturation scenario end-to-end). Ordinary recorder code must use
// TryPush and drop on failure per spec.md §4.E step 4.
func (q *Queue) Push(op opcode.Op) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, op)
	q.notEmpty.Signal()
}

// TryPop removes and returns the oldest item without blocking.
func (q *Queue) TryPop() (opcode.Op, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Pop blocks until an item is available or the queue is closed, in which
// case ok is false.
func (q *Queue) Pop() (op opcode.Op, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	return q.popLocked()
}

func (q *Queue) popLocked() (opcode.Op, bool) {
	if len(q.items) == 0 {
		return opcode.Op{}, false
	}
	op := q.items[0]
	q.items = q.items[1:]
	return op, true
}

// Drain removes and returns every currently queued item in order, leaving
// the queue empty. Used on graceful shutdown to flush remaining opcodes to
// the applier before the process exits (spec.md §4.G "graceful drain").
func (q *Queue) Drain() []opcode.Op {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// PeekAll returns a snapshot of the queue's current contents without
// removing them, for diagnostics and tests.
func (q *Queue) PeekAll() []opcode.Op {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]opcode.Op, len(q.items))
	copy(out, q.items)
	return out
}

// Len reports the number of items currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty reports whether the queue currently holds no items.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Close wakes any blocked Pop callers, who will observe ok=false once the
// queue has drained. Close does not discard queued items; callers that
// need the remainder should call Drain first.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
}
