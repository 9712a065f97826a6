// Package queue implements the MPMC FIFO shared by the ingress, egress and
// timer tasks. It has no capacity limit: Push never blocks. Producers push
// items and signal one waiter;
// consumers call WaitNonEmpty, which blocks until the queue is nonempty or
// the queue has been closed, then drains every pending item into a single
// batch. Batch semantics matter: the protocol engine processes an entire
// burst of arrivals atomically with respect to its own state (internal/engine).
package queue

import "sync"

// Queue is a generic condition-variable-guarded FIFO.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item and wakes exactly one waiter.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.cond.Signal()
}

// WaitNonEmpty blocks until the queue holds at least one item or has been
// closed, then returns and removes every pending item as a single batch.
// A closed, empty queue returns (nil, false).
func (q *Queue[T]) WaitNonEmpty() ([]T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	batch := q.items
	q.items = nil
	return batch, true
}

// Close signals shutdown: every blocked and future WaitNonEmpty call on an
// empty queue returns immediately.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
