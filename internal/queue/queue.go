// Package queue provides an unbounded blocking FIFO used to deliver events
// from a producer goroutine to a consumer goroutine.
//
// Push never blocks the producer. WaitAndPop blocks until an item is
// available. There is no close operation: a consumer that needs to stop is
// sent a sentinel value it recognizes, or uses WaitAndPopContext with a
// deadline.
package queue

import (
	"context"
	"sync"
)

// Queue is a concurrency-safe FIFO. The zero value is not usable; use New.
type Queue[T any] struct {
	mu       sync.Mutex
	items    *ring[T]
	nonEmpty chan struct{} // closed on the next Push; nil when nobody waits
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{items: newRing[T](8)}
}

// Push appends v to the tail of the queue and wakes any waiting consumer.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items.push(v)
	if q.nonEmpty != nil {
		close(q.nonEmpty)
		q.nonEmpty = nil
	}
	q.mu.Unlock()
}

// WaitAndPop blocks until an item is available, then removes and returns the
// oldest one.
func (q *Queue[T]) WaitAndPop() T {
	v, _ := q.WaitAndPopContext(context.Background())
	return v
}

// WaitAndPopContext is WaitAndPop bounded by ctx. It returns ctx.Err() if the
// context ends before an item arrives; no item is consumed in that case.
func (q *Queue[T]) WaitAndPopContext(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if v, ok := q.items.pop(); ok {
			q.mu.Unlock()
			return v, nil
		}
		if q.nonEmpty == nil {
			q.nonEmpty = make(chan struct{})
		}
		wait := q.nonEmpty
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryPop removes and returns the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.pop()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.len()
}
