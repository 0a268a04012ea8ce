/*
Package queue provides the point-to-point primitive that bridges synchronous
event production to deferred consumption.

A Queue holds either buffered items or parked readers, never both. Push hands
an item to the oldest parked reader or buffers it; Next takes the oldest
buffered item or parks. Fan-out is not the queue's job: the registry creates
one queue per subscription.
*/
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Next once the queue is closed and drained.
var ErrClosed = errors.New("queue: closed")

// Queue is an unbounded FIFO with blocking, cancellable reads.
//
// Order holds for any single consumer, cancelled reads included. With several
// concurrent readers, a reader cancelled after it was handed item N gives N
// back while a later parked reader may already hold N+1; N then goes to the
// next read, after N+1 was delivered. No item is lost or duplicated.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	readers []chan T
	closed  bool
	done    chan struct{}
}

// New returns an empty open queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{done: make(chan struct{})}
}

// Push never blocks. Items pushed after Close are dropped.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.deliverLocked(item)
}

// deliverLocked resolves the oldest parked reader or buffers the item.
func (q *Queue[T]) deliverLocked(item T) {
	if len(q.readers) > 0 {
		r := q.readers[0]
		q.readers[0] = nil
		q.readers = q.readers[1:]
		r <- item // [NON_BLOCKING] reader channels have capacity 1
		return
	}
	q.items = append(q.items, item)
}

// Next returns the next item in arrival order, waiting for a Push if nothing
// is buffered.
func (q *Queue[T]) Next(ctx context.Context) (T, error) {
	var zero T

	q.mu.Lock()
	if len(q.items) > 0 {
		item := q.items[0]
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()
		return item, nil
	}
	if q.closed {
		q.mu.Unlock()
		return zero, ErrClosed
	}
	r := make(chan T, 1)
	q.readers = append(q.readers, r)
	q.mu.Unlock()

	select {
	case item := <-r:
		return item, nil
	case <-q.done:
		select {
		case item := <-r:
			return item, nil
		default:
			return zero, ErrClosed
		}
	case <-ctx.Done():
		q.abandon(r)
		return zero, ctx.Err()
	}
}

// abandon unparks a cancelled reader. If a Push already satisfied it, the
// item goes back to the head of the line so ordering is kept.
func (q *Queue[T]) abandon(r chan T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, pending := range q.readers {
		if pending == r {
			q.readers = append(q.readers[:i], q.readers[i+1:]...)
			return
		}
	}

	select {
	case item := <-r:
		if !q.closed && len(q.readers) > 0 {
			q.deliverLocked(item)
			return
		}
		q.items = append([]T{item}, q.items...)
	default:
	}
}

// TakeAll drains and returns every buffered item. Parked readers are left
// untouched.
func (q *Queue[T]) TakeAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Len reports the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes every parked reader with ErrClosed. Buffered items can still be
// read. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.readers = nil
	close(q.done)
}
