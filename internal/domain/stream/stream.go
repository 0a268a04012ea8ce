/*
Package stream holds the pull-based combinators layered on top of a
subscription: Filter, Throttle, Merge and WithRestartSentinel.

Every combinator wraps a source Stream and is itself a Stream with the same
contract: items come out in source order, an error from Next is terminal for
that stream, and Close releases the whole chain down to the bus subscription.
*/
package stream

import (
	"context"
	"sync"

	"github.com/webitel/im-live-service/internal/domain/queue"
)

// Stream is a pull-based sequence of items.
type Stream[T any] interface {
	// Next blocks until the next item is available, the stream fails, or ctx
	// is done. Context errors are not terminal; any other error is.
	Next(ctx context.Context) (T, error)
	// Close tears the stream down and unregisters its upstream. Idempotent.
	Close()
}

// FromQueue exposes a queue as a Stream. Close closes the queue.
func FromQueue[T any](q *queue.Queue[T]) Stream[T] {
	return queued[T]{q: q}
}

type queued[T any] struct{ q *queue.Queue[T] }

func (s queued[T]) Next(ctx context.Context) (T, error) { return s.q.Next(ctx) }
func (s queued[T]) Close()                              { s.q.Close() }

// Drain returns every item s can yield without waiting, in order. A terminal
// error stops the drain and is returned with the items read before it.
func Drain[T any](s Stream[T]) ([]T, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var items []T
	for {
		item, err := s.Next(ctx)
		if err != nil {
			if isContextErr(ctx, err) {
				return items, nil
			}
			return items, err
		}
		items = append(items, item)
	}
}

// result carries either a value or a terminal error through an internal queue.
type result[T any] struct {
	val T
	err error
}

// failure remembers the first terminal error of a stream.
type failure struct {
	mu  sync.Mutex
	err error
}

func (f *failure) get() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// set stores err unless a terminal error was already recorded; it returns
// the error that wins.
func (f *failure) set(err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
	return f.err
}

func isContextErr(ctx context.Context, err error) bool {
	return ctx.Err() != nil && err == ctx.Err()
}
