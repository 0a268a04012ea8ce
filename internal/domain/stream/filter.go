package stream

import (
	"context"
	"fmt"
)

// Predicate decides whether an item passes. It may block (e.g. to consult a
// data store) and may fail.
type Predicate[T any] func(ctx context.Context, item T) (bool, error)

type filtered[T any] struct {
	src  Stream[T]
	pred Predicate[T]
	fail failure
}

// Filter yields the strict sub-sequence of src for which pred is true. A
// predicate error tears down src and fails the stream.
func Filter[T any](src Stream[T], pred Predicate[T]) Stream[T] {
	return &filtered[T]{src: src, pred: pred}
}

func (f *filtered[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if err := f.fail.get(); err != nil {
		return zero, err
	}

	for {
		item, err := f.src.Next(ctx)
		if err != nil {
			if isContextErr(ctx, err) {
				return zero, err
			}
			f.src.Close()
			return zero, f.fail.set(err)
		}

		ok, err := f.pred(ctx, item)
		if err != nil {
			if isContextErr(ctx, err) {
				return zero, err
			}
			f.src.Close()
			return zero, f.fail.set(fmt.Errorf("stream filter: %w", err))
		}
		if ok {
			return item, nil
		}
	}
}

func (f *filtered[T]) Close() { f.src.Close() }
