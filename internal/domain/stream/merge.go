package stream

import (
	"context"
	"sync"

	"github.com/webitel/im-live-service/internal/domain/queue"
	"golang.org/x/sync/errgroup"
)

type merged[T any] struct {
	srcs      []Stream[T]
	out       *queue.Queue[result[T]]
	cancel    context.CancelFunc
	group     *errgroup.Group
	fail      failure
	closeOnce sync.Once
}

// Merge interleaves several streams. Each source keeps its own order; no
// order is defined across sources. The first source error fails the merge.
func Merge[T any](srcs ...Stream[T]) Stream[T] {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	m := &merged[T]{
		srcs:   srcs,
		out:    queue.New[result[T]](),
		cancel: cancel,
		group:  g,
	}
	for _, src := range srcs {
		g.Go(func() error { return m.pump(gctx, src) })
	}
	return m
}

func (m *merged[T]) pump(ctx context.Context, src Stream[T]) error {
	for {
		item, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.out.Push(result[T]{err: err})
			// Returning the error cancels the sibling pumps.
			return err
		}
		m.out.Push(result[T]{val: item})
	}
}

func (m *merged[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if err := m.fail.get(); err != nil {
		return zero, err
	}

	r, err := m.out.Next(ctx)
	if err != nil {
		if isContextErr(ctx, err) {
			return zero, err
		}
		return zero, m.fail.set(err)
	}
	if r.err != nil {
		err := m.fail.set(r.err)
		m.Close()
		return zero, err
	}
	return r.val, nil
}

func (m *merged[T]) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		for _, src := range m.srcs {
			src.Close()
		}
		_ = m.group.Wait()
		m.out.Close()
	})
}
