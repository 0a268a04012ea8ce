/*
Package livequery merges a point-in-time snapshot with the stream of
incremental updates that follows it into one continuously valid view.

Lifecycle:

	Uninitialized -> Snapshot -> Streaming -> Restarting | Terminated

The first Next subscribes and yields the snapshot. Every later Next waits for
an event, asks the increment loader what changed and yields the result, unless
the loader suppresses the tick. A restart sentinel for the query's identity
ends the query with stream.ErrRestart: the caller drops its local state and
builds a new query.
*/
package livequery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/webitel/im-live-service/internal/domain/event"
	"github.com/webitel/im-live-service/internal/domain/registry"
	"github.com/webitel/im-live-service/internal/domain/stream"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("live query: closed")

// Increment is the result of an increment load: an update or nothing.
type Increment[T any] struct {
	value T
	ok    bool
}

// Update wraps a new full or partial result.
func Update[T any](v T) Increment[T] { return Increment[T]{value: v, ok: true} }

// Suppress means "no relevant change"; the tick is not yielded.
func Suppress[T any]() Increment[T] { return Increment[T]{} }

// Value returns the update and whether there is one.
func (i Increment[T]) Value() (T, bool) { return i.value, i.ok }

// Source is what a query needs from the bus.
type Source interface {
	stream.RestartSource
	Subscribe(names []string, opts ...registry.SubscribeOption) *registry.Subscription
}

type (
	InitialLoader[T any]   func(ctx context.Context) (T, error)
	IncrementLoader[T any] func(ctx context.Context, ev event.Event) (Increment[T], error)
)

type State int

const (
	Uninitialized State = iota
	Snapshot
	Streaming
	Restarting
	Terminated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Snapshot:
		return "snapshot"
	case Streaming:
		return "streaming"
	case Restarting:
		return "restarting"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option customizes how the event side of the query is assembled.
type Option func(*options)

type options struct {
	scope    string
	filter   stream.Predicate[event.Event]
	interval time.Duration
	keyFn    func(event.Event) string
}

// WithScope only listens to events published for scope.
func WithScope(scope string) Option {
	return func(o *options) { o.scope = scope }
}

// WithFilter drops events before they reach the increment loader.
func WithFilter(pred stream.Predicate[event.Event]) Option {
	return func(o *options) { o.filter = pred }
}

// WithThrottle coalesces bursts of events per key before loading increments.
// A nil keyFn throttles all events together.
func WithThrottle(interval time.Duration, keyFn func(event.Event) string) Option {
	return func(o *options) {
		o.interval = interval
		o.keyFn = keyFn
	}
}

// Query is a live query. It implements stream.Stream[T].
type Query[T any] struct {
	source        Source
	names         []string
	identity      string
	loadInitial   InitialLoader[T]
	loadIncrement IncrementLoader[T]
	opts          options

	mu     sync.Mutex
	state  State
	events stream.Stream[event.Event]
	err    error

	// pending holds an event whose increment load was cancelled; the next
	// call loads it again before reading the stream.
	pending *event.Event
}

var _ stream.Stream[int] = (*Query[int])(nil)

// New prepares a live query over names for identity. Nothing is loaded or
// subscribed until the first Next.
func New[T any](source Source, names []string, identity string, loadInitial InitialLoader[T], loadIncrement IncrementLoader[T], opts ...Option) *Query[T] {
	q := &Query[T]{
		source:        source,
		names:         names,
		identity:      identity,
		loadInitial:   loadInitial,
		loadIncrement: loadIncrement,
	}
	for _, opt := range opts {
		opt(&q.opts)
	}
	return q
}

// State reports where the query is in its lifecycle.
func (q *Query[T]) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Next yields the snapshot first, then every non-suppressed increment.
// Next must not be called concurrently.
func (q *Query[T]) Next(ctx context.Context) (T, error) {
	var zero T

	q.mu.Lock()
	state, err := q.state, q.err
	q.mu.Unlock()

	switch state {
	case Restarting, Terminated:
		return zero, err
	case Uninitialized, Snapshot:
		return q.snapshot(ctx)
	default:
		return q.increment(ctx)
	}
}

func (q *Query[T]) snapshot(ctx context.Context) (T, error) {
	var zero T

	q.mu.Lock()
	if q.events == nil {
		// [NO_GAP] listen before loading so nothing between the snapshot and
		// the first increment is missed
		q.events = q.assemble()
	}
	q.state = Snapshot
	q.mu.Unlock()

	v, err := q.loadInitial(ctx)
	if err != nil {
		if isCancel(ctx, err) {
			return zero, ctx.Err()
		}
		return zero, q.terminate(fmt.Errorf("live query initial load: %w", err))
	}

	q.mu.Lock()
	q.state = Streaming
	q.mu.Unlock()
	return v, nil
}

func (q *Query[T]) increment(ctx context.Context) (T, error) {
	var zero T
	for {
		ev, err := q.nextEvent(ctx)
		if err != nil {
			if isCancel(ctx, err) {
				return zero, err
			}
			return zero, q.terminate(err)
		}

		inc, err := q.loadIncrement(ctx, ev)
		if err != nil {
			if isCancel(ctx, err) {
				q.pending = &ev
				return zero, ctx.Err()
			}
			return zero, q.terminate(fmt.Errorf("live query increment load (%s): %w", ev.GetName(), err))
		}
		if v, ok := inc.Value(); ok {
			return v, nil
		}
	}
}

func (q *Query[T]) nextEvent(ctx context.Context) (event.Event, error) {
	if ev := q.pending; ev != nil {
		q.pending = nil
		return *ev, nil
	}
	return q.events.Next(ctx)
}

// isCancel reports whether err is the caller's own cancellation of ctx.
func isCancel(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}

// assemble builds subscription -> restart sentinel -> filter -> throttle.
func (q *Query[T]) assemble() stream.Stream[event.Event] {
	var subOpts []registry.SubscribeOption
	if q.opts.scope != "" {
		subOpts = append(subOpts, registry.WithScope(q.opts.scope))
	}

	var s stream.Stream[event.Event] = q.source.Subscribe(q.names, subOpts...)
	s = stream.WithRestartSentinel(s, q.source, q.identity)
	if q.opts.filter != nil {
		s = stream.Filter(s, q.opts.filter)
	}
	if q.opts.interval > 0 {
		var topts []stream.ThrottleOption[event.Event]
		if q.opts.keyFn != nil {
			topts = append(topts, stream.WithKey(q.opts.keyFn))
		}
		s = stream.Throttle(s, q.opts.interval, topts...)
	}
	return s
}

// terminate records the terminal error and releases the subscription.
func (q *Query[T]) terminate(err error) error {
	q.mu.Lock()
	if q.state == Restarting || q.state == Terminated {
		err = q.err
		q.mu.Unlock()
		return err
	}
	if stream.IsRestart(err) {
		q.state = Restarting
	} else {
		q.state = Terminated
	}
	q.err = err
	events := q.events
	q.mu.Unlock()

	if events != nil {
		events.Close()
	}
	return err
}

// Close stops the query and releases its subscription.
func (q *Query[T]) Close() {
	_ = q.terminate(ErrClosed)
}
