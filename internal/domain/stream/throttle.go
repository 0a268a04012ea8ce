package stream

import (
	"context"
	"sync"
	"time"

	"github.com/webitel/im-live-service/internal/clock"
	"github.com/webitel/im-live-service/internal/domain/queue"
)

// globalKey is the throttle key used when no key function is configured.
const globalKey = ""

// ThrottleOption configures Throttle.
type ThrottleOption[T any] func(*throttled[T])

// WithKey partitions throttling by key. Distinct keys never delay each other;
// a key that is unique per item (e.g. a fresh uuid) exempts that item.
func WithKey[T any](fn func(T) string) ThrottleOption[T] {
	return func(t *throttled[T]) { t.keyFn = fn }
}

// WithClock swaps the time source (tests use clock.Fake).
func WithClock[T any](c clock.Clock) ThrottleOption[T] {
	return func(t *throttled[T]) { t.clock = c }
}

// throttleState is the per-key [COALESCING_SLOT].
type throttleState[T any] struct {
	lastEmit   time.Time
	emitted    bool
	pending    T
	hasPending bool
	timer      *clock.Timer
}

type throttled[T any] struct {
	src      Stream[T]
	interval time.Duration
	keyFn    func(T) string
	clock    clock.Clock

	out    *queue.Queue[result[T]]
	cancel context.CancelFunc
	done   chan struct{}
	fail   failure

	mu        sync.Mutex
	states    map[string]*throttleState[T]
	lastSweep time.Time
	closed    bool
	closeOnce sync.Once
}

// Throttle limits emissions per key to one per interval. The first item for
// an idle key goes out immediately; items arriving inside the window replace
// each other (last write wins) and the survivor is emitted when the window
// closes. Emitted items keep their relative order.
func Throttle[T any](src Stream[T], interval time.Duration, opts ...ThrottleOption[T]) Stream[T] {
	ctx, cancel := context.WithCancel(context.Background())
	t := &throttled[T]{
		src:      src,
		interval: interval,
		clock:    clock.Real(),
		out:      queue.New[result[T]](),
		cancel:   cancel,
		done:     make(chan struct{}),
		states:   make(map[string]*throttleState[T]),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.lastSweep = t.clock.Now()

	go t.pump(ctx)
	return t
}

// pump reads the source eagerly so that timers can fire while the consumer
// is not reading.
func (t *throttled[T]) pump(ctx context.Context) {
	defer close(t.done)
	for {
		item, err := t.src.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				t.out.Push(result[T]{err: err})
			}
			return
		}
		t.accept(item)
	}
}

func (t *throttled[T]) accept(item T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	now := t.clock.Now()
	key := globalKey
	if t.keyFn != nil {
		key = t.keyFn(item)
	}

	st, ok := t.states[key]
	if !ok {
		st = &throttleState[T]{}
		t.states[key] = st
	}

	if st.timer == nil && (!st.emitted || now.Sub(st.lastEmit) >= t.interval) {
		st.lastEmit = now
		st.emitted = true
		t.out.Push(result[T]{val: item})
		t.sweepLocked(now)
		return
	}

	// [LAST_WRITE_WINS]
	st.pending = item
	st.hasPending = true
	if st.timer == nil {
		wait := t.interval - now.Sub(st.lastEmit)
		st.timer = t.clock.AfterFunc(wait, func() { t.fire(key, st) })
	}
	t.sweepLocked(now)
}

func (t *throttled[T]) fire(key string, st *throttleState[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.states[key] != st {
		return
	}
	st.timer = nil
	if !st.hasPending {
		return
	}

	var zero T
	t.out.Push(result[T]{val: st.pending})
	st.pending = zero
	st.hasPending = false
	st.lastEmit = t.clock.Now()
}

// sweepLocked discards idle key state at most once per interval.
func (t *throttled[T]) sweepLocked(now time.Time) {
	if now.Sub(t.lastSweep) < t.interval {
		return
	}
	t.lastSweep = now
	for key, st := range t.states {
		if st.timer == nil && !st.hasPending && now.Sub(st.lastEmit) >= t.interval {
			delete(t.states, key)
		}
	}
}

func (t *throttled[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if err := t.fail.get(); err != nil {
		return zero, err
	}

	r, err := t.out.Next(ctx)
	if err != nil {
		if isContextErr(ctx, err) {
			return zero, err
		}
		return zero, t.fail.set(err)
	}
	if r.err != nil {
		err := t.fail.set(r.err)
		t.Close()
		return zero, err
	}
	return r.val, nil
}

// Close stops every outstanding timer and releases the source.
func (t *throttled[T]) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		for _, st := range t.states {
			st.timer.Stop()
		}
		t.states = nil
		t.mu.Unlock()

		t.cancel()
		t.src.Close()
		<-t.done
		t.out.Close()
	})
}

// pendingKeys is the number of live key slots (tests).
func (t *throttled[T]) pendingKeys() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}
