package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/webitel/im-live-service/internal/domain/event"
)

// ErrRestart marks a deliberate resubscribe request. It is control flow, not
// a fault: transports must tear the subscription down and let the client
// rebuild its state from a fresh snapshot.
var ErrRestart = errors.New("stream: restart requested")

// RestartError is returned when the restart sentinel for Identity is seen.
type RestartError struct {
	Identity string
}

func (e *RestartError) Error() string {
	return fmt.Sprintf("stream: restart requested for %q", e.Identity)
}

func (e *RestartError) Is(target error) bool { return target == ErrRestart }

// IsRestart reports whether err (or anything it wraps) is a restart request.
func IsRestart(err error) bool { return errors.Is(err, ErrRestart) }

// RestartSource opens the private sentinel stream for an identity.
type RestartSource interface {
	RestartStream(identity string) Stream[event.Event]
}

type restartable struct {
	merged   Stream[event.Event]
	identity string
	fail     failure
}

// WithRestartSentinel merges src with the identity's sentinel stream and
// turns the sentinel into a *RestartError.
func WithRestartSentinel(src Stream[event.Event], sentinels RestartSource, identity string) Stream[event.Event] {
	return &restartable{
		merged:   Merge(src, sentinels.RestartStream(identity)),
		identity: identity,
	}
}

func (r *restartable) Next(ctx context.Context) (event.Event, error) {
	for {
		if err := r.fail.get(); err != nil {
			return event.Event{}, err
		}

		ev, err := r.merged.Next(ctx)
		if err != nil {
			if isContextErr(ctx, err) {
				return event.Event{}, err
			}
			return event.Event{}, r.fail.set(err)
		}
		if ev.IsRestartFor(r.identity) {
			err := r.fail.set(&RestartError{Identity: r.identity})
			r.merged.Close()
			return event.Event{}, err
		}
		// An unscoped sentinel stream (empty identity) also sees sentinels
		// addressed to others; they are never data.
		if ev.GetName() == event.RestartName {
			continue
		}
		return ev, nil
	}
}

func (r *restartable) Close() { r.merged.Close() }
