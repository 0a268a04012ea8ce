package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/im-live-service/internal/domain/event"
	"github.com/webitel/im-live-service/internal/domain/stream"
)

// Throttle key modes for SubscribeRequest.ThrottleKey.
const (
	ThrottleGlobal  = ""
	ThrottleByName  = "name"
	ThrottleByScope = "scope"
	ThrottleByID    = "id"
)

// SubscribeRequest describes one live subscription.
type SubscribeRequest struct {
	Identity    string
	Names       []string
	Scope       string
	Filter      string
	Throttle    time.Duration
	ThrottleKey string
}

// Session is an assembled subscription: bus -> restart sentinel -> filter
// -> throttle. It ends with a stream.ErrRestart error when the identity is
// asked to resubscribe.
type Session struct {
	id       uuid.UUID
	identity string
	names    []string
	events   stream.Stream[event.Event]
}

func (s *Session) ID() uuid.UUID    { return s.id }
func (s *Session) Identity() string { return s.identity }
func (s *Session) Names() []string  { return s.names }

func (s *Session) Next(ctx context.Context) (event.Event, error) {
	return s.events.Next(ctx)
}

// Drain returns the events that are ready right now without waiting.
func (s *Session) Drain() ([]event.Event, error) {
	return stream.Drain(s.events)
}

func (s *Session) Close() { s.events.Close() }

func throttleKey(mode string) (func(event.Event) string, bool) {
	switch mode {
	case ThrottleGlobal:
		return nil, true
	case ThrottleByName:
		return event.Event.GetName, true
	case ThrottleByScope:
		return event.Event.GetScopeKey, true
	case ThrottleByID:
		return event.Event.GetID, true
	default:
		return nil, false
	}
}
