package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/webitel/im-live-service/internal/domain/event"
	"github.com/webitel/im-live-service/internal/domain/queue"
	"github.com/webitel/im-live-service/internal/domain/stream"
)

// Interface guard
var _ stream.Stream[event.Event] = (*Subscription)(nil)

// SubscribeOption narrows a subscription.
type SubscribeOption func(*Subscription)

// WithScope restricts delivery to events published with the given scope key.
// An empty key means "every scope".
func WithScope(key string) SubscribeOption {
	return func(s *Subscription) { s.scope = key }
}

// Subscription is the explicit handle returned by Hub.Subscribe. Its
// lifetime is the consumer's iteration: Close must be called when the
// consumer stops, including on error.
type Subscription struct {
	id    uuid.UUID
	names []string
	scope string
	queue *queue.Queue[event.Event]

	hub       *Hub
	closeOnce sync.Once
}

func (s *Subscription) ID() uuid.UUID   { return s.id }
func (s *Subscription) Names() []string { return s.names }
func (s *Subscription) Scope() string   { return s.scope }
func (s *Subscription) Len() int        { return s.queue.Len() }
func (s *Subscription) matches(ev event.Event) bool {
	return s.scope == "" || s.scope == ev.GetScopeKey()
}

// Next waits for the next event delivered to this subscription.
func (s *Subscription) Next(ctx context.Context) (event.Event, error) {
	return s.queue.Next(ctx)
}

// TakeAll drains the events already buffered, without waiting.
func (s *Subscription) TakeAll() []event.Event {
	return s.queue.TakeAll()
}

// Close unregisters the subscription from the Hub and wakes any reader.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.unregister(s)
		s.queue.Close()
	})
}
