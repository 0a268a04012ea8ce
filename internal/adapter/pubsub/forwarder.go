package pubsub

import (
	"context"

	"github.com/webitel/im-live-service/internal/domain/event"
)

// EventForwarder publishes bus events to the broker so the ingestion
// consumer of every node (this one included) fans them out locally.
type EventForwarder struct {
	dispatcher Dispatcher
	provider   *Provider
}

func NewEventForwarder(d Dispatcher, p *Provider) *EventForwarder {
	return &EventForwarder{dispatcher: d, provider: p}
}

func (f *EventForwarder) Emit(ctx context.Context, ev event.Event) error {
	return f.dispatcher.PublishEvent(ctx, f.provider.EventRoutingKey(ev.GetName()), ev)
}
