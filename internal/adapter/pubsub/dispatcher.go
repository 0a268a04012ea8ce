package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/webitel/im-live-service/internal/domain/event"
)

// Dispatcher defines the high-level contract for outgoing messages.
// This allows callers to stay agnostic of the transport implementation.
type Dispatcher interface {
	Publish(ctx context.Context, topic string, payload []byte, metadata map[string]string) error
	PublishEvent(ctx context.Context, topic string, ev event.Event) error
	Publisher() message.Publisher
}

type dispatcher struct {
	publisher message.Publisher
}

func NewDispatcher(pub message.Publisher) Dispatcher {
	return &dispatcher{publisher: pub}
}

func (d *dispatcher) Publish(ctx context.Context, topic string, payload []byte, metadata map[string]string) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	for k, v := range metadata {
		msg.Metadata.Set(k, v)
	}

	if err := d.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("dispatcher: failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

func (d *dispatcher) PublishEvent(ctx context.Context, topic string, ev event.Event) error {
	if ev.IsZero() {
		return fmt.Errorf("dispatcher: cannot publish empty event")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("dispatcher: marshal failure: %w", err)
	}
	return d.Publish(ctx, topic, payload, map[string]string{"event_name": ev.GetName()})
}

func (d *dispatcher) Publisher() message.Publisher {
	return d.publisher
}
