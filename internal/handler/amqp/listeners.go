package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/webitel/im-live-service/internal/domain/event"
	"github.com/webitel/im-live-service/internal/service"
	"github.com/webitel/im-live-service/internal/webhook"
)

func decodeEvent(body []byte) (event.Event, error) {
	var ev event.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return event.Event{}, fmt.Errorf("event decode: %w", err)
	}
	if ev.GetName() == "" {
		return event.Event{}, errors.New("event decode: name is required")
	}
	return ev, nil
}

// [ON_EVENT]
// Every node consumes every event and fans it out to its local subscribers.
func (h *MessageHandler) OnEventV1(ctx context.Context, ev event.Event) error {
	if ev.GetName() == event.RestartName {
		h.deliverer.Restart(ctx, ev.GetScopeKey())
		return nil
	}

	if _, err := h.deliverer.Publish(ctx, ev); err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			h.logger.Warn("EVENT_REJECTED", "err", err, "event_id", ev.GetID())
			return nil // ACK: retrying cannot fix it.
		}
		return err
	}
	return nil
}

// [ON_WEBHOOK_JOB]
// Delivery failures are rescheduled inside Perform; only a failed reschedule
// comes back here and is retried by the router.
func (h *MessageHandler) OnWebhookJobV1(ctx context.Context, job webhook.Job) error {
	return h.worker.Perform(ctx, job)
}
