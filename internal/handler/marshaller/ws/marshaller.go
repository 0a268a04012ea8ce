package wsmarshaller

import (
	"encoding/json"

	"github.com/webitel/im-live-service/internal/domain/event"
	"github.com/webitel/im-live-service/internal/domain/model"
)

// Frame kinds.
const (
	KindConnected    = "connected"
	KindEvent        = "event"
	KindPresence     = "presence"
	KindDisconnected = "disconnected"
)

// WSEvent is a generic wrapper for WebSocket messages to provide consistent structure
type WSEvent struct {
	Kind    string `json:"kind"`
	Event   string `json:"event,omitempty"` // bus event name for KindEvent
	ID      string `json:"id,omitempty"`
	Scope   string `json:"scope,omitempty"`
	SentAt  int64  `json:"sent_at,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// MarshallDeliveryEvent prepares a bus event for WebSocket transmission.
func MarshallDeliveryEvent(ev event.Event) ([]byte, error) {
	return json.Marshal(&WSEvent{
		Kind:    KindEvent,
		Event:   ev.GetName(),
		ID:      ev.GetID(),
		Scope:   ev.GetScopeKey(),
		SentAt:  ev.GetOccurredAt(),
		Payload: ev.GetPayload(),
	})
}

func MarshallConnected(p model.ConnectedPayload) ([]byte, error) {
	return json.Marshal(&WSEvent{Kind: KindConnected, Payload: p})
}

func MarshallPresence(snap model.PresenceSnapshot) ([]byte, error) {
	return json.Marshal(&WSEvent{Kind: KindPresence, Scope: snap.Scope, Payload: snap})
}

func MarshallDisconnected(p model.DisconnectedPayload) ([]byte, error) {
	return json.Marshal(&WSEvent{Kind: KindDisconnected, Payload: p})
}
