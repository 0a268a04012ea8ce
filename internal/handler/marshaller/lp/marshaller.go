package lpmarshaller

import (
	"encoding/json"

	"github.com/webitel/im-live-service/internal/domain/event"
	"github.com/webitel/im-live-service/internal/domain/model"
)

// LPEvent represents a single event structured for long-polling consumers.
type LPEvent struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Scope   string `json:"scope,omitempty"`
	SentAt  int64  `json:"sent_at"`
	Payload any    `json:"payload"`
}

// Response defines the top-level JSON array to support event batching.
type Response struct {
	Events  []LPEvent `json:"events"`
	Restart bool      `json:"restart,omitempty"`
}

// MarshallEvents converts a slice of bus events into a single JSON batch.
func MarshallEvents(events []event.Event) ([]byte, error) {
	res := Response{
		Events: make([]LPEvent, 0, len(events)),
	}
	for _, ev := range events {
		res.Events = append(res.Events, LPEvent{
			Type:    ev.GetName(),
			ID:      ev.GetID(),
			Scope:   ev.GetScopeKey(),
			SentAt:  ev.GetOccurredAt(),
			Payload: ev.GetPayload(),
		})
	}
	return json.Marshal(res)
}

// MarshallRestart tells the client to drop its state, refetch and open a new
// session.
func MarshallRestart() []byte {
	data, _ := json.Marshal(Response{Events: []LPEvent{}, Restart: true})
	return data
}

// MarshallOpened answers a session open; SubscriptionID addresses the polls.
func MarshallOpened(p model.ConnectedPayload) ([]byte, error) {
	return json.Marshal(p)
}
