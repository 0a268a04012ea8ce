package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable named unit of change flowing through the Hub.
//
// [SCOPE_KEY]
// An opaque partition (organization, user, thread) that lets the Hub and the
// throttle combinator route events without decoding the payload.
type Event struct {
	id         string
	name       string
	scopeKey   string
	payload    any
	occurredAt int64
}

// Option customizes an Event at construction time only.
type Option func(*Event)

// WithScope binds the event to a scope key.
func WithScope(key string) Option {
	return func(e *Event) { e.scopeKey = key }
}

// WithID overrides the generated identifier (e.g. to keep a broker message id).
func WithID(id string) Option {
	return func(e *Event) {
		if id != "" {
			e.id = id
		}
	}
}

// WithOccurredAt overrides the creation timestamp (unix millis).
func WithOccurredAt(ms int64) Option {
	return func(e *Event) {
		if ms > 0 {
			e.occurredAt = ms
		}
	}
}

// New is the universal factory for bus events.
func New(name string, payload any, opts ...Option) Event {
	e := Event{
		id:         uuid.NewString(),
		name:       name,
		payload:    payload,
		occurredAt: time.Now().UnixMilli(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func (e Event) GetID() string        { return e.id }
func (e Event) GetName() string      { return e.name }
func (e Event) GetScopeKey() string  { return e.scopeKey }
func (e Event) GetPayload() any      { return e.payload }
func (e Event) GetOccurredAt() int64 { return e.occurredAt }
func (e Event) IsZero() bool         { return e.id == "" && e.name == "" }

// wireEvent is the JSON shape used by transports and webhooks.
type wireEvent struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ScopeKey   string `json:"scope_key,omitempty"`
	Payload    any    `json:"payload"`
	OccurredAt int64  `json:"occurred_at"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		ID:         e.id,
		Name:       e.name,
		ScopeKey:   e.scopeKey,
		Payload:    e.payload,
		OccurredAt: e.occurredAt,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w struct {
		ID         string          `json:"id"`
		Name       string          `json:"name"`
		ScopeKey   string          `json:"scope_key"`
		Payload    json.RawMessage `json:"payload"`
		OccurredAt int64           `json:"occurred_at"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = New(w.Name, w.Payload, WithID(w.ID), WithScope(w.ScopeKey), WithOccurredAt(w.OccurredAt))
	return nil
}
