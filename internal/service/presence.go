package service

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/webitel/im-live-service/internal/domain/event"
	"github.com/webitel/im-live-service/internal/domain/livequery"
	"github.com/webitel/im-live-service/internal/domain/model"
	"github.com/webitel/im-live-service/internal/domain/registry"
)

// PresenceTracker counts live sessions per scope and identity and announces
// transitions on the bus as presence.changed events scoped to the scope.
type PresenceTracker struct {
	hub      registry.Hubber
	throttle time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	scopes map[string]map[string]int
}

func NewPresenceTracker(hub registry.Hubber, throttle time.Duration, logger *slog.Logger) *PresenceTracker {
	return &PresenceTracker{
		hub:      hub,
		throttle: throttle,
		logger:   logger,
		scopes:   make(map[string]map[string]int),
	}
}

// Join records a live session and returns the func that ends it. The first
// session of an identity in a scope publishes Online, the last one Offline.
func (t *PresenceTracker) Join(scope, identity string) (leave func()) {
	t.mu.Lock()
	members, ok := t.scopes[scope]
	if !ok {
		members = make(map[string]int)
		t.scopes[scope] = members
	}
	members[identity]++
	if members[identity] == 1 {
		t.announceLocked(scope, identity, true)
	}
	t.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { t.leave(scope, identity) }) }
}

func (t *PresenceTracker) leave(scope, identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	members := t.scopes[scope]
	members[identity]--
	if members[identity] > 0 {
		return
	}
	delete(members, identity)
	if len(members) == 0 {
		delete(t.scopes, scope)
	}
	t.announceLocked(scope, identity, false)
}

// announceLocked publishes under the tracker lock so that the order of
// presence events matches the order of counter changes.
func (t *PresenceTracker) announceLocked(scope, identity string, online bool) {
	t.hub.Publish(event.New(event.PresenceChangedName,
		model.PresenceChange{Identity: identity, Online: online},
		event.WithScope(scope),
	))
	t.logger.Debug("PRESENCE_CHANGED", "scope", scope, "identity", identity, "online", online)
}

// Snapshot lists the identities currently online in scope.
func (t *PresenceTracker) Snapshot(scope string) model.PresenceSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.scopes[scope]))
	for id := range t.scopes[scope] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return model.PresenceSnapshot{Scope: scope, Identities: ids}
}

// Watch returns a live query over the presence of scope on behalf of
// identity: the current snapshot first, then a fresh snapshot after every
// change burst. Bursts that end where they started are suppressed.
func (t *PresenceTracker) Watch(identity, scope string) *livequery.Query[model.PresenceSnapshot] {
	var last []string

	return livequery.New(t.hub, []string{event.PresenceChangedName}, identity,
		func(context.Context) (model.PresenceSnapshot, error) {
			snap := t.Snapshot(scope)
			last = snap.Identities
			return snap, nil
		},
		func(context.Context, event.Event) (livequery.Increment[model.PresenceSnapshot], error) {
			snap := t.Snapshot(scope)
			if slices.Equal(snap.Identities, last) {
				return livequery.Suppress[model.PresenceSnapshot](), nil
			}
			last = snap.Identities
			return livequery.Update(snap), nil
		},
		livequery.WithScope(scope),
		livequery.WithThrottle(t.throttle, nil),
	)
}
