/*
Package registry provides the process-wide event bus.

Key Architectural Concepts:
  - Cells: every event name with at least one listener is represented by a
    cell holding the subscriptions registered for it.
  - Explicit handles: Subscribe returns a Subscription that owns its queue;
    teardown is always an explicit Close, never garbage-collection driven.
  - Atomic fan-out: Publish finishes pushing into every registered queue
    before returning, so a concurrent Subscribe or Close never observes a
    half-updated registry.
  - Best effort: delivery is at-most-once per registered subscriber and lives
    in memory only. A subscriber registered after Publish never sees the event.
*/
package registry

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-live-service/internal/clock"
	"github.com/webitel/im-live-service/internal/domain/event"
	"github.com/webitel/im-live-service/internal/domain/model"
	"github.com/webitel/im-live-service/internal/domain/queue"
	"github.com/webitel/im-live-service/internal/domain/stream"
)

// Hubber defines the gateway for subscription management and event routing.
type Hubber interface {
	stream.RestartSource
	Subscribe(names []string, opts ...SubscribeOption) *Subscription
	Publish(ev event.Event) int
	Restart(identity string) int
	Stats() model.HubStats
	Shutdown()
}

var _ Hubber = (*Hub)(nil)

type hubConfig struct {
	logger *slog.Logger
	clock  clock.Clock
}

// Hub implements the [SCALABLE_REGISTRY]: event name -> cell -> subscriptions.
type Hub struct {
	config hubConfig

	// mu guards cells and subs. Publish takes it shared for the whole
	// fan-out; Subscribe and unregister take it exclusively.
	mu    sync.RWMutex
	cells map[string]*cell
	subs  map[uuid.UUID]*Subscription

	startedAt time.Time
	published atomic.Uint64
	delivered atomic.Uint64
	stopped   bool
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		config: hubConfig{
			logger: slog.Default(),
			clock:  clock.Real(),
		},
		cells: make(map[string]*cell),
		subs:  make(map[uuid.UUID]*Subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.startedAt = h.config.clock.Now()
	return h
}

// Subscribe registers a new queue against every (deduplicated) name.
func (h *Hub) Subscribe(names []string, opts ...SubscribeOption) *Subscription {
	uniq := slices.Clone(names)
	slices.Sort(uniq)
	uniq = slices.Compact(uniq)

	sub := &Subscription{
		id:    uuid.New(),
		names: uniq,
		queue: queue.New[event.Event](),
		hub:   h,
	}
	for _, opt := range opts {
		opt(sub)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		// [SHUTDOWN_GATE] hand back a dead handle instead of leaking a queue
		sub.queue.Close()
		return sub
	}

	for _, name := range uniq {
		c, ok := h.cells[name]
		if !ok {
			// [LAZY_INIT] a cell exists only while someone listens
			c = newCell(name)
			h.cells[name] = c
		}
		c.attach(sub)
	}
	h.subs[sub.id] = sub

	h.config.logger.Debug("SUBSCRIPTION_REGISTERED",
		"sub_id", sub.id,
		"names", uniq,
		"scope", sub.scope,
	)
	return sub
}

// Publish routes ev to every subscription registered for its name. It
// returns the number of queues reached.
func (h *Hub) Publish(ev event.Event) int {
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.cells[ev.GetName()]
	if !ok {
		return 0
	}
	n := c.deliver(ev)
	h.delivered.Add(uint64(n))
	return n
}

// Restart forces every live subscription of identity to resynchronize.
func (h *Hub) Restart(identity string) int {
	n := h.Publish(event.NewRestart(identity))
	h.config.logger.Info("SUBSCRIPTIONS_RESTART_REQUESTED", "identity", identity, "reached", n)
	return n
}

// RestartStream opens the private sentinel stream for identity.
func (h *Hub) RestartStream(identity string) stream.Stream[event.Event] {
	return h.Subscribe([]string{event.RestartName}, WithScope(identity))
}

// unregister performs [GRACEFUL_RECLAMATION] of a subscription.
func (h *Hub) unregister(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)

	for _, name := range sub.names {
		if c, ok := h.cells[name]; ok && c.detach(sub.id) {
			delete(h.cells, name)
		}
	}

	h.config.logger.Debug("SUBSCRIPTION_RELEASED", "sub_id", sub.id)
}

// Stats returns a point-in-time view of the registry.
func (h *Hub) Stats() model.HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := model.HubStats{
		TotalSubscriptions: len(h.subs),
		Uptime:             h.config.clock.Now().Sub(h.startedAt),
		Published:          h.published.Load(),
		Delivered:          h.delivered.Load(),
	}
	for name, c := range h.cells {
		stats.Cells = append(stats.Cells, model.CellStats{Name: name, Subscribers: c.size()})
	}
	slices.SortFunc(stats.Cells, func(a, b model.CellStats) int {
		return strings.Compare(a.Name, b.Name)
	})
	for _, sub := range h.subs {
		stats.Buffered += sub.Len()
	}
	return stats
}

// Shutdown closes every subscription; later Subscribe calls get closed
// handles.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.stopped = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	h.config.logger.Info("HUB_STOPPED", "released", len(subs))
}
