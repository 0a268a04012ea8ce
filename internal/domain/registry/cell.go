package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/webitel/im-live-service/internal/domain/event"
)

// cell is the [FAN_OUT_UNIT] for a single event name: the set of
// subscriptions currently listening to it.
//
// The Hub holds only non-owning references here; the queue belongs to the
// subscription.
type cell struct {
	name string

	// mu serializes fan-out so every subscriber sees one global publish order
	// for this name.
	mu       sync.Mutex
	sessions map[uuid.UUID]*Subscription
}

func newCell(name string) *cell {
	return &cell{
		name:     name,
		sessions: make(map[uuid.UUID]*Subscription),
	}
}

func (c *cell) attach(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sub.id] = sub
}

// detach reports whether the cell became empty.
func (c *cell) detach(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
	return len(c.sessions) == 0
}

// deliver pushes ev into every matching queue and returns how many were hit.
func (c *cell) deliver(ev event.Event) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, sub := range c.sessions {
		if sub.matches(ev) {
			sub.queue.Push(ev)
			n++
		}
	}
	return n
}

func (c *cell) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
