package service

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-live-service/internal/domain/event"
	"github.com/webitel/im-live-service/internal/domain/model"
	"github.com/webitel/im-live-service/internal/domain/registry"
)

func TestPresenceTransitionsArePublished(t *testing.T) {
	hub := registry.NewHub()
	tr := NewPresenceTracker(hub, 0, slog.New(slog.DiscardHandler))
	sub := hub.Subscribe([]string{event.PresenceChangedName}, registry.WithScope("org-1"))
	defer sub.Close()

	leave1 := tr.Join("org-1", "alice")
	leave2 := tr.Join("org-1", "alice")
	tr.Join("org-2", "bob")
	assert.Equal(t, []string{"alice"}, tr.Snapshot("org-1").Identities)

	leave1()
	leave1()
	assert.Equal(t, []string{"alice"}, tr.Snapshot("org-1").Identities, "second session still live")
	leave2()
	assert.Empty(t, tr.Snapshot("org-1").Identities)

	var changes []model.PresenceChange
	for _, ev := range sub.TakeAll() {
		changes = append(changes, ev.GetPayload().(model.PresenceChange))
	}
	assert.Equal(t, []model.PresenceChange{
		{Identity: "alice", Online: true},
		{Identity: "alice", Online: false},
	}, changes)
}

func TestPresenceWatch(t *testing.T) {
	hub := registry.NewHub()
	tr := NewPresenceTracker(hub, 0, slog.New(slog.DiscardHandler))
	ctx := testCtx(t)

	tr.Join("org-1", "alice")
	q := tr.Watch("carol", "org-1")
	defer q.Close()

	snap, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, snap.Identities)

	leave := tr.Join("org-1", "bob")
	snap, err = q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, snap.Identities)

	leave()
	snap, err = q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, snap.Identities)
}

func TestPresenceWatchSuppressesNoOpBursts(t *testing.T) {
	hub := registry.NewHub()
	tr := NewPresenceTracker(hub, 50*time.Millisecond, slog.New(slog.DiscardHandler))
	ctx := testCtx(t)

	q := tr.Watch("carol", "org-1")
	defer q.Close()
	_, err := q.Next(ctx)
	require.NoError(t, err)

	// join+leave inside one throttle window collapses into one tick whose
	// snapshot equals the previous one, then a real change follows
	leave := tr.Join("org-1", "bob")
	leave()
	time.Sleep(80 * time.Millisecond)
	tr.Join("org-1", "dave")

	snap, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dave"}, snap.Identities)
}
