package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-live-service/internal/clock"
	"github.com/webitel/im-live-service/internal/domain/event"
	"github.com/webitel/im-live-service/internal/domain/queue"
)

func names(evs []event.Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.GetName())
	}
	return out
}

func TestPublishFansOutInOrder(t *testing.T) {
	h := NewHub()
	s1 := h.Subscribe([]string{"A", "B"})
	s2 := h.Subscribe([]string{"A"})
	defer s1.Close()
	defer s2.Close()

	assert.Equal(t, 2, h.Publish(event.New("A", 1)))
	assert.Equal(t, 1, h.Publish(event.New("B", 2)))
	assert.Equal(t, 2, h.Publish(event.New("A", 3)))
	assert.Equal(t, 0, h.Publish(event.New("C", 4)))

	assert.Equal(t, []string{"A", "B", "A"}, names(s1.TakeAll()))
	got := s2.TakeAll()
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].GetPayload())
	assert.Equal(t, 3, got[1].GetPayload())
}

func TestLateSubscriberMissesEarlierEvents(t *testing.T) {
	h := NewHub()
	h.Publish(event.New("A", "early"))

	sub := h.Subscribe([]string{"A"})
	defer sub.Close()
	h.Publish(event.New("A", "late"))

	got := sub.TakeAll()
	require.Len(t, got, 1)
	assert.Equal(t, "late", got[0].GetPayload())
}

func TestScopeRestrictsDelivery(t *testing.T) {
	h := NewHub()
	org1 := h.Subscribe([]string{"thread.updated"}, WithScope("org-1"))
	all := h.Subscribe([]string{"thread.updated"})
	defer org1.Close()
	defer all.Close()

	h.Publish(event.New("thread.updated", nil, event.WithScope("org-1")))
	h.Publish(event.New("thread.updated", nil, event.WithScope("org-2")))

	assert.Len(t, org1.TakeAll(), 1)
	assert.Len(t, all.TakeAll(), 2)
}

func TestDuplicateNamesDeliverOnce(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe([]string{"A", "A"})
	defer sub.Close()

	h.Publish(event.New("A", nil))
	assert.Len(t, sub.TakeAll(), 1)
	assert.Equal(t, []string{"A"}, sub.Names())
}

func TestCloseUnregisters(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe([]string{"A", "B"})
	other := h.Subscribe([]string{"B"})
	defer other.Close()

	stats := h.Stats()
	assert.Equal(t, 2, stats.TotalSubscriptions)
	assert.Len(t, stats.Cells, 2)

	sub.Close()
	sub.Close()

	assert.Equal(t, 0, h.Publish(event.New("A", nil)))
	assert.Equal(t, 1, h.Publish(event.New("B", nil)))

	stats = h.Stats()
	assert.Equal(t, 1, stats.TotalSubscriptions)
	require.Len(t, stats.Cells, 1)
	assert.Equal(t, "B", stats.Cells[0].Name)
	assert.Equal(t, 1, stats.Buffered)

	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, queue.ErrClosed)
}

func TestNextWaitsForPublish(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe([]string{"A"})
	defer sub.Close()

	got := make(chan event.Event, 1)
	go func() {
		ev, err := sub.Next(context.Background())
		if err == nil {
			got <- ev
		}
	}()

	assert.Equal(t, 1, h.Publish(event.New("A", "x")))
	select {
	case ev := <-got:
		assert.Equal(t, "x", ev.GetPayload())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestRestartStreamIsPrivatePerIdentity(t *testing.T) {
	h := NewHub()
	alice := h.RestartStream("alice")
	bob := h.RestartStream("bob")
	defer alice.Close()
	defer bob.Close()

	assert.Equal(t, 1, h.Restart("alice"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := alice.Next(ctx)
	require.NoError(t, err)
	assert.True(t, ev.IsRestartFor("alice"))

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	_, err = bob.Next(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShutdownReleasesSubscriptions(t *testing.T) {
	fake := clock.Fake(time.Unix(1000, 0))
	h := NewHub(WithClock(fake))
	sub := h.Subscribe([]string{"A"})

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Next(context.Background())
		errCh <- err
	}()

	fake.Advance(time.Minute)
	assert.Equal(t, time.Minute, h.Stats().Uptime)

	h.Shutdown()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, queue.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("reader not woken by shutdown")
	}

	late := h.Subscribe([]string{"A"})
	assert.Equal(t, 0, h.Publish(event.New("A", nil)))
	_, err := late.Next(context.Background())
	assert.ErrorIs(t, err, queue.ErrClosed)
	assert.Equal(t, 0, h.Stats().TotalSubscriptions)
}
