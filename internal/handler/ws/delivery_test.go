package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-live-service/config"
	"github.com/webitel/im-live-service/internal/domain/event"
	"github.com/webitel/im-live-service/internal/domain/model"
	"github.com/webitel/im-live-service/internal/domain/registry"
	wsmarshaller "github.com/webitel/im-live-service/internal/handler/marshaller/ws"
	"github.com/webitel/im-live-service/internal/service"
)

type fixture struct {
	hub      *registry.Hub
	deliver  service.Deliverer
	presence *service.PresenceTracker
	url      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	cfg := &config.Config{
		Hub:  config.HubConfig{MaxNames: 8},
		Live: config.LiveConfig{MaxThrottle: time.Second, WriteTimeout: time.Second, PingInterval: time.Second},
	}

	hub := registry.NewHub()
	filters, err := service.NewFilterCompiler(8)
	require.NoError(t, err)
	d := service.NewDeliveryService(hub, filters, cfg, logger)
	p := service.NewPresenceTracker(hub, 0, logger)

	r := chi.NewRouter()
	NewWSHandler(logger, d, p, cfg).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &fixture{hub: hub, deliver: d, presence: p, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (f *fixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(f.url+path, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsmarshaller.WSEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame wsmarshaller.WSEvent
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestSubscribeStreamsEventsAndRestarts(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/v1/ws?identity=alice&names=message.created,thread.resolved&scope=chat-1")

	hello := readFrame(t, conn)
	assert.Equal(t, wsmarshaller.KindConnected, hello.Kind)
	assert.Equal(t, []string{"alice"}, f.presence.Snapshot("chat-1").Identities)

	_, err := f.deliver.Publish(context.Background(), event.New("message.created", map[string]any{"text": "hi"}, event.WithScope("chat-1")))
	require.NoError(t, err)

	frame := readFrame(t, conn)
	assert.Equal(t, wsmarshaller.KindEvent, frame.Kind)
	assert.Equal(t, "message.created", frame.Event)
	assert.Equal(t, map[string]any{"text": "hi"}, frame.Payload)

	f.deliver.Restart(context.Background(), "alice")

	bye := readFrame(t, conn)
	assert.Equal(t, wsmarshaller.KindDisconnected, bye.Kind)
	assert.Equal(t, model.DisconnectRestart, bye.Payload.(map[string]any)["reason"])

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, CloseResubscribe), "got %v", err)

	require.Eventually(t, func() bool {
		return f.hub.Stats().TotalSubscriptions == 0 && len(f.presence.Snapshot("chat-1").Identities) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{
		"/v1/ws?names=a",
		"/v1/ws?identity=alice",
		"/v1/ws?identity=alice&names=a&throttle_ms=soon",
		"/v1/ws?identity=alice&names=a&filter=" + "name%20%3D%3D",
	} {
		_, resp, err := websocket.DefaultDialer.Dial(f.url+path, nil)
		require.Error(t, err, path)
		require.NotNil(t, resp, path)
		assert.Contains(t, []int{http.StatusBadRequest, http.StatusUnauthorized}, resp.StatusCode, path)
		_ = resp.Body.Close()
	}
}

func TestPresenceStream(t *testing.T) {
	f := newFixture(t)
	f.presence.Join("org-1", "bob")

	conn := f.dial(t, "/v1/ws/presence?identity=carol&scope=org-1")
	first := readFrame(t, conn)
	assert.Equal(t, wsmarshaller.KindPresence, first.Kind)
	assert.Equal(t, []any{"bob"}, first.Payload.(map[string]any)["identities"])

	f.presence.Join("org-1", "dave")
	next := readFrame(t, conn)
	assert.Equal(t, []any{"bob", "dave"}, next.Payload.(map[string]any)["identities"])
}

func TestPeerCloseReleasesSubscription(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/v1/ws?identity=alice&names=a")
	readFrame(t, conn)
	assert.Equal(t, 2, f.hub.Stats().TotalSubscriptions)

	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second)))
	_ = conn.Close()

	require.Eventually(t, func() bool { return f.hub.Stats().TotalSubscriptions == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestParseSubscribeRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/ws?names=a,%20b&names=c&scope=s&throttle_ms=250&throttle_key=name&filter=true", nil)
	req, err := ParseSubscribeRequest(r, "alice")
	require.NoError(t, err)
	assert.Equal(t, service.SubscribeRequest{
		Identity:    "alice",
		Names:       []string{"a", "b", "c"},
		Scope:       "s",
		Filter:      "true",
		Throttle:    250 * time.Millisecond,
		ThrottleKey: "name",
	}, req)
}
