package lp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-live-service/config"
	"github.com/webitel/im-live-service/infra/server/http/interceptors"
	"github.com/webitel/im-live-service/internal/domain/event"
	"github.com/webitel/im-live-service/internal/domain/model"
	"github.com/webitel/im-live-service/internal/domain/registry"
	lpmarshaller "github.com/webitel/im-live-service/internal/handler/marshaller/lp"
	"github.com/webitel/im-live-service/internal/service"
)

type fixture struct {
	hub     *registry.Hub
	deliver service.Deliverer
	handler *LPHandler
	srv     *httptest.Server
}

func newFixture(t *testing.T, idle time.Duration) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	cfg := &config.Config{
		Hub: config.HubConfig{MaxNames: 8},
		Live: config.LiveConfig{
			MaxThrottle:     time.Second,
			LongPollTimeout: 200 * time.Millisecond,
			LongPollIdle:    idle,
		},
	}

	hub := registry.NewHub()
	filters, err := service.NewFilterCompiler(8)
	require.NoError(t, err)
	d := service.NewDeliveryService(hub, filters, cfg, logger)

	h := NewLPHandler(d, cfg, logger)
	h.Start()
	t.Cleanup(h.Stop)

	r := chi.NewRouter()
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &fixture{hub: hub, deliver: d, handler: h, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, identity, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(interceptors.IdentityHeader, identity)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (f *fixture) open(t *testing.T, identity, body string) string {
	t.Helper()
	status, data := f.do(t, http.MethodPost, "/v1/lp/sessions", identity, body)
	require.Equal(t, http.StatusCreated, status, string(data))

	var opened model.ConnectedPayload
	require.NoError(t, json.Unmarshal(data, &opened))
	assert.True(t, opened.Ok)
	return opened.SubscriptionID
}

func TestPollBatchesEvents(t *testing.T) {
	f := newFixture(t, time.Minute)
	id := f.open(t, "alice", `{"names":["a","b"]}`)

	for _, name := range []string{"a", "b", "a"} {
		_, err := f.deliver.Publish(context.Background(), event.New(name, name))
		require.NoError(t, err)
	}

	var got []string
	require.Eventually(t, func() bool {
		status, data := f.do(t, http.MethodGet, "/v1/lp/sessions/"+id, "alice", "")
		if status == http.StatusOK {
			var res lpmarshaller.Response
			require.NoError(t, json.Unmarshal(data, &res))
			for _, ev := range res.Events {
				got = append(got, ev.Type)
			}
		}
		return len(got) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "a"}, got)
}

func TestPollTimesOutEmpty(t *testing.T) {
	f := newFixture(t, time.Minute)
	id := f.open(t, "alice", `{"names":["a"]}`)

	status, _ := f.do(t, http.MethodGet, "/v1/lp/sessions/"+id+"?timeout_ms=20", "alice", "")
	assert.Equal(t, http.StatusNoContent, status)
}

func TestPollReportsRestart(t *testing.T) {
	f := newFixture(t, time.Minute)
	id := f.open(t, "alice", `{"names":["a"]}`)

	f.deliver.Restart(context.Background(), "alice")

	status, data := f.do(t, http.MethodGet, "/v1/lp/sessions/"+id, "alice", "")
	require.Equal(t, http.StatusConflict, status)
	assert.JSONEq(t, `{"events":[],"restart":true}`, string(data))

	status, _ = f.do(t, http.MethodGet, "/v1/lp/sessions/"+id, "alice", "")
	assert.Equal(t, http.StatusNotFound, status)
	require.Eventually(t, func() bool { return f.hub.Stats().TotalSubscriptions == 0 }, time.Second, 10*time.Millisecond)
}

func TestSessionsAreOwnedByIdentity(t *testing.T) {
	f := newFixture(t, time.Minute)
	id := f.open(t, "alice", `{"names":["a"]}`)

	status, _ := f.do(t, http.MethodGet, "/v1/lp/sessions/"+id, "mallory", "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = f.do(t, http.MethodDelete, "/v1/lp/sessions/"+id, "mallory", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodDelete, "/v1/lp/sessions/"+id, "alice", "")
	assert.Equal(t, http.StatusNoContent, status)
	require.Eventually(t, func() bool { return f.hub.Stats().TotalSubscriptions == 0 }, time.Second, 10*time.Millisecond)
}

func TestOpenValidation(t *testing.T) {
	f := newFixture(t, time.Minute)

	status, _ := f.do(t, http.MethodPost, "/v1/lp/sessions", "alice", `{"names":[]}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPost, "/v1/lp/sessions", "alice", `not json`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPost, "/v1/lp/sessions", "", `{"names":["a"]}`)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestIdleSessionsAreEvicted(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	f.open(t, "alice", `{"names":["a"]}`)
	assert.Equal(t, 2, f.hub.Stats().TotalSubscriptions)

	require.Eventually(t, func() bool { return f.hub.Stats().TotalSubscriptions == 0 }, 2*time.Second, 10*time.Millisecond)
}
