package lp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jellydator/ttlcache/v3"

	"github.com/webitel/im-live-service/config"
	"github.com/webitel/im-live-service/infra/server/http/interceptors"
	"github.com/webitel/im-live-service/internal/domain/event"
	"github.com/webitel/im-live-service/internal/domain/model"
	"github.com/webitel/im-live-service/internal/domain/stream"
	lpmarshaller "github.com/webitel/im-live-service/internal/handler/marshaller/lp"
	"github.com/webitel/im-live-service/internal/service"
)

// OpenRequest is the body of POST /v1/lp/sessions.
type OpenRequest struct {
	Names       []string `json:"names"`
	Scope       string   `json:"scope"`
	Filter      string   `json:"filter"`
	ThrottleMs  int      `json:"throttle_ms"`
	ThrottleKey string   `json:"throttle_key"`
}

type lpSession struct {
	*service.Session
	// polling admits one poll at a time
	polling sync.Mutex
}

// LPHandler keeps subscriptions alive between polls. A session that is not
// polled for LongPollIdle is evicted and its subscription closed.
type LPHandler struct {
	deliverer service.Deliverer
	cfg       config.LiveConfig
	logger    *slog.Logger
	sessions  *ttlcache.Cache[string, *lpSession]
}

func NewLPHandler(deliverer service.Deliverer, cfg *config.Config, logger *slog.Logger) *LPHandler {
	sessions := ttlcache.New[string, *lpSession](
		ttlcache.WithTTL[string, *lpSession](cfg.Live.LongPollIdle),
	)
	sessions.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *lpSession]) {
		item.Value().Close()
		logger.Debug("LP_SESSION_EVICTED", "session_id", item.Key(), "reason", reason)
	})

	return &LPHandler{
		deliverer: deliverer,
		cfg:       cfg.Live,
		logger:    logger,
		sessions:  sessions,
	}
}

func (h *LPHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(interceptors.NewIdentityInterceptor())
		r.Post("/v1/lp/sessions", h.Open)
		r.Get("/v1/lp/sessions/{sessionID}", h.Poll)
		r.Delete("/v1/lp/sessions/{sessionID}", h.Close)
	})
}

// Start runs the idle eviction loop until Stop.
func (h *LPHandler) Start() { go h.sessions.Start() }

// Stop ends the eviction loop and closes every session.
func (h *LPHandler) Stop() {
	h.sessions.Stop()
	h.sessions.DeleteAll()
}

func (h *LPHandler) Open(w http.ResponseWriter, r *http.Request) {
	identity, _ := interceptors.GetIdentity(r.Context())

	var body OpenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	sess, err := h.deliverer.Subscribe(r.Context(), service.SubscribeRequest{
		Identity:    identity,
		Names:       body.Names,
		Scope:       body.Scope,
		Filter:      body.Filter,
		Throttle:    time.Duration(body.ThrottleMs) * time.Millisecond,
		ThrottleKey: body.ThrottleKey,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	id := sess.ID().String()
	h.sessions.Set(id, &lpSession{Session: sess}, ttlcache.DefaultTTL)

	data, err := lpmarshaller.MarshallOpened(model.ConnectedPayload{
		Ok:             true,
		SubscriptionID: id,
		Names:          sess.Names(),
		ServerVersion:  model.ServerVersion,
	})
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, data)
}

// Poll holds the request until an event arrives or the poll timeout passes.
// It answers 200 with a batch, 204 on timeout, and 409 {"restart":true} once
// the identity was asked to resubscribe (the session is gone by then).
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := h.lookup(r, id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if !sess.polling.TryLock() {
		http.Error(w, "poll already in progress", http.StatusTooManyRequests)
		return
	}
	defer sess.polling.Unlock()

	ctx, cancel := context.WithTimeout(r.Context(), h.pollTimeout(r))
	defer cancel()

	// 1. Wait for data or timeout.
	first, err := sess.Next(ctx)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil:
		w.WriteHeader(http.StatusNoContent)
		return
	case r.Context().Err() != nil:
		// Client disconnected.
		return
	default:
		h.fail(w, id, err)
		return
	}

	// 2. Drain whatever else is ready to provide batching.
	events := []event.Event{first}
	rest, err := sess.Drain()
	events = append(events, rest...)
	if err != nil && !stream.IsRestart(err) {
		h.logger.Warn("LP_DRAIN_FAILED", "session_id", id, "err", err)
	}
	// A restart seen while draining is reported by the next poll.

	data, err := lpmarshaller.MarshallEvents(events)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *LPHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := h.lookup(r, id); !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	h.sessions.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

// lookup finds a session owned by the caller; Get also refreshes its TTL.
func (h *LPHandler) lookup(r *http.Request, id string) (*lpSession, bool) {
	identity, _ := interceptors.GetIdentity(r.Context())
	item := h.sessions.Get(id)
	if item == nil || item.Value().Identity() != identity {
		return nil, false
	}
	return item.Value(), true
}

func (h *LPHandler) fail(w http.ResponseWriter, id string, err error) {
	h.sessions.Delete(id)

	if stream.IsRestart(err) {
		h.logger.Info("LP_SESSION_RESTARTED", "session_id", id)
		writeJSON(w, http.StatusConflict, lpmarshaller.MarshallRestart())
		return
	}
	h.logger.Warn("LP_SESSION_FAILED", "session_id", id, "err", err)
	http.Error(w, "subscription ended", http.StatusGone)
}

func (h *LPHandler) pollTimeout(r *http.Request) time.Duration {
	timeout := h.cfg.LongPollTimeout
	if raw := r.URL.Query().Get("timeout_ms"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms >= 0 {
			timeout = min(timeout, time.Duration(ms)*time.Millisecond)
		}
	}
	return timeout
}

func writeJSON(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
