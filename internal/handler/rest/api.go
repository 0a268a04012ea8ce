package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/webitel/im-live-service/internal/domain/event"
	"github.com/webitel/im-live-service/internal/service"
)

// Emitter hands an event to every node of the cluster (through the broker).
type Emitter interface {
	Emit(ctx context.Context, ev event.Event) error
}

type APIHandler struct {
	deliverer service.Deliverer
	emitter   Emitter
	metrics   *MetricsHandler
	logger    *slog.Logger
}

func NewAPIHandler(deliverer service.Deliverer, emitter Emitter, metrics *MetricsHandler, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		deliverer: deliverer,
		emitter:   emitter,
		metrics:   metrics,
		logger:    logger,
	}
}

func (h *APIHandler) Register(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Get("/metrics", h.metrics.ServeHTTP)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", h.Publish)
		r.Post("/identities/{identity}/restart", h.Restart)
		r.Get("/stats", h.Stats)
	})
}

func (h *APIHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Publish accepts an event in wire form. With ?local=true it is fanned out on
// this node only and the response reports the receivers; otherwise it goes
// through the broker to every node.
func (h *APIHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&ev); err != nil {
		http.Error(w, "invalid event: "+err.Error(), http.StatusBadRequest)
		return
	}

	if local(r) {
		n, err := h.deliverer.Publish(r.Context(), ev)
		if err != nil {
			h.error(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"id": ev.GetID(), "receivers": n})
		return
	}

	if ev.GetName() == "" || ev.GetName() == event.RestartName {
		http.Error(w, "invalid event name", http.StatusBadRequest)
		return
	}
	if err := h.emitter.Emit(r.Context(), ev); err != nil {
		h.error(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": ev.GetID(), "forwarded": true})
}

// Restart forces every live subscription of the identity to resync.
func (h *APIHandler) Restart(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	if local(r) {
		n := h.deliverer.Restart(r.Context(), identity)
		writeJSON(w, http.StatusOK, map[string]any{"identity": identity, "receivers": n})
		return
	}
	if err := h.emitter.Emit(r.Context(), event.NewRestart(identity)); err != nil {
		h.error(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"identity": identity, "forwarded": true})
}

func (h *APIHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deliverer.Stats(r.Context()))
}

func (h *APIHandler) error(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrInvalidRequest) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Error("API_REQUEST_FAILED", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func local(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("local"))
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
