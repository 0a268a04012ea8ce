package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/webitel/im-live-service/config"
	"github.com/webitel/im-live-service/infra/server/http/interceptors"
	"github.com/webitel/im-live-service/internal/domain/model"
	"github.com/webitel/im-live-service/internal/domain/queue"
	"github.com/webitel/im-live-service/internal/domain/stream"
	wsmarshaller "github.com/webitel/im-live-service/internal/handler/marshaller/ws"
	"github.com/webitel/im-live-service/internal/service"
)

// CloseResubscribe is the close code telling the client to refetch its state
// and open a new connection.
const CloseResubscribe = 4000

type WSHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	presence  *service.PresenceTracker
	cfg       config.LiveConfig
	upgrader  websocket.Upgrader
}

func NewWSHandler(logger *slog.Logger, deliverer service.Deliverer, presence *service.PresenceTracker, cfg *config.Config) *WSHandler {
	return &WSHandler{
		logger:    logger,
		deliverer: deliverer,
		presence:  presence,
		cfg:       cfg.Live,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Security: adjust for production
		},
	}
}

// Register mounts the WebSocket endpoints behind the identity interceptor.
func (h *WSHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(interceptors.NewIdentityInterceptor())
		r.Get("/v1/ws", h.Subscribe)
		r.Get("/v1/ws/presence", h.Presence)
	})
}

// Subscribe streams bus events: ?names=a,b&scope=&filter=&throttle_ms=&throttle_key=
func (h *WSHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	identity, _ := interceptors.GetIdentity(r.Context())

	req, err := ParseSubscribeRequest(r, identity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// 1. SUBSCRIBE BEFORE UPGRADING so validation errors are plain HTTP
	sess, err := h.deliverer.Subscribe(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	defer sess.Close()

	// 2. UPGRADE TO WEBSOCKET
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WS_UPGRADE_FAILED", "err", err)
		return
	}
	defer conn.Close()

	if req.Scope != "" {
		leave := h.presence.Join(req.Scope, identity)
		defer leave()
	}

	log := h.logger.With("identity", identity, "session_id", sess.ID())
	log.Info("WS_OPENED", "names", sess.Names())

	hello, err := wsmarshaller.MarshallConnected(model.ConnectedPayload{
		Ok:             true,
		SubscriptionID: sess.ID().String(),
		Names:          sess.Names(),
		ServerVersion:  model.ServerVersion,
	})
	if err != nil {
		log.Error("WS_MARSHAL_FAILED", "err", err)
		return
	}

	// 3. MAIN WS PUMP LOOP
	err = pump(r.Context(), h, conn, hello, sess.Next, wsmarshaller.MarshallDeliveryEvent)
	h.finish(log, conn, err)
}

// Presence streams the live presence snapshot of ?scope=.
func (h *WSHandler) Presence(w http.ResponseWriter, r *http.Request) {
	identity, _ := interceptors.GetIdentity(r.Context())
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		http.Error(w, "scope is required", http.StatusBadRequest)
		return
	}

	q := h.presence.Watch(identity, scope)
	defer q.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WS_UPGRADE_FAILED", "err", err)
		return
	}
	defer conn.Close()

	log := h.logger.With("identity", identity, "scope", scope)
	log.Info("WS_PRESENCE_OPENED")

	err = pump(r.Context(), h, conn, nil, q.Next, wsmarshaller.MarshallPresence)
	h.finish(log, conn, err)
}

// pump writes hello (if any) and then every item of next until next fails
// or the peer goes away. The returned error is what ended the loop.
func pump[T any](ctx context.Context, h *WSHandler, conn *websocket.Conn, hello []byte, next func(context.Context) (T, error), encode func(T) ([]byte, error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go h.readPump(conn, cancel)
	go h.pingPump(ctx, conn)

	if hello != nil {
		if err := h.write(conn, hello); err != nil {
			return err
		}
	}

	for {
		item, err := next(ctx)
		if err != nil {
			return err
		}

		data, err := encode(item)
		if err != nil {
			h.logger.Error("WS_MARSHAL_FAILED", "err", err)
			continue
		}
		if err := h.write(conn, data); err != nil {
			return err
		}
	}
}

func (h *WSHandler) write(conn *websocket.Conn, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readPump discards client frames; it exists to process control frames and
// to notice the peer going away.
func (h *WSHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(4 << 10)
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(2 * h.cfg.PingInterval)) }
	extend()
	conn.SetPongHandler(func(string) error { extend(); return nil })

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		extend()
	}
}

func (h *WSHandler) pingPump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// finish translates the terminal error into the close handshake.
func (h *WSHandler) finish(log *slog.Logger, conn *websocket.Conn, err error) {
	var (
		code   int
		reason string
		text   string
	)
	switch {
	case stream.IsRestart(err):
		code, reason, text = CloseResubscribe, model.DisconnectRestart, "resubscribe"
	case errors.Is(err, queue.ErrClosed):
		code, reason, text = websocket.CloseGoingAway, model.DisconnectShutdown, "shutdown"
	case errors.Is(err, context.Canceled), isCloseError(err):
		log.Info("WS_CLOSED_BY_PEER")
		return
	default:
		code, reason, text = websocket.CloseInternalServerErr, model.DisconnectFailure, "failure"
	}

	log.Info("WS_CLOSING", "reason", reason, "err", err)
	if bye, mErr := wsmarshaller.MarshallDisconnected(model.DisconnectedPayload{Reason: reason, Code: text}); mErr == nil {
		_ = h.write(conn, bye)
	}
	deadline := time.Now().Add(h.cfg.WriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

func isCloseError(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}

// ParseSubscribeRequest reads the subscription parameters from the query.
func ParseSubscribeRequest(r *http.Request, identity string) (service.SubscribeRequest, error) {
	q := r.URL.Query()
	req := service.SubscribeRequest{
		Identity:    identity,
		Scope:       q.Get("scope"),
		Filter:      q.Get("filter"),
		ThrottleKey: q.Get("throttle_key"),
	}
	for _, raw := range q["names"] {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				req.Names = append(req.Names, name)
			}
		}
	}
	if ms := q.Get("throttle_ms"); ms != "" {
		n, err := strconv.Atoi(ms)
		if err != nil {
			return req, errors.New("throttle_ms must be an integer")
		}
		req.Throttle = time.Duration(n) * time.Millisecond
	}
	return req, nil
}
