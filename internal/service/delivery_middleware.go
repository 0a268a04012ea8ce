package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/im-live-service/internal/domain/event"
	"github.com/webitel/im-live-service/internal/domain/model"
)

// DelivererMiddleware implements [DECORATOR_PATTERN] to add observability
// to subscription management without touching business logic.
type DelivererMiddleware struct {
	Next   Deliverer
	Logger *slog.Logger
}

func NewDelivererMiddleware(next Deliverer, logger *slog.Logger) Deliverer {
	return &DelivererMiddleware{
		Next:   next,
		Logger: logger,
	}
}

func (m *DelivererMiddleware) Subscribe(ctx context.Context, req SubscribeRequest) (*Session, error) {
	sess, err := m.Next.Subscribe(ctx, req)
	if err != nil {
		m.Logger.Warn("SUBSCRIBE_REJECTED",
			"identity", req.Identity,
			"names", req.Names,
			"err", err,
		)
		return nil, err
	}

	m.Logger.Debug("SUBSCRIBED",
		"identity", req.Identity,
		"session_id", sess.ID(),
		"names", sess.Names(),
		"scope", req.Scope,
		"filtered", req.Filter != "",
		"throttle", req.Throttle,
	)
	return sess, nil
}

// Publish wraps the fan-out with execution timing and outcome logging.
func (m *DelivererMiddleware) Publish(ctx context.Context, ev event.Event) (int, error) {
	start := time.Now()

	n, err := m.Next.Publish(ctx, ev)
	if err != nil {
		m.Logger.Warn("PUBLISH_REJECTED", "event", ev.GetName(), "err", err)
		return n, err
	}

	m.Logger.Debug("PUBLISHED",
		"event", ev.GetName(),
		"event_id", ev.GetID(),
		"scope", ev.GetScopeKey(),
		"receivers", n,
		"duration_us", time.Since(start).Microseconds(),
	)
	return n, nil
}

func (m *DelivererMiddleware) Restart(ctx context.Context, identity string) int {
	n := m.Next.Restart(ctx, identity)
	m.Logger.Info("RESTART_PUBLISHED", "identity", identity, "receivers", n)
	return n
}

func (m *DelivererMiddleware) Stats(ctx context.Context) model.HubStats {
	return m.Next.Stats(ctx)
}
