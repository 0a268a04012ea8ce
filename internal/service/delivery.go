package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/webitel/im-live-service/config"
	"github.com/webitel/im-live-service/internal/domain/event"
	"github.com/webitel/im-live-service/internal/domain/model"
	"github.com/webitel/im-live-service/internal/domain/registry"
	"github.com/webitel/im-live-service/internal/domain/stream"
)

// ErrInvalidRequest marks subscribe and publish requests the caller must fix.
var ErrInvalidRequest = errors.New("invalid request")

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS (WebSocket/long-poll/HTTP)
type Deliverer interface {
	Subscribe(ctx context.Context, req SubscribeRequest) (*Session, error)
	Publish(ctx context.Context, ev event.Event) (int, error)
	Restart(ctx context.Context, identity string) int
	Stats(ctx context.Context) model.HubStats
}

type DeliveryService struct {
	hub     registry.Hubber
	filters *FilterCompiler
	hubCfg  config.HubConfig
	liveCfg config.LiveConfig
	logger  *slog.Logger
}

func NewDeliveryService(hub registry.Hubber, filters *FilterCompiler, cfg *config.Config, logger *slog.Logger) *DeliveryService {
	return &DeliveryService{
		hub:     hub,
		filters: filters,
		hubCfg:  cfg.Hub,
		liveCfg: cfg.Live,
		logger:  logger,
	}
}

// [SUBSCRIBE] VALIDATES THE REQUEST AND ASSEMBLES THE STREAM CHAIN
func (s *DeliveryService) Subscribe(_ context.Context, req SubscribeRequest) (*Session, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	// Compile before touching the hub so a bad expression leaks nothing.
	pred, err := s.filters.Compile(req.Filter)
	if err != nil {
		return nil, err
	}
	keyFn, ok := throttleKey(req.ThrottleKey)
	if !ok {
		return nil, fmt.Errorf("%w: unknown throttle key %q", ErrInvalidRequest, req.ThrottleKey)
	}

	var opts []registry.SubscribeOption
	if req.Scope != "" {
		opts = append(opts, registry.WithScope(req.Scope))
	}
	sub := s.hub.Subscribe(req.Names, opts...)

	var events stream.Stream[event.Event] = sub
	events = stream.WithRestartSentinel(events, s.hub, req.Identity)
	if pred != nil {
		events = stream.Filter(events, pred)
	}
	if req.Throttle > 0 {
		var topts []stream.ThrottleOption[event.Event]
		if keyFn != nil {
			topts = append(topts, stream.WithKey(keyFn))
		}
		events = stream.Throttle(events, req.Throttle, topts...)
	}

	return &Session{
		id:       sub.ID(),
		identity: req.Identity,
		names:    sub.Names(),
		events:   events,
	}, nil
}

func (s *DeliveryService) validate(req SubscribeRequest) error {
	switch {
	case req.Identity == "":
		return fmt.Errorf("%w: identity is required", ErrInvalidRequest)
	case len(req.Names) == 0:
		return fmt.Errorf("%w: at least one event name is required", ErrInvalidRequest)
	case len(req.Names) > s.hubCfg.MaxNames:
		return fmt.Errorf("%w: %d names exceed the limit of %d", ErrInvalidRequest, len(req.Names), s.hubCfg.MaxNames)
	case slices.Contains(req.Names, event.RestartName):
		return fmt.Errorf("%w: %s is reserved", ErrInvalidRequest, event.RestartName)
	case req.Throttle < 0 || req.Throttle > s.liveCfg.MaxThrottle:
		return fmt.Errorf("%w: throttle must be within [0, %s]", ErrInvalidRequest, s.liveCfg.MaxThrottle)
	}
	return nil
}

// [PUBLISH] FANS OUT TO EVERY LOCAL SUBSCRIBER
func (s *DeliveryService) Publish(_ context.Context, ev event.Event) (int, error) {
	switch {
	case ev.GetName() == "":
		return 0, fmt.Errorf("%w: event name is required", ErrInvalidRequest)
	case ev.GetName() == event.RestartName:
		return 0, fmt.Errorf("%w: use Restart to publish %s", ErrInvalidRequest, event.RestartName)
	}
	return s.hub.Publish(ev), nil
}

func (s *DeliveryService) Restart(_ context.Context, identity string) int {
	return s.hub.Restart(identity)
}

func (s *DeliveryService) Stats(context.Context) model.HubStats {
	return s.hub.Stats()
}
