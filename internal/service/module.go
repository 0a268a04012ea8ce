package service

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-live-service/config"
	"github.com/webitel/im-live-service/internal/domain/registry"
)

const filterCacheSize = 4096

var Module = fx.Module(
	"service",

	fx.Provide(
		// [DECORATION_LAYER] Transports only ever see the logging Deliverer
		func(hub registry.Hubber, filters *FilterCompiler, cfg *config.Config, logger *slog.Logger) Deliverer {
			svc := NewDeliveryService(hub, filters, cfg, logger)
			return NewDelivererMiddleware(svc, logger.With("component", "delivery"))
		},
		func() (*FilterCompiler, error) { return NewFilterCompiler(filterCacheSize) },
		func(hub registry.Hubber, cfg *config.Config, logger *slog.Logger) *PresenceTracker {
			return NewPresenceTracker(hub, cfg.Live.PresenceThrottle, logger.With("component", "presence"))
		},
	),

	fx.Invoke(RegisterHubMetrics),
)
