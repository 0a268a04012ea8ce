package rest

import (
	"log/slog"

	"go.uber.org/fx"

	httpsrv "github.com/webitel/im-live-service/infra/server/http"
	"github.com/webitel/im-live-service/internal/service"
)

var Module = fx.Module("rest-api",
	fx.Provide(
		NewMetricsHandler,
		func(d service.Deliverer, e Emitter, m *MetricsHandler, logger *slog.Logger) *APIHandler {
			return NewAPIHandler(d, e, m, logger.With("component", "api"))
		},
	),
	fx.Invoke(func(server *httpsrv.Server, h *APIHandler) { h.Register(server.Router) }),
)
