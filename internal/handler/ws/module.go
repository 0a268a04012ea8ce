package ws

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-live-service/config"
	httpsrv "github.com/webitel/im-live-service/infra/server/http"
	"github.com/webitel/im-live-service/internal/service"
)

var Module = fx.Module("delivery-ws",
	fx.Provide(func(logger *slog.Logger, d service.Deliverer, p *service.PresenceTracker, cfg *config.Config) *WSHandler {
		return NewWSHandler(logger.With("component", "ws"), d, p, cfg)
	}),
	fx.Invoke(func(server *httpsrv.Server, h *WSHandler) { h.Register(server.Router) }),
)
