package lp

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-live-service/config"
	httpsrv "github.com/webitel/im-live-service/infra/server/http"
	"github.com/webitel/im-live-service/internal/service"
)

var Module = fx.Module("delivery-lp",
	fx.Provide(func(d service.Deliverer, cfg *config.Config, logger *slog.Logger) *LPHandler {
		return NewLPHandler(d, cfg, logger.With("component", "lp"))
	}),
	fx.Invoke(func(lc fx.Lifecycle, server *httpsrv.Server, h *LPHandler) {
		h.Register(server.Router)
		lc.Append(fx.StartStopHook(h.Start, h.Stop))
	}),
)
