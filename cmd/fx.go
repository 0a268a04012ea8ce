package cmd

import (
	"log/slog"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/webitel/im-live-service/config"
	httpsrv "github.com/webitel/im-live-service/infra/server/http"
	"github.com/webitel/im-live-service/internal/adapter/pubsub"
	"github.com/webitel/im-live-service/internal/domain/registry"
	amqpdi "github.com/webitel/im-live-service/internal/handler/amqp"
	"github.com/webitel/im-live-service/internal/handler/lp"
	"github.com/webitel/im-live-service/internal/handler/rest"
	"github.com/webitel/im-live-service/internal/handler/ws"
	"github.com/webitel/im-live-service/internal/service"
	"github.com/webitel/im-live-service/internal/webhook"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideMeter,
			func(d pubsub.Dispatcher) webhook.Publisher { return d },
			func(f *pubsub.EventForwarder) rest.Emitter { return f },
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		fx.StopTimeout(cfg.Service.ShutdownTimeout),
		registry.Module,
		service.Module,
		pubsub.Module,
		webhook.Module,
		httpsrv.Module,
		ws.Module,
		lp.Module,
		rest.Module,
		amqpdi.Module,
	)
}
