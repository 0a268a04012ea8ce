package amqp

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/webitel/im-live-service/internal/webhook"
)

var Module = fx.Module("amqp-handler",
	fx.Provide(
		func(w *webhook.Worker) JobPerformer { return w },
		NewMessageHandler,
		NewWatermillRouter,
	),
	fx.Invoke(func(router *message.Router, h *MessageHandler) error {
		return h.RegisterHandlers(router)
	}),
	fx.Invoke(runRouter),
)

// runRouter starts consuming once the application is up and closes the
// router (waiting for in-flight handlers) on stop.
func runRouter(lc fx.Lifecycle, router *message.Router, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					logger.Error("ROUTER_STOPPED", "err", err)
				}
			}()
			select {
			case <-router.Running():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		OnStop: func(context.Context) error {
			return router.Close()
		},
	})
}
