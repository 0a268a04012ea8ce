package pubsub

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/webitel/im-live-service/config"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		NewProvider,
		providePublisher,
		NewDispatcher,
		NewEventForwarder,
	),
	fx.Invoke(func(lc fx.Lifecycle, p *Provider) {
		lc.Append(fx.StopHook(p.Close))
	}),
)

func providePublisher(p *Provider, cfg *config.Config) (message.Publisher, error) {
	return p.Publisher(cfg.PubSub.EventsExchange)
}
