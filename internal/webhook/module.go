package webhook

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"

	"github.com/webitel/im-live-service/config"
	"github.com/webitel/im-live-service/internal/clock"
	"github.com/webitel/im-live-service/internal/domain/registry"
)

var Module = fx.Module("webhook",
	fx.Provide(
		provideSecrets,
		provideScheduler,
		provideWorker,
		provideNotifier,
		func(meter metric.Meter) (Recorder, error) { return NewRecorder(meter) },
	),
	fx.Invoke(func(lc fx.Lifecycle, n *Notifier) {
		lc.Append(fx.StartStopHook(n.Start, n.Stop))
	}),
)

func provideSecrets(lc fx.Lifecycle, cfg *config.Config) SecretStore {
	cached := NewCachedSecrets(NewStaticSecrets(cfg.Webhook.Endpoints), cfg.Webhook.SecretTTL)
	lc.Append(fx.StartStopHook(cached.Start, cached.Stop))
	return cached
}

func provideScheduler(lc fx.Lifecycle, cfg *config.Config, pub Publisher, logger *slog.Logger) Scheduler {
	s := NewBrokerScheduler(pub, cfg.PubSub.JobsTopic, clock.Real(), logger.With("component", "webhook-scheduler"))
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return s.Stop(ctx) }})
	return s
}

func provideWorker(cfg *config.Config, secrets SecretStore, scheduler Scheduler, recorder Recorder, logger *slog.Logger) (*Worker, error) {
	wc := cfg.Webhook
	return NewWorker(secrets, scheduler, recorder,
		WithHTTPClient(&http.Client{Timeout: wc.Timeout}),
		WithWorkerLogger(logger.With("component", "webhook-worker")),
		WithRateLimit(wc.RateLimit, wc.RateBurst),
		WithHeaderPrefix(wc.HeaderPrefix),
		WithBreaker(wc.BreakerFailures, wc.BreakerOpen, wc.BreakerHosts),
	)
}

func provideNotifier(cfg *config.Config, hub registry.Hubber, scheduler Scheduler, logger *slog.Logger) *Notifier {
	return NewNotifier(hub, cfg.Webhook.Endpoints, scheduler, logger.With("component", "webhook-notifier"))
}
