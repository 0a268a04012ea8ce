package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/webitel/im-live-service/internal/domain/registry"
)

// RegisterHubMetrics exports the registry counters through meter. Values are
// read from Stats at collection time.
func RegisterHubMetrics(meter metric.Meter, hub registry.Hubber) error {
	subs, err := meter.Int64ObservableGauge("im_live.hub.subscriptions",
		metric.WithDescription("Live bus subscriptions"))
	if err != nil {
		return fmt.Errorf("hub metrics: %w", err)
	}
	buffered, err := meter.Int64ObservableGauge("im_live.hub.buffered",
		metric.WithDescription("Events waiting in subscription queues"))
	if err != nil {
		return fmt.Errorf("hub metrics: %w", err)
	}
	published, err := meter.Int64ObservableCounter("im_live.hub.published",
		metric.WithDescription("Events published on the bus"))
	if err != nil {
		return fmt.Errorf("hub metrics: %w", err)
	}
	delivered, err := meter.Int64ObservableCounter("im_live.hub.delivered",
		metric.WithDescription("Event copies pushed into subscription queues"))
	if err != nil {
		return fmt.Errorf("hub metrics: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := hub.Stats()
		o.ObserveInt64(subs, int64(st.TotalSubscriptions))
		o.ObserveInt64(buffered, int64(st.Buffered))
		o.ObserveInt64(published, int64(st.Published))
		o.ObserveInt64(delivered, int64(st.Delivered))
		return nil
	}, subs, buffered, published, delivered)
	if err != nil {
		return fmt.Errorf("hub metrics: %w", err)
	}
	return nil
}
