package webhook

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	MetricSuccess = "im_live.webhook.delivery.success"
	MetricFailure = "im_live.webhook.delivery.failure"
)

// Failure reasons recorded on the failure counter.
const (
	ReasonStatus      = "status"
	ReasonTransport   = "transport"
	ReasonBreakerOpen = "breaker_open"
	ReasonSecret      = "secret"
	ReasonRequest     = "request"
)

// Recorder counts delivery attempts.
type Recorder interface {
	Success(ctx context.Context, job Job)
	Failure(ctx context.Context, job Job, reason string)
}

type otelRecorder struct {
	success metric.Int64Counter
	failure metric.Int64Counter
}

func NewRecorder(meter metric.Meter) (Recorder, error) {
	success, err := meter.Int64Counter(MetricSuccess,
		metric.WithDescription("Webhook attempts answered with 2xx"),
		metric.WithUnit("{attempt}"))
	if err != nil {
		return nil, fmt.Errorf("webhook metrics: %w", err)
	}
	failure, err := meter.Int64Counter(MetricFailure,
		metric.WithDescription("Webhook attempts that failed"),
		metric.WithUnit("{attempt}"))
	if err != nil {
		return nil, fmt.Errorf("webhook metrics: %w", err)
	}
	return &otelRecorder{success: success, failure: failure}, nil
}

func (r *otelRecorder) Success(ctx context.Context, job Job) {
	r.success.Add(ctx, 1, metric.WithAttributes(jobAttrs(job)...))
}

func (r *otelRecorder) Failure(ctx context.Context, job Job, reason string) {
	attrs := append(jobAttrs(job), attribute.String("reason", reason))
	r.failure.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func jobAttrs(job Job) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("app_id", job.AppID),
		attribute.String("event_type", job.EventType),
	}
}
