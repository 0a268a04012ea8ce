package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"

	"github.com/webitel/im-live-service/config"
	"github.com/webitel/im-live-service/internal/adapter/pubsub"
	"github.com/webitel/im-live-service/internal/service"
	"github.com/webitel/im-live-service/internal/webhook"
)

const (
	HandlerEvents      = "ON_EVENT"
	HandlerWebhookJobs = "ON_WEBHOOK_JOB"
)

// JobPerformer executes one webhook delivery attempt.
type JobPerformer interface {
	Perform(ctx context.Context, job webhook.Job) error
}

type MessageHandler struct {
	deliverer  service.Deliverer
	worker     JobPerformer
	dispatcher pubsub.Dispatcher
	provider   *pubsub.Provider
	cfg        *config.Config
	logger     *slog.Logger
	wmLogger   watermill.LoggerAdapter
}

func NewMessageHandler(
	deliverer service.Deliverer,
	worker JobPerformer,
	dispatcher pubsub.Dispatcher,
	provider *pubsub.Provider,
	cfg *config.Config,
	logger *slog.Logger,
	wmLogger watermill.LoggerAdapter,
) *MessageHandler {
	return &MessageHandler{
		deliverer:  deliverer,
		worker:     worker,
		dispatcher: dispatcher,
		provider:   provider,
		cfg:        cfg,
		logger:     logger,
		wmLogger:   wmLogger,
	}
}

func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 15 * time.Second}, logger)
	if err != nil {
		return nil, fmt.Errorf("ROUTER_SETUP_FAILED: %w", err)
	}
	return router, nil
}

// [REGISTRATION_PIPELINE]
func (h *MessageHandler) RegisterHandlers(router *message.Router) error {
	ps := h.cfg.PubSub

	instanceID := h.cfg.Service.ID
	if instanceID == "" {
		instanceID = uuid.NewString()[:8]
	}

	configs := []struct {
		name       string
		queue      string
		exchange   string
		topic      string
		routingKey string
		handler    message.NoPublishHandlerFunc
	}{
		// [UNIQUE_NODE_QUEUE]
		// Every node needs its own copy of each event.
		// Format: im-live.events.ingest.v1.b23a8f12
		{
			name:       HandlerEvents,
			queue:      fmt.Sprintf("%s.%s", ps.IngestQueue, instanceID),
			exchange:   ps.EventsExchange,
			topic:      h.provider.IngestTopic(),
			routingKey: ps.EventsTopic,
			handler:    Bind(h, decodeEvent, h.OnEventV1),
		},
		// [SHARED_JOB_QUEUE]
		// A webhook job is performed by exactly one node.
		{
			name:       HandlerWebhookJobs,
			queue:      ps.JobsQueue,
			exchange:   ps.EventsExchange,
			topic:      ps.JobsTopic,
			routingKey: ps.JobsTopic,
			handler:    Bind(h, webhook.DecodeJob, h.OnWebhookJobV1),
		},
	}

	for _, c := range configs {
		sub, err := h.provider.Subscriber(c.queue, c.exchange, c.routingKey)
		if err != nil {
			return err
		}

		poison, err := middleware.PoisonQueue(h.dispatcher.Publisher(), c.queue+".poison")
		if err != nil {
			return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
		}

		router.AddConsumerHandler(c.name, c.topic, sub, c.handler).AddMiddleware(
			TraceIDMiddleware,
			LoggingMiddleware(h.logger),
			NewRetryMiddleware(h.wmLogger).Middleware,
			poison,
			middleware.NewThrottle(1000, time.Second).Middleware,
			middleware.Timeout(time.Second*30),
		)
		h.logger.Info("AMQP_HANDLER_REGISTERED", "handler", c.name, "queue", c.queue, "topic", c.topic)
	}

	return nil
}
