package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"

	"github.com/webitel/im-live-service/config"
	"github.com/webitel/im-live-service/internal/domain/event"
	"github.com/webitel/im-live-service/internal/domain/registry"
)

// Notifier turns bus events into webhook jobs for every endpoint listening to
// them. Submission is fire-and-forget: the publisher of the event never learns
// about delivery.
type Notifier struct {
	hub       registry.Hubber
	endpoints []config.EndpointConfig
	scheduler Scheduler
	logger    *slog.Logger

	mu     sync.Mutex
	sub    *registry.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

func NewNotifier(hub registry.Hubber, endpoints []config.EndpointConfig, scheduler Scheduler, logger *slog.Logger) *Notifier {
	return &Notifier{
		hub:       hub,
		endpoints: endpoints,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Names lists every event name at least one endpoint listens to.
func (n *Notifier) Names() []string {
	var names []string
	for _, ep := range n.endpoints {
		names = append(names, ep.Events...)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// Start subscribes to the bus. It is a no-op without endpoints.
func (n *Notifier) Start() {
	names := n.Names()
	if len(names) == 0 {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.sub = n.hub.Subscribe(names)
	n.cancel = cancel
	n.done = make(chan struct{})

	go n.run(ctx, n.sub, n.done)
	n.logger.Info("WEBHOOK_NOTIFIER_STARTED", "names", names, "endpoints", len(n.endpoints))
}

func (n *Notifier) run(ctx context.Context, sub *registry.Subscription, done chan struct{}) {
	defer close(done)
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		n.Notify(ctx, ev)
	}
}

// Notify submits one job per endpoint subscribed to ev and returns how many
// were accepted by the scheduler.
func (n *Notifier) Notify(ctx context.Context, ev event.Event) int {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("WEBHOOK_ENCODE_FAILED", "event", ev.GetName(), "err", err)
		return 0
	}

	submitted := 0
	for _, ep := range n.endpoints {
		if !slices.Contains(ep.Events, ev.GetName()) {
			continue
		}

		body, err := Job{
			EventType: ev.GetName(),
			AppID:     ep.AppID,
			URL:       ep.URL,
			Payload:   payload,
		}.Encode()
		if err == nil {
			err = n.scheduler.Submit(ctx, JobName, body, 0)
		}
		if err != nil {
			n.logger.Error("WEBHOOK_SUBMIT_FAILED", "app_id", ep.AppID, "event", ev.GetName(), "err", err)
			continue
		}
		submitted++
	}
	return submitted
}

// Stop unsubscribes. Events already buffered for the notifier are still
// turned into jobs.
func (n *Notifier) Stop() {
	n.mu.Lock()
	sub, cancel, done := n.sub, n.cancel, n.done
	n.sub = nil
	n.mu.Unlock()

	if sub == nil {
		return
	}
	cancel()
	<-done

	for _, ev := range sub.TakeAll() {
		n.Notify(context.Background(), ev)
	}
	sub.Close()
}
