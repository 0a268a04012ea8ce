package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/webitel/im-live-service/internal/clock"
)

// StatusError is an attempt answered outside the 2xx range.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("webhook: unexpected status %d", e.Code) }

type workerConfig struct {
	client          *http.Client
	clock           clock.Clock
	logger          *slog.Logger
	limiter         *rate.Limiter
	headerPrefix    string
	breakerFailures uint32
	breakerOpen     time.Duration
	breakerHosts    int
}

type WorkerOption func(*workerConfig)

func WithHTTPClient(c *http.Client) WorkerOption {
	return func(cfg *workerConfig) { cfg.client = c }
}

func WithWorkerClock(c clock.Clock) WorkerOption {
	return func(cfg *workerConfig) { cfg.clock = c }
}

func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(cfg *workerConfig) { cfg.logger = l }
}

// WithRateLimit paces outbound calls across all applications.
func WithRateLimit(perSecond float64, burst int) WorkerOption {
	return func(cfg *workerConfig) {
		if perSecond > 0 {
			cfg.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithHeaderPrefix sets the product prefix of the timestamp and signature
// headers, e.g. "X-Webitel" -> X-Webitel-Timestamp.
func WithHeaderPrefix(prefix string) WorkerOption {
	return func(cfg *workerConfig) { cfg.headerPrefix = prefix }
}

// WithBreaker opens a per-host breaker after failures consecutive transport
// or 5xx failures. At most hosts breakers are remembered.
func WithBreaker(failures uint32, open time.Duration, hosts int) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.breakerFailures = failures
		cfg.breakerOpen = open
		cfg.breakerHosts = hosts
	}
}

// Worker performs webhook jobs.
type Worker struct {
	config    workerConfig
	secrets   SecretStore
	scheduler Scheduler
	recorder  Recorder

	mu       sync.Mutex
	breakers *lru.Cache[string, *gobreaker.CircuitBreaker]
}

func NewWorker(secrets SecretStore, scheduler Scheduler, recorder Recorder, opts ...WorkerOption) (*Worker, error) {
	cfg := workerConfig{
		client:          &http.Client{Timeout: 10 * time.Second},
		clock:           clock.Real(),
		logger:          slog.Default(),
		limiter:         rate.NewLimiter(rate.Inf, 1),
		headerPrefix:    "X-Webitel",
		breakerFailures: 5,
		breakerOpen:     30 * time.Second,
		breakerHosts:    1024,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	breakers, err := lru.New[string, *gobreaker.CircuitBreaker](cfg.breakerHosts)
	if err != nil {
		return nil, fmt.Errorf("webhook worker: %w", err)
	}

	return &Worker{
		config:    cfg,
		secrets:   secrets,
		scheduler: scheduler,
		recorder:  recorder,
		breakers:  breakers,
	}, nil
}

// Perform makes one delivery attempt. Delivery failures are absorbed here:
// they are logged, counted and turned into a rescheduled job. The only error
// returned is a failure to hand the next attempt to the scheduler (or a
// cancelled ctx before the attempt), so that the transport redelivers the
// current one.
func (w *Worker) Perform(ctx context.Context, job Job) error {
	log := w.config.logger.With(
		"app_id", job.AppID,
		"event_type", job.EventType,
		"attempt", job.RetryCount+1,
	)

	secret, err := w.secrets.Secret(ctx, job.AppID)
	if err != nil {
		return w.fail(ctx, log, job, ReasonSecret, err)
	}

	// [SIGNATURE_REUSE] retries carry the signature of the first attempt
	if job.Timestamp == "" || job.Signature == "" {
		job.Timestamp = Timestamp(w.config.clock.Now())
		job.Signature = Sign(secret, job.Payload)
	}

	if err := w.config.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit: %w", err)
	}

	if err := w.send(ctx, job); err != nil {
		return w.fail(ctx, log, job, reasonOf(err), err)
	}

	w.recorder.Success(ctx, job)
	log.Debug("WEBHOOK_DELIVERED")
	return nil
}

func (w *Worker) fail(ctx context.Context, log *slog.Logger, job Job, reason string, cause error) error {
	w.recorder.Failure(ctx, job, reason)

	if !job.CanRetry() {
		log.Warn("WEBHOOK_DROPPED", "reason", reason, "err", cause)
		return nil
	}

	next, delay := job.Next()
	body, err := next.Encode()
	if err != nil {
		log.Error("WEBHOOK_DROPPED", "reason", reason, "err", err)
		return nil
	}
	if err := w.scheduler.Submit(ctx, JobName, body, delay); err != nil {
		return fmt.Errorf("webhook reschedule: %w", err)
	}

	log.Info("WEBHOOK_RETRY_SCHEDULED", "reason", reason, "err", cause, "delay", delay)
	return nil
}

func (w *Worker) send(ctx context.Context, job Job) error {
	target, err := url.Parse(job.URL)
	if err != nil {
		return &requestError{err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(job.Payload))
	if err != nil {
		return &requestError{err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(w.config.headerPrefix+"-Timestamp", job.Timestamp)
	req.Header.Set(w.config.headerPrefix+"-Signature", job.Signature)

	var status int
	_, err = w.breaker(target.Host).Execute(func() (interface{}, error) {
		resp, err := w.config.client.Do(req)
		if err != nil {
			return nil, err
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()

		status = resp.StatusCode
		if status >= http.StatusInternalServerError {
			// [BREAKER_ACCOUNTING] only server-side failures trip the host
			return nil, &StatusError{Code: status}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return &StatusError{Code: status}
	}
	return nil
}

func (w *Worker) breaker(host string) *gobreaker.CircuitBreaker {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cb, ok := w.breakers.Get(host); ok {
		return cb
	}
	failures := w.config.breakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    host,
		Timeout: w.config.breakerOpen,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return failures > 0 && c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.config.logger.Warn("WEBHOOK_BREAKER_STATE", "host", name, "from", from.String(), "to", to.String())
		},
	})
	w.breakers.Add(host, cb)
	return cb
}

type requestError struct{ err error }

func (e *requestError) Error() string { return "webhook request: " + e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func reasonOf(err error) string {
	var (
		status *StatusError
		reqErr *requestError
	)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ReasonBreakerOpen
	case errors.As(err, &status):
		return ReasonStatus
	case errors.As(err, &reqErr):
		return ReasonRequest
	default:
		return ReasonTransport
	}
}
