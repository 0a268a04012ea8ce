package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/webitel/im-live-service/internal/clock"
)

var ErrSchedulerStopped = errors.New("webhook scheduler: stopped")

// Scheduler accepts a job body for execution after startAfter.
type Scheduler interface {
	Submit(ctx context.Context, jobName string, body []byte, startAfter time.Duration) error
}

// Publisher is the broker side of the scheduler.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, metadata map[string]string) error
}

const MetadataJobName = "job_name"

type delayedJob struct {
	timer *clock.Timer
	name  string
	body  []byte
}

// BrokerScheduler publishes due jobs to a broker topic. Delays are kept as
// in-process timers; Stop publishes whatever is still waiting so that a
// shutdown never loses a retry, it only brings it forward.
type BrokerScheduler struct {
	publisher Publisher
	topic     string
	clock     clock.Clock
	logger    *slog.Logger

	mu      sync.Mutex
	seq     uint64
	delayed map[uint64]delayedJob
	stopped bool
}

func NewBrokerScheduler(publisher Publisher, topic string, c clock.Clock, logger *slog.Logger) *BrokerScheduler {
	return &BrokerScheduler{
		publisher: publisher,
		topic:     topic,
		clock:     c,
		logger:    logger,
		delayed:   make(map[uint64]delayedJob),
	}
}

func (s *BrokerScheduler) Submit(ctx context.Context, jobName string, body []byte, startAfter time.Duration) error {
	if startAfter <= 0 {
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return ErrSchedulerStopped
		}
		return s.publish(ctx, jobName, body)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSchedulerStopped
	}

	s.seq++
	id := s.seq
	timer := s.clock.AfterFunc(startAfter, func() { s.fire(id) })
	s.delayed[id] = delayedJob{timer: timer, name: jobName, body: body}
	return nil
}

func (s *BrokerScheduler) fire(id uint64) {
	s.mu.Lock()
	job, ok := s.delayed[id]
	delete(s.delayed, id)
	s.mu.Unlock()
	if !ok {
		return
	}

	if err := s.publish(context.Background(), job.name, job.body); err != nil {
		s.logger.Error("JOB_PUBLISH_FAILED", "job", job.name, "err", err)
	}
}

func (s *BrokerScheduler) publish(ctx context.Context, jobName string, body []byte) error {
	if err := s.publisher.Publish(ctx, s.topic, body, map[string]string{MetadataJobName: jobName}); err != nil {
		return fmt.Errorf("webhook scheduler publish %s: %w", jobName, err)
	}
	return nil
}

// Pending reports the number of delayed jobs not yet published.
func (s *BrokerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delayed)
}

// Stop rejects new submissions and flushes delayed jobs immediately.
func (s *BrokerScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	var flush []delayedJob
	for id, job := range s.delayed {
		// a timer that already fired is published by fire
		if job.timer.Stop() {
			flush = append(flush, job)
			delete(s.delayed, id)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, job := range flush {
		errs = append(errs, s.publish(ctx, job.name, job.body))
	}
	if len(flush) > 0 {
		s.logger.Info("DELAYED_JOBS_FLUSHED", "count", len(flush))
	}
	return errors.Join(errs...)
}
