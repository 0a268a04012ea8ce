package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/webitel/im-live-service/internal/clock"
)

type submission struct {
	name  string
	job   Job
	delay time.Duration
}

type fakeScheduler struct {
	mu   sync.Mutex
	subs []submission
	err  error
}

func (s *fakeScheduler) Submit(_ context.Context, jobName string, body []byte, startAfter time.Duration) error {
	if s.err != nil {
		return s.err
	}
	job, err := DecodeJob(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, submission{name: jobName, job: job, delay: startAfter})
	return nil
}

func (s *fakeScheduler) submitted() []submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]submission(nil), s.subs...)
}

type fakeRecorder struct {
	mu       sync.Mutex
	success  int
	failures []string
}

func (r *fakeRecorder) Success(context.Context, Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.success++
}

func (r *fakeRecorder) Failure(_ context.Context, _ Job, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, reason)
}

type received struct {
	header http.Header
	body   []byte
	at     time.Time
}

type endpoint struct {
	*httptest.Server
	mu     sync.Mutex
	status int
	calls  []received
	clock  clock.Clock
}

func newEndpoint(t *testing.T, status int, c clock.Clock) *endpoint {
	e := &endpoint{status: status, clock: c}
	e.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		e.mu.Lock()
		e.calls = append(e.calls, received{header: r.Header.Clone(), body: body, at: e.clock.Now()})
		status := e.status
		e.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(e.Close)
	return e
}

func (e *endpoint) received() []received {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]received(nil), e.calls...)
}

var testSecrets = StaticSecrets{"crm": []byte("s3cret")}

func newTestWorker(t *testing.T, sched Scheduler, rec Recorder, c clock.Clock, opts ...WorkerOption) *Worker {
	opts = append([]WorkerOption{WithWorkerClock(c), WithHeaderPrefix("X-Acme")}, opts...)
	w, err := NewWorker(testSecrets, sched, rec, opts...)
	require.NoError(t, err)
	return w
}

func testJob(url string) Job {
	return Job{EventType: "message.created", AppID: "crm", URL: url, Payload: json.RawMessage(`{"id":"m1"}`)}
}

func TestPerformSuccess(t *testing.T) {
	fc := clock.Fake(time.Unix(1700000000, 0))
	ep := newEndpoint(t, http.StatusNoContent, fc)
	sched, rec := &fakeScheduler{}, &fakeRecorder{}

	require.NoError(t, newTestWorker(t, sched, rec, fc).Perform(context.Background(), testJob(ep.URL)))

	calls := ep.received()
	require.Len(t, calls, 1)
	h := calls[0].header
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, "1700000000", h.Get("X-Acme-Timestamp"))
	assert.NoError(t, Verify([]byte("s3cret"), calls[0].body, h.Get("X-Acme-Signature")))
	assert.JSONEq(t, `{"id":"m1"}`, string(calls[0].body))

	assert.Equal(t, 1, rec.success)
	assert.Empty(t, rec.failures)
	assert.Empty(t, sched.submitted())
}

func TestPerformFailureReschedulesWithSameSignature(t *testing.T) {
	fc := clock.Fake(time.Unix(1700000000, 0))
	ep := newEndpoint(t, http.StatusBadGateway, fc)
	sched, rec := &fakeScheduler{}, &fakeRecorder{}

	require.NoError(t, newTestWorker(t, sched, rec, fc).Perform(context.Background(), testJob(ep.URL)))

	subs := sched.submitted()
	require.Len(t, subs, 1)
	assert.Equal(t, JobName, subs[0].name)
	assert.Equal(t, 1, subs[0].job.RetryCount)
	assert.Equal(t, 5*time.Second, subs[0].delay)
	assert.Equal(t, ep.received()[0].header.Get("X-Acme-Signature"), subs[0].job.Signature)
	assert.Equal(t, "1700000000", subs[0].job.Timestamp)
	assert.Equal(t, []string{ReasonStatus}, rec.failures)
}

func TestPerformTreatsClientErrorsAsFailures(t *testing.T) {
	fc := clock.Fake(time.Unix(0, 0))
	ep := newEndpoint(t, http.StatusNotFound, fc)
	sched, rec := &fakeScheduler{}, &fakeRecorder{}

	require.NoError(t, newTestWorker(t, sched, rec, fc).Perform(context.Background(), testJob(ep.URL)))
	assert.Equal(t, []string{ReasonStatus}, rec.failures)
	assert.Len(t, sched.submitted(), 1)
}

func TestPerformDropsExhaustedJob(t *testing.T) {
	fc := clock.Fake(time.Unix(0, 0))
	ep := newEndpoint(t, http.StatusInternalServerError, fc)
	sched, rec := &fakeScheduler{}, &fakeRecorder{}

	job := testJob(ep.URL)
	job.RetryCount = RetryMaxCount - 1
	require.NoError(t, newTestWorker(t, sched, rec, fc).Perform(context.Background(), job))

	assert.Empty(t, sched.submitted())
	assert.Len(t, rec.failures, 1)
}

func TestPerformReturnsOnlySchedulerErrors(t *testing.T) {
	fc := clock.Fake(time.Unix(0, 0))
	ep := newEndpoint(t, http.StatusServiceUnavailable, fc)
	boom := errors.New("broker down")
	sched, rec := &fakeScheduler{err: boom}, &fakeRecorder{}

	err := newTestWorker(t, sched, rec, fc).Perform(context.Background(), testJob(ep.URL))
	require.ErrorIs(t, err, boom)
}

func TestPerformUnknownAppCountsSecretFailure(t *testing.T) {
	fc := clock.Fake(time.Unix(0, 0))
	ep := newEndpoint(t, http.StatusOK, fc)
	sched, rec := &fakeScheduler{}, &fakeRecorder{}

	job := testJob(ep.URL)
	job.AppID = "ghost"
	require.NoError(t, newTestWorker(t, sched, rec, fc).Perform(context.Background(), job))

	assert.Empty(t, ep.received())
	assert.Equal(t, []string{ReasonSecret}, rec.failures)
}

func TestBreakerOpensPerHost(t *testing.T) {
	fc := clock.Fake(time.Unix(0, 0))
	down := newEndpoint(t, http.StatusInternalServerError, fc)
	up := newEndpoint(t, http.StatusOK, fc)
	sched, rec := &fakeScheduler{}, &fakeRecorder{}
	w := newTestWorker(t, sched, rec, fc, WithBreaker(2, time.Hour, 8))

	for range 3 {
		require.NoError(t, w.Perform(context.Background(), testJob(down.URL)))
	}
	require.NoError(t, w.Perform(context.Background(), testJob(up.URL)))

	assert.Len(t, down.received(), 2, "third call is short-circuited")
	assert.Equal(t, []string{ReasonStatus, ReasonStatus, ReasonBreakerOpen}, rec.failures)
	assert.Equal(t, 1, rec.success)
}

// loopback publishes straight into the worker, closing the retry loop.
type loopback struct {
	worker *Worker
	t      *testing.T
}

func (l *loopback) Publish(ctx context.Context, _ string, payload []byte, md map[string]string) error {
	assert.Equal(l.t, JobName, md[MetadataJobName])
	job, err := DecodeJob(payload)
	if err != nil {
		return err
	}
	return l.worker.Perform(ctx, job)
}

func TestAlwaysFailingJobFollowsRetrySchedule(t *testing.T) {
	start := time.Unix(1700000000, 0)
	fc := clock.Fake(start)
	ep := newEndpoint(t, http.StatusInternalServerError, fc)
	rec := &fakeRecorder{}

	lb := &loopback{t: t}
	sched := NewBrokerScheduler(lb, "jobs", fc, slogDiscard())
	lb.worker = newTestWorker(t, sched, rec, fc, WithBreaker(0, time.Hour, 8))

	require.NoError(t, sched.Submit(context.Background(), JobName, mustEncode(t, testJob(ep.URL)), 0))
	for _, d := range []time.Duration{5 * time.Second, 20 * time.Second, 45 * time.Second, 80 * time.Second} {
		fc.Advance(d)
	}
	fc.Advance(time.Hour)

	var offsets []time.Duration
	for _, c := range ep.received() {
		offsets = append(offsets, c.at.Sub(start))
	}
	assert.Equal(t, []time.Duration{0, 5 * time.Second, 25 * time.Second, 70 * time.Second, 150 * time.Second}, offsets)
	assert.Len(t, rec.failures, RetryMaxCount)
	assert.Zero(t, sched.Pending())
}

func TestRecorderExportsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	rec, err := NewRecorder(provider.Meter("test"))
	require.NoError(t, err)

	job := testJob("http://example.invalid")
	rec.Success(context.Background(), job)
	rec.Failure(context.Background(), job, ReasonTransport)
	rec.Failure(context.Background(), job, ReasonTransport)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				app, _ := dp.Attributes.Value("app_id")
				assert.Equal(t, "crm", app.AsString())
				totals[m.Name] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{MetricSuccess: 1, MetricFailure: 2}, totals)
}

func mustEncode(t *testing.T, job Job) []byte {
	body, err := job.Encode()
	require.NoError(t, err)
	return body
}
