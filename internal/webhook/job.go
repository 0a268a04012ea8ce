/*
Package webhook notifies third-party applications about bus events.

Every notification is a Job carried through an external scheduler. A worker
performs exactly one HTTP attempt per Job and, on failure, resubmits the Job
with RetryCount+1 and a quadratically growing delay until RetryMaxCount is
reached. Exhausted jobs are dropped: only logs and the failure counter record
them.
*/
package webhook

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// JobName identifies webhook jobs on the scheduler.
	JobName = "webhook.deliver"

	// RetryMaxCount bounds the total number of attempts for one Job.
	RetryMaxCount = 5

	// BaseDelay scales the retry schedule: retry n waits BaseDelay * n^2.
	BaseDelay = 5 * time.Second
)

// Job is one outbound notification. RetryCount travels in the body so that
// resubmission does not depend on scheduler state.
type Job struct {
	RetryCount int             `json:"retry_count"`
	EventType  string          `json:"event_type"`
	AppID      string          `json:"app_id"`
	URL        string          `json:"url"`
	Timestamp  string          `json:"timestamp,omitempty"`
	Signature  string          `json:"signature,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// Backoff returns the delay before retry n (n >= 1).
func Backoff(n int) time.Duration {
	return BaseDelay * time.Duration(n*n)
}

// CanRetry reports whether a failed attempt of j may be rescheduled.
func (j Job) CanRetry() bool {
	return j.RetryCount+1 < RetryMaxCount
}

// Next returns the job for the following attempt and its delay.
func (j Job) Next() (Job, time.Duration) {
	next := j
	next.RetryCount++
	return next, Backoff(next.RetryCount)
}

func (j Job) Encode() ([]byte, error) {
	body, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("webhook job encode: %w", err)
	}
	return body, nil
}

func DecodeJob(body []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return Job{}, fmt.Errorf("webhook job decode: %w", err)
	}
	if j.URL == "" || j.AppID == "" {
		return Job{}, fmt.Errorf("webhook job decode: app_id and url are required")
	}
	return j, nil
}
