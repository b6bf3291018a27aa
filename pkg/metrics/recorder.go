// Package metrics provides metrics recording for model calls, test runs and repair iterations.
package metrics

import (
	"time"
)

// Status labels.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Recorder defines the interface for recording pipeline metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed backend request.
	ObserveRequest(
		model, role, status, errorType string,
		promptTokens, completionTokens int,
		duration time.Duration,
	)

	// IncRateLimited increments the rate-limit counter for a credential slot.
	IncRateLimited(model string, credential int)

	// ObserveQueueWait records time spent waiting on the local rate limiter.
	ObserveQueueWait(model string, duration time.Duration)

	// ObserveTestRun records one test executor invocation.
	ObserveTestRun(passed bool, duration time.Duration)

	// IncRepairIteration records one repair round and its outcome.
	IncRepairIteration(outcome string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRequest(_, _, _, _ string, _, _ int, _ time.Duration) {}

// IncRateLimited does nothing in the no-op recorder.
func (n *NoopRecorder) IncRateLimited(_ string, _ int) {}

// ObserveQueueWait does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

// ObserveTestRun does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveTestRun(_ bool, _ time.Duration) {}

// IncRepairIteration does nothing in the no-op recorder.
func (n *NoopRecorder) IncRepairIteration(_ string) {}
