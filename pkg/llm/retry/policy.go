// Package retry provides exponential backoff policy for resilient backend calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"codeforge/pkg/llmerrors"
)

// MaxAttemptsCeiling bounds attempts per credential/model pair regardless of configuration.
const MaxAttemptsCeiling = 5

// Config defines configuration for retry behavior.
type Config struct {
	MaxAttempts   int           `json:"max_attempts" mapstructure:"max_attempts"`     // Attempts per credential/model pair (including the first)
	InitialDelay  time.Duration `json:"initial_delay" mapstructure:"initial_delay"`   // Delay before the first retry
	MaxDelay      time.Duration `json:"max_delay" mapstructure:"max_delay"`           // Ceiling for any single delay
	BackoffFactor float64       `json:"backoff_factor" mapstructure:"backoff_factor"` // Multiplier for exponential backoff
	Jitter        bool          `json:"jitter" mapstructure:"jitter"`                 // Add random jitter to prevent thundering herd
}

// DefaultConfig provides reasonable defaults for retry behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  1 * time.Second,
	MaxDelay:      30 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Classifier determines if an error should be retried on the same credential and model.
type Classifier func(error) bool

// ShouldRetry is the default classifier: retry classified rate-limit, transient
// and unknown errors; never retry cancellation, deadlines, auth, bad prompts or
// empty responses.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return llmerrors.Classify(err).IsRetryable()
}

// Policy encapsulates retry configuration and logic.
//
//nolint:govet // Simple struct, logical grouping preferred
type Policy struct {
	Config     Config
	Classifier Classifier
}

// NewPolicy creates a new retry policy, clamping MaxAttempts to [1, MaxAttemptsCeiling].
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.MaxAttempts > MaxAttemptsCeiling {
		config.MaxAttempts = MaxAttemptsCeiling
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	return &Policy{
		Config:     config,
		Classifier: classifier,
	}
}

// CalculateDelay computes the delay before the given attempt number (1-based).
// The first attempt never waits.
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))

	if p.Config.MaxDelay > 0 && delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}

	if p.Config.Jitter && delay > 0 {
		// +/-10%
		jitter := time.Duration((rand.Float64()*0.2 - 0.1) * float64(delay))
		delay += jitter
		if delay < 0 {
			delay = p.Config.InitialDelay
		}
	}

	return delay
}

// ShouldRetry determines if an error should be retried based on the configured classifier.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}

// Wait sleeps for the backoff delay of attempt, returning early with an error
// when ctx is done.
func (p *Policy) Wait(ctx context.Context, attempt int) error {
	delay := p.CalculateDelay(attempt)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
