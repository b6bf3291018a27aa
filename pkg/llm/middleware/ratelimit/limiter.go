// Package ratelimit provides client-side request pacing per model.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"codeforge/pkg/llmerrors"
)

// ModelLimiterMap lazily creates one token-bucket limiter per model id.
type ModelLimiterMap struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewModelLimiterMap creates limiters allowing rps requests per second with
// the given burst for each model. rps <= 0 disables pacing.
func NewModelLimiterMap(rps float64, burst int) *ModelLimiterMap {
	if burst < 1 {
		burst = 1
	}
	return &ModelLimiterMap{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

// Enabled reports whether pacing is active.
func (m *ModelLimiterMap) Enabled() bool {
	return m != nil && m.rps > 0
}

// Get returns the limiter for model, creating it on first use.
func (m *ModelLimiterMap) Get(model string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	limiter, ok := m.limiters[model]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(m.rps), m.burst)
		m.limiters[model] = limiter
	}
	return limiter
}

// Acquire blocks until model may issue a request and returns the time waited.
// A wait the context cannot cover is a timeout, never a server rate limit, so
// it does not rotate credentials.
func (m *ModelLimiterMap) Acquire(ctx context.Context, model string) (time.Duration, error) {
	if !m.Enabled() {
		return 0, nil
	}
	start := time.Now()
	if err := m.Get(model).Wait(ctx); err != nil {
		return time.Since(start), llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTimeout, err,
			fmt.Sprintf("local pacing for %s did not fit the deadline", model))
	}
	return time.Since(start), nil
}
