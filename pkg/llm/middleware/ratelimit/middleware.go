package ratelimit

import (
	"context"

	"codeforge/pkg/llm"
	"codeforge/pkg/metrics"
)

// Middleware paces requests per model before they reach the backend.
// Returns nil when limiters is disabled so Chain skips it.
func Middleware(limiters *ModelLimiterMap, recorder metrics.Recorder) llm.Middleware {
	if !limiters.Enabled() {
		return nil
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}

	return func(next llm.Backend) llm.Backend {
		return llm.WrapBackend(
			func(ctx context.Context, req llm.Request) (llm.Response, error) {
				waited, err := limiters.Acquire(ctx, req.Model)
				recorder.ObserveQueueWait(req.Model, waited)
				if err != nil {
					return llm.Response{}, err
				}
				return next.Complete(ctx, req) //nolint:wrapcheck // Middleware passes through errors unchanged
			},
			next.Name,
		)
	}
}
