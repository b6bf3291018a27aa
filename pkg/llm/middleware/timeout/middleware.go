// Package timeout provides per-request timeout middleware for backends.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codeforge/pkg/llm"
	"codeforge/pkg/llmerrors"
)

// Middleware bounds every backend request by duration. A request that hits
// this bound while the caller's context is still live is reported as a
// transient error so the model client may retry it; when the caller's own
// deadline is what expired the context error is passed through untouched.
func Middleware(duration time.Duration) llm.Middleware {
	if duration <= 0 {
		return nil
	}
	return func(next llm.Backend) llm.Backend {
		return llm.WrapBackend(
			func(ctx context.Context, req llm.Request) (llm.Response, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()

				resp, err := next.Complete(timeoutCtx, req)
				if err != nil && ctx.Err() == nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
					return llm.Response{}, llmerrors.NewErrorWithCause(
						llmerrors.ErrorTypeTransient,
						err,
						fmt.Sprintf("request to %s timed out after %s", req.Model, duration),
					)
				}
				return resp, err //nolint:wrapcheck // Middleware passes through errors unchanged
			},
			next.Name,
		)
	}
}
