// Package validation provides response validation middleware for backends.
package validation

import (
	"context"
	"fmt"
	"strings"

	"codeforge/pkg/llm"
	"codeforge/pkg/llmerrors"
)

// EmptyResponseMiddleware turns a successful but blank response into an
// ErrorTypeEmptyResponse error so callers can tell it apart from transport failures.
func EmptyResponseMiddleware() llm.Middleware {
	return func(next llm.Backend) llm.Backend {
		return llm.WrapBackend(
			func(ctx context.Context, req llm.Request) (llm.Response, error) {
				resp, err := next.Complete(ctx, req)
				if err != nil {
					return resp, err //nolint:wrapcheck // Middleware passes through errors unchanged
				}
				if strings.TrimSpace(resp.Content) == "" {
					return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse,
						fmt.Sprintf("empty response from %s (%s)", req.Model, next.Name()))
				}
				return resp, nil
			},
			next.Name,
		)
	}
}
