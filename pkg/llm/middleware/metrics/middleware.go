// Package metrics provides metrics middleware for backends.
package metrics

import (
	"context"
	"time"

	"codeforge/pkg/llm"
	"codeforge/pkg/llmerrors"
	"codeforge/pkg/metrics"
	"codeforge/pkg/utils"
)

// UsageFiller fills token usage when the backend did not report it.
type UsageFiller func(req llm.Request, resp llm.Response) llm.Usage

// EstimateUsage keeps backend-reported counts and falls back to tiktoken estimates.
func EstimateUsage(req llm.Request, resp llm.Response) llm.Usage {
	usage := resp.Usage
	if usage.PromptTokens == 0 {
		usage.PromptTokens = utils.CountTokensSimple(req.Prompt)
	}
	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = utils.CountTokensSimple(resp.Content)
	}
	return usage
}

// Middleware records request count, latency and token usage. It also stamps
// Response.Latency and fills Response.Usage.
func Middleware(recorder metrics.Recorder, filler UsageFiller) llm.Middleware {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	if filler == nil {
		filler = EstimateUsage
	}

	return func(next llm.Backend) llm.Backend {
		return llm.WrapBackend(
			func(ctx context.Context, req llm.Request) (llm.Response, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				if err != nil {
					recorder.ObserveRequest(req.Model, string(req.Role), metrics.StatusError,
						llmerrors.Classify(err).Type.String(), 0, 0, duration)
					return resp, err //nolint:wrapcheck // Middleware passes through errors unchanged
				}

				resp.Usage = filler(req, resp)
				resp.Latency = duration
				if resp.Model == "" {
					resp.Model = req.Model
				}
				recorder.ObserveRequest(req.Model, string(req.Role), metrics.StatusSuccess, "",
					resp.Usage.PromptTokens, resp.Usage.CompletionTokens, duration)
				return resp, nil
			},
			next.Name,
		)
	}
}
