// Package provider builds the middleware-wrapped backend used by the model
// client and routes each request to a provider by model id.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"codeforge/pkg/llm"
	"codeforge/pkg/llm/internal/llmimpl/anthropic"
	"codeforge/pkg/llm/internal/llmimpl/gemini"
	"codeforge/pkg/llm/internal/llmimpl/ollama"
	"codeforge/pkg/llm/internal/llmimpl/openai"
	"codeforge/pkg/llm/middleware/metrics"
	"codeforge/pkg/llm/middleware/ratelimit"
	"codeforge/pkg/llm/middleware/timeout"
	"codeforge/pkg/llm/middleware/validation"
	"codeforge/pkg/llmerrors"
	metricsrec "codeforge/pkg/metrics"
)

// Provider names.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// ProviderFor returns the provider that serves model.
func ProviderFor(model string) (string, error) {
	switch {
	case strings.HasPrefix(model, "models/gemini-"), strings.HasPrefix(model, "gemini-"):
		return ProviderGemini, nil
	case strings.HasPrefix(model, "claude-"):
		return ProviderAnthropic, nil
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return ProviderOpenAI, nil
	case strings.HasPrefix(model, ollama.ModelPrefix):
		return ProviderOllama, nil
	default:
		return "", fmt.Errorf("no provider for model %q", model)
	}
}

// Options configures backend construction.
type Options struct {
	ProxyBase      string        // Gemini base URL (the key-rotating proxy)
	AnthropicBase  string        // Optional override
	OpenAIBase     string        // Optional override
	OllamaHost     string        // Ollama server URL
	RequestTimeout time.Duration // Per backend request; 0 disables
	RateLimitRPS   float64       // Per model; 0 disables
	RateLimitBurst int
	Recorder       metricsrec.Recorder
	HTTPClient     *http.Client
}

// Factory creates provider backends lazily and wraps them in the middleware chain.
type Factory struct {
	opts     Options
	limiters *ratelimit.ModelLimiterMap

	mu       sync.Mutex
	backends map[string]llm.Backend
}

// NewFactory creates a factory.
func NewFactory(opts Options) *Factory {
	if opts.Recorder == nil {
		opts.Recorder = metricsrec.Nop()
	}
	return &Factory{
		opts:     opts,
		limiters: ratelimit.NewModelLimiterMap(opts.RateLimitRPS, opts.RateLimitBurst),
		backends: make(map[string]llm.Backend),
	}
}

// Backend returns the routed backend with the full middleware chain:
// Metrics -> EmptyResponse -> RateLimit -> Timeout -> provider.
func (f *Factory) Backend() llm.Backend {
	return llm.Chain(router{f},
		metrics.Middleware(f.opts.Recorder, nil),
		validation.EmptyResponseMiddleware(),
		ratelimit.Middleware(f.limiters, f.opts.Recorder),
		timeout.Middleware(f.opts.RequestTimeout),
	)
}

// Raw returns the unwrapped provider backend for model.
func (f *Factory) Raw(model string) (llm.Backend, error) {
	name, err := ProviderFor(model)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.backends[name]; ok {
		return b, nil
	}

	var b llm.Backend
	switch name {
	case ProviderGemini:
		b = gemini.New(f.opts.ProxyBase, f.opts.HTTPClient)
	case ProviderAnthropic:
		b = anthropic.New(f.opts.AnthropicBase)
	case ProviderOpenAI:
		b = openai.New(f.opts.OpenAIBase)
	case ProviderOllama:
		ob, err := ollama.New(f.opts.OllamaHost, f.opts.HTTPClient)
		if err != nil {
			return nil, err
		}
		b = ob
	}
	f.backends[name] = b
	return b, nil
}

// router dispatches each request to the provider for its model.
type router struct {
	f *Factory
}

//nolint:gocritic // Request passed by value to match the Backend interface
func (r router) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	b, err := r.f.Raw(req.Model)
	if err != nil {
		return llm.Response{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "unroutable model")
	}
	return b.Complete(ctx, req)
}

func (r router) Name() string {
	return "router"
}
