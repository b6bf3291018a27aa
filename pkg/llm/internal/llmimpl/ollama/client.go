// Package ollama provides the local Ollama backend. Credentials are ignored.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"codeforge/pkg/llm"
	"codeforge/pkg/llmerrors"
)

// ModelPrefix marks model ids served by Ollama. It is stripped before the call.
const ModelPrefix = "ollama/"

// DefaultHost is used when no host URL is configured.
const DefaultHost = "http://localhost:11434"

// Backend talks to one Ollama server.
type Backend struct {
	client *api.Client
}

// New creates an Ollama backend for hostURL.
func New(hostURL string, httpClient *http.Client) (*Backend, error) {
	if hostURL == "" {
		hostURL = DefaultHost
	}
	parsed, err := url.Parse(hostURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", hostURL, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Backend{client: api.NewClient(parsed, httpClient)}, nil
}

// Name returns the provider name.
func (b *Backend) Name() string {
	return "ollama"
}

// Complete runs a non-streaming chat with a single user message.
//
//nolint:gocritic // Request passed by value to match the Backend interface
func (b *Backend) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := strings.TrimPrefix(req.Model, ModelPrefix)
	stream := false
	chat := &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{{Role: "user", Content: req.Prompt}},
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}

	var response api.ChatResponse
	err := b.client.Chat(ctx, chat, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.Response{}, classifyError(err)
	}

	return llm.Response{
		Content: response.Message.Content,
		Model:   req.Model,
		Usage: llm.Usage{
			PromptTokens:     response.PromptEvalCount,
			CompletionTokens: response.EvalCount,
		},
	}, nil
}

// Heartbeat checks that the server is reachable.
func (b *Backend) Heartbeat(ctx context.Context) error {
	if err := b.client.Heartbeat(ctx); err != nil {
		return classifyError(err)
	}
	return nil
}

func classifyError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if classified := llmerrors.FromStatus(statusErr.StatusCode, err, statusErr.ErrorMessage); classified != nil {
			return classified
		}
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "Ollama server not reachable")
	case strings.Contains(errStr, "model") && strings.Contains(errStr, "not found"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "Ollama model not found")
	default:
		return llmerrors.Classify(err)
	}
}
