// Package anthropic provides the Claude backend.
package anthropic

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"codeforge/pkg/llm"
	"codeforge/pkg/llmerrors"
)

// Backend issues Messages API calls. One SDK client is kept per credential.
type Backend struct {
	baseURL string

	mu      sync.Mutex
	clients map[string]*anthropic.Client
}

// New creates a Claude backend. An empty baseURL uses the SDK default.
func New(baseURL string) *Backend {
	return &Backend{
		baseURL: baseURL,
		clients: make(map[string]*anthropic.Client),
	}
}

// Name returns the provider name.
func (b *Backend) Name() string {
	return "anthropic"
}

func (b *Backend) client(credential string) *anthropic.Client {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.clients[credential]; ok {
		return c
	}

	opts := []option.RequestOption{
		option.WithAPIKey(credential),
		option.WithMaxRetries(0), // rotation and backoff happen in the model client
	}
	if b.baseURL != "" {
		opts = append(opts, option.WithBaseURL(b.baseURL))
	}
	c := anthropic.NewClient(opts...)
	b.clients[credential] = &c
	return &c
}

// Complete sends a single user message.
//
//nolint:gocritic // Request passed by value to match the Backend interface
func (b *Backend) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	resp, err := b.client(req.Credential).Messages.New(ctx, params)
	if err != nil {
		return llm.Response{}, classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "received empty or nil response from Claude API")
	}

	var text strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	return llm.Response{
		Content: text.String(),
		Model:   string(resp.Model),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if classified := llmerrors.FromStatus(apiErr.StatusCode, err, ""); classified != nil {
			return classified
		}
	}
	return llmerrors.Classify(err)
}
