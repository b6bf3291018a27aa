// Package openai provides the OpenAI backend using the Responses API.
package openai

import (
	"context"
	"errors"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"codeforge/pkg/llm"
	"codeforge/pkg/llmerrors"
)

// Backend issues Responses API calls. One SDK client is kept per credential.
type Backend struct {
	baseURL string

	mu      sync.Mutex
	clients map[string]*openai.Client
}

// New creates an OpenAI backend. An empty baseURL uses the SDK default.
func New(baseURL string) *Backend {
	return &Backend{
		baseURL: baseURL,
		clients: make(map[string]*openai.Client),
	}
}

// Name returns the provider name.
func (b *Backend) Name() string {
	return "openai"
}

func (b *Backend) client(credential string) *openai.Client {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.clients[credential]; ok {
		return c
	}

	opts := []option.RequestOption{
		option.WithAPIKey(credential),
		option.WithMaxRetries(0),
	}
	if b.baseURL != "" {
		opts = append(opts, option.WithBaseURL(b.baseURL))
	}
	c := openai.NewClient(opts...)
	b.clients[credential] = &c
	return &c
}

// Complete sends the prompt as a single string input.
//
//nolint:gocritic // Request passed by value to match the Backend interface
func (b *Backend) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	params := responses.ResponseNewParams{
		Model:           req.Model,
		MaxOutputTokens: openai.Int(int64(req.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(req.Prompt)},
	}

	resp, err := b.client(req.Credential).Responses.New(ctx, params)
	if err != nil {
		return llm.Response{}, classifyError(err)
	}
	if resp == nil {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	return llm.Response{
		Content: resp.OutputText(),
		Model:   req.Model,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if classified := llmerrors.FromStatus(apiErr.StatusCode, err, apiErr.Message); classified != nil {
			return classified
		}
	}
	return llmerrors.Classify(err)
}
