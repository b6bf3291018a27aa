// Package gemini provides the Google Gemini backend, optionally routed through
// a key-rotating proxy.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"google.golang.org/genai"

	"codeforge/pkg/llm"
	"codeforge/pkg/llmerrors"
)

// Backend issues GenerateContent calls. One SDK client is kept per credential.
type Backend struct {
	baseURL string
	http    *http.Client

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// New creates a Gemini backend. An empty baseURL talks to the public API.
func New(baseURL string, httpClient *http.Client) *Backend {
	return &Backend{
		baseURL: baseURL,
		http:    httpClient,
		clients: make(map[string]*genai.Client),
	}
}

// Name returns the provider name.
func (b *Backend) Name() string {
	return "gemini"
}

func (b *Backend) client(ctx context.Context, credential string) (*genai.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.clients[credential]; ok {
		return c, nil
	}

	cfg := &genai.ClientConfig{
		APIKey:     credential,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: b.http,
	}
	if b.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: b.baseURL}
	}

	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "failed to create Gemini client")
	}
	b.clients[credential] = c
	return c, nil
}

// Complete sends a single-turn prompt.
//
//nolint:gocritic // Request passed by value to match the Backend interface
func (b *Backend) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	c, err := b.client(ctx, req.Credential)
	if err != nil {
		return llm.Response{}, err
	}

	temperature := req.Temperature
	//nolint:gosec // MaxTokens validated by Request.Validate
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(req.MaxTokens),
	}

	result, err := c.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), config)
	if err != nil {
		return llm.Response{}, classifyError(err)
	}
	if result == nil {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "nil response from Gemini API")
	}

	resp := llm.Response{
		Content: result.Text(),
		Model:   req.Model,
	}
	if result.ModelVersion != "" {
		resp.Model = result.ModelVersion
	}
	if u := result.UsageMetadata; u != nil {
		resp.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
		}
	}
	return resp, nil
}

// classifyError maps genai API errors by HTTP status and falls back to
// message patterns for transport failures.
func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if classified := llmerrors.FromStatus(apiErr.Code, err, apiErr.Message); classified != nil {
			classified.Message = fmt.Sprintf("Gemini API %s", apiErr.Status)
			return classified
		}
	}
	return llmerrors.Classify(err)
}
