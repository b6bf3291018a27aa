package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeforge/pkg/llm"
	"codeforge/pkg/llmerrors"
)

func TestNewRejectsInvalidHost(t *testing.T) {
	_, err := New("://bad", nil)
	require.Error(t, err)

	b, err := New("", nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama", b.Name())
}

func TestCompleteStripsPrefixAndReportsUsage(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"qwen2.5-coder","message":{"role":"assistant","content":"print(1)"},"done":true,"prompt_eval_count":12,"eval_count":4}` + "\n"))
	}))
	defer srv.Close()

	b, err := New(srv.URL, srv.Client())
	require.NoError(t, err)

	resp, err := b.Complete(context.Background(), llm.Request{Model: "ollama/qwen2.5-coder", Prompt: "hi", MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-coder", gotModel)
	assert.Equal(t, "print(1)", resp.Content)
	assert.Equal(t, "ollama/qwen2.5-coder", resp.Model)
	assert.Equal(t, llm.Usage{PromptTokens: 12, CompletionTokens: 4}, resp.Usage)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want llmerrors.ErrorType
	}{
		{"status 429", api.StatusError{StatusCode: 429, ErrorMessage: "busy"}, llmerrors.ErrorTypeRateLimit},
		{"status 503", api.StatusError{StatusCode: 503}, llmerrors.ErrorTypeTransient},
		{"connection refused", errors.New("dial tcp: connection refused"), llmerrors.ErrorTypeTransient},
		{"model missing", errors.New(`model "x" not found, try pulling it first`), llmerrors.ErrorTypeBadPrompt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, llmerrors.TypeOf(classifyError(tt.err)))
		})
	}
}
