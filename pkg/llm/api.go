// Package llm provides the backend call contract shared by every model provider.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Role tags a request with the pipeline stage that issued it.
type Role string

const (
	// RolePlanning is used by the planning stage.
	RolePlanning Role = "planning"
	// RoleGeneration is used by the generation stage.
	RoleGeneration Role = "generation"
	// RoleRepair is used by the repair loop.
	RoleRepair Role = "repair"
	// RoleHealth is used by liveness probes.
	RoleHealth Role = "health"
)

const (
	// DefaultMaxTokens bounds the response size when the caller does not set one.
	DefaultMaxTokens = 8192

	// TemperatureDefault is used for planning.
	TemperatureDefault = 0.3

	// TemperatureDeterministic is used for code generation and repair.
	TemperatureDeterministic = 0.2
)

// Request is one backend call: a prompt sent to a specific model with a specific credential.
//
//nolint:govet // fieldalignment: value semantics preferred over pointer indirection
type Request struct {
	Role        Role
	Prompt      string
	Model       string
	Credential  string
	MaxTokens   int
	Temperature float32
}

// Usage reports token accounting for a single call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Response is a well-formed backend answer.
type Response struct {
	Content string
	Model   string // Model that actually served the request
	Usage   Usage
	Latency time.Duration
}

// Backend performs a single request against one provider. Implementations
// classify failures as *llmerrors.Error and never retry internally.
type Backend interface {
	// Complete issues the request and returns the model output.
	Complete(ctx context.Context, req Request) (Response, error)

	// Name returns the provider name for logging and metrics.
	Name() string
}

// NewRequest creates a request with default sampling values for role.
func NewRequest(role Role, prompt string) Request {
	temp := float32(TemperatureDeterministic)
	if role == RolePlanning {
		temp = TemperatureDefault
	}
	return Request{
		Role:        role,
		Prompt:      prompt,
		MaxTokens:   DefaultMaxTokens,
		Temperature: temp,
	}
}

// Validate checks that the request is routable.
func (r *Request) Validate() error {
	if r.Prompt == "" {
		return fmt.Errorf("prompt cannot be empty")
	}
	if r.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max tokens must not be negative")
	}
	return nil
}
