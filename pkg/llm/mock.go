package llm

import (
	"context"
	"sync"
)

// MockCall records one request observed by MockBackend.
type MockCall struct {
	Role       Role
	Model      string
	Credential string
	Prompt     string
}

// MockBackend is a scripted Backend for tests. Respond decides the outcome of
// every call; when nil, Content is echoed back.
type MockBackend struct {
	Respond func(ctx context.Context, req Request) (Response, error)
	Content string

	mu    sync.Mutex
	calls []MockCall
}

// NewMockBackend returns a mock that answers every call with content.
func NewMockBackend(content string) *MockBackend {
	return &MockBackend{Content: content}
}

// Complete records the call and returns the scripted outcome.
func (m *MockBackend) Complete(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{
		Role:       req.Role,
		Model:      req.Model,
		Credential: req.Credential,
		Prompt:     req.Prompt,
	})
	respond := m.Respond
	content := m.Content
	m.mu.Unlock()

	if respond != nil {
		return respond(ctx, req)
	}
	return Response{Content: content, Model: req.Model}, nil
}

// Name returns the mock provider name.
func (m *MockBackend) Name() string {
	return "mock"
}

// Calls returns a copy of recorded calls in issue order.
func (m *MockBackend) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallsForRole returns recorded calls with the given role.
func (m *MockBackend) CallsForRole(role Role) []MockCall {
	var out []MockCall
	for _, c := range m.Calls() {
		if c.Role == role {
			out = append(out, c)
		}
	}
	return out
}
