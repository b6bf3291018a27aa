package testexec

import (
	"fmt"
	"sort"

	"codeforge/pkg/proto"
)

// Backend knows how to test one kind of project.
type Backend interface {
	// Name returns the backend name for logging and language lookup.
	Name() string

	// Detect reports whether the backend applies to the project at root.
	Detect(root string) bool

	// TestCommand returns the argv that runs the suite, or nil when the
	// backend has no way to run tests.
	TestCommand(root string) []string

	// ParseFailures extracts failing cases from the runner's output.
	ParseFailures(output string) []proto.FailingCase
}

// BackendPriority orders detection.
type BackendPriority int

const (
	// PriorityHigh is for specific project types (go.mod, package.json, etc.)
	PriorityHigh BackendPriority = 100

	// PriorityMedium is for generic build files (Makefile)
	PriorityMedium BackendPriority = 50

	// PriorityLow is for the fallback backend
	PriorityLow BackendPriority = 10
)

// BackendRegistration combines a backend with its priority.
type BackendRegistration struct {
	Backend  Backend
	Priority BackendPriority
}

// Registry holds the known backends in priority order.
type Registry struct {
	backends []BackendRegistration
}

// NewRegistry creates a registry with the default backends.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(NewGoBackend(), PriorityHigh)
	r.Register(NewPythonBackend(), PriorityHigh)
	r.Register(NewNodeBackend(), PriorityHigh)
	r.Register(NewMakeBackend(), PriorityMedium)
	r.Register(NewNullBackend(), PriorityLow)
	return r
}

// Register adds a backend with the given priority.
func (r *Registry) Register(backend Backend, priority BackendPriority) {
	r.backends = append(r.backends, BackendRegistration{Backend: backend, Priority: priority})
	sort.SliceStable(r.backends, func(i, j int) bool {
		return r.backends[i].Priority > r.backends[j].Priority
	})
}

// Select picks the backend for a project. A Makefile wins over the language
// default, then the backend named after language, then detection.
func (r *Registry) Select(root, language string) (Backend, error) {
	if mk, err := r.GetByName("make"); err == nil && mk.Detect(root) {
		return mk, nil
	}
	if language != "" {
		if b, err := r.GetByName(language); err == nil {
			return b, nil
		}
	}
	for _, reg := range r.backends {
		if reg.Backend.Detect(root) {
			return reg.Backend, nil
		}
	}
	return nil, fmt.Errorf("no suitable backend found for project at %s", root)
}

// List returns all registered backends in priority order.
func (r *Registry) List() []BackendRegistration {
	return append([]BackendRegistration(nil), r.backends...)
}

// GetByName returns a backend by its name.
func (r *Registry) GetByName(name string) (Backend, error) {
	for _, reg := range r.backends {
		if reg.Backend.Name() == name {
			return reg.Backend, nil
		}
	}
	return nil, fmt.Errorf("backend not found: %s", name)
}
