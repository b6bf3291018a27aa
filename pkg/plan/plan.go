// Package plan turns a specification into an ordered set of modules whose
// dependency graph is a DAG.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"codeforge/pkg/templates"
)

// ModuleDescriptor describes one module of the project.
type ModuleDescriptor struct {
	Name           string   `json:"name"`
	Responsibility string   `json:"responsibility"`
	Path           string   `json:"path,omitempty"`
	Interfaces     string   `json:"interfaces"`
	Dependencies   []string `json:"dependencies,omitempty"`
}

// Plan is an immutable, validated set of modules. Re-planning produces a new value.
type Plan struct {
	ProjectName string
	modules     []ModuleDescriptor
	index       map[string]int
}

// MalformedPlanError reports a plan that cannot be used. It is never retried.
type MalformedPlanError struct {
	Reason string
	Module string
}

func (e *MalformedPlanError) Error() string {
	if e.Module != "" {
		return fmt.Sprintf("malformed plan: module %q: %s", e.Module, e.Reason)
	}
	return "malformed plan: " + e.Reason
}

// New validates modules and returns a Plan. Module order is preserved.
func New(projectName string, modules []ModuleDescriptor) (*Plan, error) {
	if len(modules) == 0 {
		return nil, &MalformedPlanError{Reason: "no modules"}
	}

	p := &Plan{
		ProjectName: projectName,
		modules:     make([]ModuleDescriptor, len(modules)),
		index:       make(map[string]int, len(modules)),
	}

	for i := range modules {
		m := modules[i]
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			return nil, &MalformedPlanError{Reason: fmt.Sprintf("module #%d has no name", i+1)}
		}
		if _, dup := p.index[m.Name]; dup {
			return nil, &MalformedPlanError{Module: m.Name, Reason: "duplicate module name"}
		}
		m.Dependencies = dedupe(m.Dependencies)
		p.index[m.Name] = i
		p.modules[i] = m
	}

	for i := range p.modules {
		for _, dep := range p.modules[i].Dependencies {
			if dep == p.modules[i].Name {
				return nil, &MalformedPlanError{Module: dep, Reason: "module depends on itself"}
			}
			if _, ok := p.index[dep]; !ok {
				return nil, &MalformedPlanError{Module: p.modules[i].Name, Reason: fmt.Sprintf("unknown dependency %q", dep)}
			}
		}
	}

	if err := p.checkCycles(); err != nil {
		return nil, err
	}
	return p, nil
}

// Modules returns a copy of the modules in plan order.
func (p *Plan) Modules() []ModuleDescriptor {
	out := make([]ModuleDescriptor, len(p.modules))
	for i := range p.modules {
		out[i] = p.modules[i]
		out[i].Dependencies = append([]string(nil), p.modules[i].Dependencies...)
	}
	return out
}

// Len returns the number of modules.
func (p *Plan) Len() int {
	return len(p.modules)
}

// Module returns the named module.
func (p *Plan) Module(name string) (ModuleDescriptor, bool) {
	i, ok := p.index[name]
	if !ok {
		return ModuleDescriptor{}, false
	}
	m := p.modules[i]
	m.Dependencies = append([]string(nil), m.Dependencies...)
	return m, true
}

// Names returns module names in plan order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.modules))
	for i := range p.modules {
		names[i] = p.modules[i].Name
	}
	return names
}

// TopologicalOrder returns module names so that every module follows its
// dependencies. Ties keep plan order.
func (p *Plan) TopologicalOrder() []string {
	indegree := make(map[string]int, len(p.modules))
	dependents := make(map[string][]string, len(p.modules))
	for i := range p.modules {
		m := &p.modules[i]
		indegree[m.Name] += 0
		for _, dep := range m.Dependencies {
			indegree[m.Name]++
			dependents[dep] = append(dependents[dep], m.Name)
		}
	}

	var ready []string
	for i := range p.modules {
		if indegree[p.modules[i].Name] == 0 {
			ready = append(ready, p.modules[i].Name)
		}
	}

	order := make([]string, 0, len(p.modules))
	for len(ready) > 0 {
		sort.SliceStable(ready, func(a, b int) bool { return p.index[ready[a]] < p.index[ready[b]] })
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, d := range dependents[name] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	return order
}

// checkCycles detects cycles in the dependency graph using DFS.
func (p *Plan) checkCycles() error {
	visiting := make(map[string]bool, len(p.modules))
	visited := make(map[string]bool, len(p.modules))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		if visiting[name] {
			return &MalformedPlanError{Module: name, Reason: "dependency cycle " + strings.Join(append(path, name), " -> ")}
		}
		if visited[name] {
			return nil
		}
		visiting[name] = true
		for _, dep := range p.modules[p.index[name]].Dependencies {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		visiting[name] = false
		visited[name] = true
		return nil
	}

	for i := range p.modules {
		if err := visit(p.modules[i].Name, nil); err != nil {
			return err
		}
	}
	return nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// View returns the prompt-facing form of the module.
func (m ModuleDescriptor) View() templates.ModuleView {
	return templates.ModuleView{
		Name:           m.Name,
		Responsibility: m.Responsibility,
		Path:           m.Path,
		Interfaces:     m.Interfaces,
		Dependencies:   m.Dependencies,
	}
}
