// Package generate writes the source and test files of every planned module.
package generate

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"codeforge/pkg/agent"
	"codeforge/pkg/logx"
	"codeforge/pkg/plan"
	"codeforge/pkg/project"
	"codeforge/pkg/specs"
	"codeforge/pkg/templates"
)

// DefaultWorkers bounds concurrent generation calls when none is configured.
const DefaultWorkers = 4

// GenerationError reports a module whose response could not be turned into files.
type GenerationError struct {
	Module string
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation of module %q failed: %s: %v", e.Module, e.Reason, e.Err)
	}
	return fmt.Sprintf("generation of module %q failed: %s", e.Module, e.Reason)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Stage generates modules with one call each. Modules run concurrently up to
// Workers, and a module starts only once all of its dependencies are done.
type Stage struct {
	agent   *agent.Agent
	spec    *specs.Specification
	workers int
	logger  *logx.Logger
}

// NewStage creates a generation stage for spec.
func NewStage(a *agent.Agent, spec *specs.Specification, workers int) *Stage {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Stage{
		agent:   a,
		spec:    spec,
		workers: workers,
		logger:  logx.NewLogger("generation"),
	}
}

// Generate returns the artifacts of every module in plan order. The first
// failure cancels the modules still waiting or in flight.
func (s *Stage) Generate(ctx context.Context, p *plan.Plan) ([]*project.Artifact, error) {
	order := p.TopologicalOrder()
	done := make(map[string]chan struct{}, len(order))
	for _, name := range order {
		done[name] = make(chan struct{})
	}

	var mu sync.Mutex
	results := make(map[string][]*project.Artifact, len(order))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	// Launching in topological order keeps the oldest running module's
	// dependencies finished, so waiting modules cannot starve the pool.
	for _, name := range order {
		mod, _ := p.Module(name)
		g.Go(func() error {
			for _, dep := range mod.Dependencies {
				select {
				case <-done[dep]:
				case <-gctx.Done():
					return gctx.Err()
				}
			}

			arts, err := s.generateModule(gctx, p, mod)
			if err != nil {
				return err
			}

			mu.Lock()
			results[mod.Name] = arts
			mu.Unlock()
			close(done[mod.Name])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*project.Artifact
	for _, name := range p.Names() {
		out = append(out, results[name]...)
	}
	s.logger.Info("generated %d files for %d modules", len(out), p.Len())
	return out, nil
}

func (s *Stage) generateModule(ctx context.Context, p *plan.Plan, mod plan.ModuleDescriptor) ([]*project.Artifact, error) {
	view := mod.View()
	data := &templates.PromptData{
		Specification:  s.spec.Text,
		TargetLanguage: s.spec.Language(),
		TestCommand:    s.spec.TestCommand,
		ProjectName:    p.ProjectName,
		Module:         &view,
	}
	for _, dep := range mod.Dependencies {
		d, _ := p.Module(dep)
		data.Dependencies = append(data.Dependencies, d.View())
	}

	s.logger.Debug("generating module %s", mod.Name)
	ex, err := s.agent.Ask(ctx, agent.Generation, data)
	if err != nil {
		return nil, err
	}

	arts, err := ParseFiles(mod, ex.Response.Content)
	if err != nil {
		return nil, err
	}
	s.logger.Info("module %s: %d files from %s", mod.Name, len(arts), ex.Response.Model)
	return arts, nil
}
