// Package repair runs the test → repair cycle over an assembled project until
// the tests pass or the repair budget is spent.
//
// Each round takes the first K distinct failing cases, attributes them to
// modules and makes one repair call per affected module, in plan order. All
// patches of a round are computed before any is applied, then applied
// together and re-materialized. The iteration counter advances once per
// round whether or not a patch changed anything, which bounds the loop at
// max iterations + 1 test runs.
package repair

import (
	"context"
	"errors"
	"fmt"

	"codeforge/pkg/agent"
	"codeforge/pkg/logx"
	"codeforge/pkg/metrics"
	"codeforge/pkg/plan"
	"codeforge/pkg/project"
	"codeforge/pkg/proto"
	"codeforge/pkg/specs"
	"codeforge/pkg/state"
	"codeforge/pkg/templates"
	"codeforge/pkg/testexec"
)

// DefaultMaxFailingCases is K when none is configured.
const DefaultMaxFailingCases = 5

// Repair iteration outcomes recorded in metrics.
const (
	OutcomeApplied  = "applied"
	OutcomeNoChange = "no_change"
)

// Config wires a Loop.
type Config struct {
	Agent     *agent.Agent
	Executor  testexec.TestExecutor
	Assembler *project.Assembler
	Plan      *plan.Plan
	Spec      *specs.Specification
	State     *state.SessionState

	// MaxFailingCases is K, the number of distinct failing cases per round.
	MaxFailingCases int
	Recorder        metrics.Recorder
}

// Loop is the TESTING/REPAIRING state machine of one session.
type Loop struct {
	cfg    Config
	logger *logx.Logger
}

// New validates cfg and returns a loop.
func New(cfg Config) (*Loop, error) {
	switch {
	case cfg.Agent == nil:
		return nil, fmt.Errorf("repair loop requires an agent")
	case cfg.Executor == nil:
		return nil, fmt.Errorf("repair loop requires a test executor")
	case cfg.Assembler == nil:
		return nil, fmt.Errorf("repair loop requires an assembler")
	case cfg.Plan == nil:
		return nil, fmt.Errorf("repair loop requires a plan")
	case cfg.State == nil:
		return nil, fmt.Errorf("repair loop requires session state")
	}
	if cfg.Spec == nil {
		cfg.Spec = &specs.Specification{}
	}
	if cfg.MaxFailingCases <= 0 {
		cfg.MaxFailingCases = DefaultMaxFailingCases
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.Nop()
	}
	return &Loop{cfg: cfg, logger: logx.NewLogger("repair")}, nil
}

// Run tests proj and repairs it until the state reaches DONE or FAILED. The
// state must be in ASSEMBLING or TESTING. A nil error with a FAILED phase
// means the budget ran out. A non-nil error means a model call failed or ctx
// was cancelled; the project then still matches the last recorded result.
func (l *Loop) Run(ctx context.Context, proj *project.Project) (proto.Phase, error) {
	st := l.cfg.State
	if st.Phase() == proto.PhaseAssembling {
		if err := st.TransitionTo(proto.PhaseTesting, ""); err != nil {
			return st.Phase(), err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return st.Phase(), err
		}

		result := l.cfg.Executor.Run(ctx, proj)
		if err := ctx.Err(); err != nil {
			return st.Phase(), err
		}
		st.Record(result)
		l.logger.Info("test run after %d repairs: %s", st.Iteration(), result.Summary())

		if result.Passed {
			return proto.PhaseDone, st.TransitionTo(proto.PhaseDone, "tests passed")
		}
		if !st.BudgetLeft() {
			reason := fmt.Sprintf("repair budget of %d iterations exhausted", st.MaxIterations())
			return proto.PhaseFailed, st.TransitionTo(proto.PhaseFailed, reason)
		}

		if err := st.TransitionTo(proto.PhaseRepairing, fmt.Sprintf("%d failing", len(result.FailingCases))); err != nil {
			return st.Phase(), err
		}
		if err := l.round(ctx, proj, result); err != nil {
			return st.Phase(), err
		}
		if err := st.TransitionTo(proto.PhaseTesting, ""); err != nil {
			return st.Phase(), err
		}
	}
}

// round makes the repair calls for one failing result and applies them.
func (l *Loop) round(ctx context.Context, proj *project.Project, result proto.TestResult) error {
	st := l.cfg.State
	cases := SelectCases(result, l.cfg.MaxFailingCases)
	targets := Attribute(l.cfg.Plan, proj, cases)

	var (
		changes   []project.Change
		exchanges []state.Exchange
	)
	for _, t := range targets {
		ex, patch, err := l.repairModule(ctx, proj, t)
		if err != nil {
			return err
		}
		changes = append(changes, patch.Changes...)
		exchanges = append(exchanges, ex)
	}

	// A response that arrived after cancellation is discarded.
	if err := ctx.Err(); err != nil {
		return err
	}

	changed, err := proj.Replace(changes)
	if err != nil {
		return fmt.Errorf("failed to apply repair patches: %w", err)
	}
	if _, err := l.cfg.Assembler.Write(proj); err != nil {
		return fmt.Errorf("failed to re-materialize project: %w", err)
	}

	changedSet := make(map[string]bool, len(changed))
	for _, p := range changed {
		changedSet[p] = true
	}
	for i := range exchanges {
		var kept []string
		for _, p := range exchanges[i].Changed {
			if changedSet[p] {
				kept = append(kept, p)
			}
		}
		exchanges[i].Changed = kept
	}
	st.Attach(exchanges...)

	n, err := st.IncrementIteration()
	if err != nil {
		return err
	}
	outcome := OutcomeApplied
	if len(changed) == 0 {
		outcome = OutcomeNoChange
	}
	l.cfg.Recorder.IncRepairIteration(outcome)
	l.logger.Info("repair round %d/%d: %d modules, %d files changed", n, st.MaxIterations(), len(targets), len(changed))
	return nil
}

func (l *Loop) repairModule(ctx context.Context, proj *project.Project, t Target) (state.Exchange, Patch, error) {
	files := proj.ModuleArtifacts(t.Module.Name)
	view := t.Module.View()
	data := &templates.PromptData{
		Specification:  l.cfg.Spec.Text,
		TargetLanguage: l.cfg.Spec.Language(),
		TestCommand:    l.cfg.Spec.TestCommand,
		ProjectName:    proj.Name,
		Module:         &view,
		Iteration:      l.cfg.State.Iteration(),
		MaxIterations:  l.cfg.State.MaxIterations(),
	}
	for _, dep := range t.Module.Dependencies {
		if d, ok := l.cfg.Plan.Module(dep); ok {
			data.Dependencies = append(data.Dependencies, d.View())
		}
	}
	for _, f := range files {
		data.Files = append(data.Files, templates.FileView{Path: f.Path, Kind: string(f.Kind), Content: f.Content})
	}
	for _, c := range t.Cases {
		data.Failures = append(data.Failures, templates.FailureView{ID: c.ID, Message: c.Message, Output: c.Output})
	}

	reply, err := l.cfg.Agent.Ask(ctx, agent.Repair, data)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return state.Exchange{}, Patch{}, ctx.Err()
		}
		return state.Exchange{}, Patch{}, fmt.Errorf("repair of module %s: %w", t.Module.Name, err)
	}

	patch := ParsePatch(reply.Response.Content, files)
	for _, w := range patch.Warnings {
		l.logger.Warn("module %s: %s", t.Module.Name, w)
	}
	for _, e := range explanations(reply.Response.Content) {
		l.logger.Debug("module %s: %s", t.Module.Name, e)
	}

	ex := state.Exchange{
		Module:   t.Module.Name,
		Prompt:   reply.Prompt,
		Response: reply.Response.Content,
		Model:    reply.Response.Model,
		Warnings: patch.Warnings,
	}
	for _, c := range patch.Changes {
		ex.Changed = append(ex.Changed, c.Path)
	}
	return ex, patch, nil
}
