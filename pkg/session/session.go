// Package session runs one end-to-end generation session: planning,
// generation, assembly and the test/repair loop. A Session owns all mutable
// state of the run and always produces a Report.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"codeforge/pkg/agent"
	"codeforge/pkg/config"
	"codeforge/pkg/eventlog"
	"codeforge/pkg/generate"
	"codeforge/pkg/llm/provider"
	"codeforge/pkg/logx"
	"codeforge/pkg/metrics"
	"codeforge/pkg/modelclient"
	"codeforge/pkg/persistence"
	"codeforge/pkg/plan"
	"codeforge/pkg/project"
	"codeforge/pkg/proto"
	"codeforge/pkg/repair"
	"codeforge/pkg/specs"
	"codeforge/pkg/state"
	"codeforge/pkg/testexec"
)

// ErrCancelled is returned by Run when the session was cancelled.
var ErrCancelled = errors.New("session cancelled")

// ErrClosed is returned when a closed session is used.
var ErrClosed = errors.New("session closed")

// Options wires a session. Only Config and Spec are required; nil
// collaborators are built from Config.
type Options struct {
	Config *config.Config
	Spec   *specs.Specification

	Client   *modelclient.Client
	Executor testexec.TestExecutor
	Recorder metrics.Recorder
	Store    *persistence.Store
}

// Session is one generation-and-repair run.
type Session struct {
	ID string

	cfg      *config.Config
	spec     *specs.Specification
	client   *modelclient.Client
	executor testexec.TestExecutor
	recorder metrics.Recorder
	store    *persistence.Store
	events   *eventlog.Writer
	ownStore bool
	ownLog   bool
	state    *state.SessionState
	logger   *logx.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
	running   bool
	closed    bool
	plan      *plan.Plan
	project   *project.Project
	startedAt time.Time
	persisted int // history entries already written to the store
}

// New validates opts and creates a session in PLANNING.
func New(opts Options) (*Session, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Spec == nil || opts.Spec.Text == "" {
		return nil, fmt.Errorf("a non-empty specification is required")
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		ID:       uuid.NewString(),
		cfg:      cfg,
		spec:     opts.Spec,
		client:   opts.Client,
		executor: opts.Executor,
		recorder: opts.Recorder,
		store:    opts.Store,
		state:    state.New(cfg.Repair.MaxIterations, cfg.Repair.HistoryRetention),
	}
	s.logger = logx.NewLogger("session-" + s.ID[:8])

	if s.recorder == nil {
		if cfg.Metrics.Enabled {
			s.recorder = metrics.NewPrometheusRecorder()
		} else {
			s.recorder = metrics.Nop()
		}
	}

	if s.client == nil {
		client, err := NewClient(cfg, s.recorder)
		if err != nil {
			return nil, err
		}
		s.client = client
	}

	if s.executor == nil {
		s.executor = testexec.NewRunner(testexec.NewHostExecutor(), testexec.RunnerOptions{
			Command:  opts.Spec.TestCommand,
			Timeout:  cfg.Timeouts.Test,
			Recorder: s.recorder,
		})
	}

	if cfg.Output.RunLog != "" {
		if err := logx.SetRunLog(cfg.Output.RunLog); err != nil {
			return nil, err
		}
		s.ownLog = true
	}

	if s.store == nil && cfg.Output.Database != "" {
		store, err := persistence.Open(cfg.Output.Database)
		if err != nil {
			s.closeRunLog()
			return nil, err
		}
		s.store = store
		s.ownStore = true
	}

	if cfg.Output.Events != "" {
		w, err := eventlog.NewWriter(cfg.Output.Events)
		if err != nil {
			s.logger.Warn("event log disabled: %v", err)
		} else {
			s.events = w
			s.state.OnTransition(s.transitionEvent)
		}
	}

	return s, nil
}

// NewClient builds the model client every stage of a session shares, backed
// by the provider chain cfg describes.
func NewClient(cfg *config.Config, recorder metrics.Recorder) (*modelclient.Client, error) {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	backend := provider.NewFactory(provider.Options{
		ProxyBase:      cfg.Proxy.Base,
		OllamaHost:     cfg.Ollama.Host,
		RequestTimeout: cfg.Timeouts.Request,
		RateLimitRPS:   cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst: cfg.RateLimit.Burst,
		Recorder:       recorder,
	}).Backend()
	client, err := modelclient.New(backend, cfg.ModelClientConfig(), recorder)
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}
	return client, nil
}

// State returns the session's state.
func (s *Session) State() *state.SessionState { return s.state }

// Client returns the model client shared by every stage.
func (s *Session) Client() *modelclient.Client { return s.client }

// Project returns the assembled project, or nil before assembly.
func (s *Session) Project() *project.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project
}

// Cancel asks a running session to stop. It is checked between phases and
// between repair iterations; an in-flight model call may finish but its
// result is discarded.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	if s.cancel != nil {
		s.cancel()
	}
}

// Close releases the resources the session opened. It is safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	var err error
	if s.ownStore {
		err = s.store.Close()
	}
	if s.events != nil {
		if cerr := s.events.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	s.closeRunLog()
	return err
}

func (s *Session) closeRunLog() {
	if s.ownLog {
		logx.CloseRunLog()
		s.ownLog = false
	}
}

// Run executes the session once. The returned Report is never nil. err is
// nil when the session ended in DONE, or in FAILED because the repair budget
// ran out; otherwise it explains why the session failed.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	runCtx, err := s.begin(ctx)
	if err != nil {
		return s.report(err), err
	}
	defer s.end()

	runErr := s.run(runCtx)
	if runErr != nil && runCtx.Err() != nil {
		runErr = fmt.Errorf("%w: %v", ErrCancelled, runCtx.Err())
	}
	if runErr != nil && !s.state.Phase().Terminal() {
		reason := runErr.Error()
		if errors.Is(runErr, ErrCancelled) {
			reason = "cancelled"
		}
		_ = s.state.TransitionTo(proto.PhaseFailed, reason)
	}

	rep := s.report(runErr)
	s.finish(rep, runErr)
	return rep, runErr
}

func (s *Session) begin(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return nil, ErrClosed
	case s.running || s.state.Phase() != proto.PhasePlanning:
		return nil, fmt.Errorf("session %s has already run", s.ID)
	}

	runCtx, cancel := context.WithCancel(logx.WithSession(ctx, s.ID))
	if s.cancelled {
		cancel()
	}
	s.cancel = cancel
	s.running = true
	s.startedAt = time.Now().UTC()

	if s.store != nil {
		if err := s.store.StartSession(&persistence.Session{
			SessionID:     s.ID,
			StartedAt:     s.startedAt,
			MaxIterations: s.cfg.Repair.MaxIterations,
			ProjectName:   s.spec.ProjectName,
			OutputDir:     s.cfg.Output.Dir,
			SpecText:      s.spec.Text,
			ConfigJSON:    configJSON(s.cfg),
		}); err != nil {
			s.logger.Warn("session will not be persisted: %v", err)
			if s.ownStore {
				_ = s.store.Close()
				s.ownStore = false
			}
			s.store = nil
		}
	}
	s.logger.Info("session %s started (max %d repair iterations)", s.ID, s.cfg.Repair.MaxIterations)
	return runCtx, nil
}

func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.cancel()
}

func (s *Session) run(ctx context.Context) error {
	a, err := agent.New(s.client)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := plan.NewStage(a).Plan(ctx, s.spec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.plan = p
	s.mu.Unlock()
	if s.store != nil && p.ProjectName != "" {
		if err := s.store.UpdateProjectName(s.ID, p.ProjectName); err != nil {
			s.logger.Warn("failed to record project name: %v", err)
		}
	}

	if err := s.advance(ctx, proto.PhaseGenerating, fmt.Sprintf("%d modules planned", p.Len())); err != nil {
		return err
	}
	artifacts, err := generate.NewStage(a, s.spec, s.cfg.Generation.Workers).Generate(ctx, p)
	if err != nil {
		return err
	}

	if err := s.advance(ctx, proto.PhaseAssembling, fmt.Sprintf("%d files generated", len(artifacts))); err != nil {
		return err
	}
	name := s.spec.ProjectName
	if name == "" {
		name = p.ProjectName
	}
	asm := project.NewAssembler(s.cfg.Output.Dir, s.spec.Language(), name)
	proj, err := asm.Assemble(p, artifacts)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.project = proj
	s.mu.Unlock()

	if err := s.advance(ctx, proto.PhaseTesting, ""); err != nil {
		return err
	}
	loop, err := repair.New(repair.Config{
		Agent:           a,
		Executor:        &persistingExecutor{inner: s.executor, session: s},
		Assembler:       asm,
		Plan:            p,
		Spec:            s.spec,
		State:           s.state,
		MaxFailingCases: s.cfg.Repair.MaxFailingCases,
		Recorder:        s.recorder,
	})
	if err != nil {
		return err
	}
	_, err = loop.Run(ctx, proj)
	return err
}

// advance checks for cancellation, then moves to the next phase.
func (s *Session) advance(ctx context.Context, to proto.Phase, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.state.TransitionTo(to, reason)
}

// persistingExecutor writes history entries and events as tests run, so an
// interrupted session still has its runs recorded.
type persistingExecutor struct {
	inner   testexec.TestExecutor
	session *Session
}

func (p *persistingExecutor) Run(ctx context.Context, proj *project.Project) proto.TestResult {
	p.session.flushHistory()
	p.session.repairEvents()
	result := p.inner.Run(ctx, proj)
	p.session.testRunEvent(result)
	return result
}
