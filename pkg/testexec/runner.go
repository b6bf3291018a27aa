package testexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"codeforge/pkg/logx"
	"codeforge/pkg/metrics"
	"codeforge/pkg/project"
	"codeforge/pkg/proto"
)

// DefaultTimeout bounds a test run when none is configured.
const DefaultTimeout = 300 * time.Second

// rawOutputLimit bounds the raw output kept on a result.
const rawOutputLimit = 64 * 1024

// TestExecutor runs a project's tests. Run is synchronous and always returns
// a result; a timeout yields a failing result with a single "timeout" case.
type TestExecutor interface {
	Run(ctx context.Context, proj *project.Project) proto.TestResult
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// Command overrides backend detection when non-empty.
	Command string
	// Timeout bounds each run. Zero selects DefaultTimeout.
	Timeout time.Duration
	// Env is passed to the executor.
	Env []string
	// Registry selects backends. Nil selects NewRegistry().
	Registry *Registry
	// Recorder observes each run. Nil disables metrics.
	Recorder metrics.Recorder
}

// Runner is the TestExecutor that runs a real command through an Executor.
type Runner struct {
	exec     Executor
	opts     RunnerOptions
	mu       sync.Mutex // runs never overlap
	logger   *logx.Logger
	recorder metrics.Recorder
}

// NewRunner creates a runner over exec.
func NewRunner(exec Executor, opts RunnerOptions) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &Runner{
		exec:     exec,
		opts:     opts,
		logger:   logx.NewLogger("tests"),
		recorder: recorder,
	}
}

// Command returns the argv and the backend that will test proj.
func (r *Runner) Command(proj *project.Project) ([]string, Backend, error) {
	backend, err := r.opts.Registry.Select(proj.Root, proj.Language)
	if err != nil {
		return nil, nil, err
	}
	if argv := SplitCommand(r.opts.Command); len(argv) > 0 {
		return argv, backend, nil
	}
	argv := backend.TestCommand(proj.Root)
	if len(argv) == 0 {
		return nil, backend, fmt.Errorf("no test command for %s project at %s", backend.Name(), proj.Root)
	}
	return argv, backend, nil
}

// Run executes the suite once.
func (r *Runner) Run(ctx context.Context, proj *project.Project) proto.TestResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	result := r.run(ctx, proj)
	result.Duration = time.Since(start)

	r.recorder.ObserveTestRun(result.Passed, result.Duration)
	r.logger.Info("tests %s", result.Summary())
	return result
}

func (r *Runner) run(ctx context.Context, proj *project.Project) proto.TestResult {
	argv, backend, err := r.Command(proj)
	if err != nil {
		return proto.Failing("", proto.FailingCase{ID: proto.CaseExecutorError, Message: err.Error()})
	}

	runCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	w := &lockedWriter{}
	r.logger.Debug("running %s in %s", strings.Join(argv, " "), proj.Root)
	code, err := r.exec.Run(runCtx, argv, ExecOpts{Dir: proj.Root, Env: r.opts.Env, Stdout: w, Stderr: w})
	// A process group that outlived its kill may still be writing.
	output := w.String()
	raw := tail(output, rawOutputLimit)

	switch {
	case err != nil && ctx.Err() != nil:
		res := proto.Failing(raw, proto.FailingCase{ID: proto.CaseCancelled, Message: "test run cancelled"})
		res.Command = argv
		return res
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		res := proto.TimeoutResult(r.opts.Timeout, tail(raw, maxCaseOutput))
		res.RawOutput = raw
		res.Command = argv
		return res
	case err != nil:
		res := proto.Failing(raw, proto.FailingCase{ID: proto.CaseExecutorError, Message: err.Error()})
		res.Command = argv
		return res
	}

	if code == 0 {
		res := proto.Passing(raw)
		res.Command = argv
		return res
	}

	cases := backend.ParseFailures(output)
	if len(cases) == 0 {
		cases = []proto.FailingCase{genericCase(backend, code, raw)}
	}
	return proto.TestResult{
		Passed:       false,
		FailingCases: cases,
		RawOutput:    raw,
		ExitCode:     code,
		Command:      argv,
	}
}

// genericCase describes a failed run whose output no parser understood.
func genericCase(backend Backend, code int, raw string) proto.FailingCase {
	// pytest exits 5 when it collected nothing.
	if backend.Name() == "python" && code == 5 {
		return proto.FailingCase{ID: proto.CaseNoTests, Message: "no tests were collected", Output: tail(raw, maxCaseOutput)}
	}
	return proto.FailingCase{
		ID:      proto.CaseExitStatus,
		Message: fmt.Sprintf("test command exited with status %d", code),
		Output:  tail(raw, maxCaseOutput),
	}
}

type lockedWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

// String returns a snapshot of everything written so far.
func (l *lockedWriter) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}
