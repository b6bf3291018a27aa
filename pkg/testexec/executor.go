// Package testexec runs a generated project's test suite and normalizes the
// output into a proto.TestResult.
package testexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"codeforge/pkg/logx"
)

// killGrace bounds the wait for a killed process group to exit.
const killGrace = 5 * time.Second

// ExecOpts configures command execution.
//
//nolint:govet // Field order chosen for readability over memory alignment.
type ExecOpts struct {
	// Dir is the working directory. Required.
	Dir string

	// Env holds "KEY=VALUE" overrides merged over the inherited environment.
	Env []string

	// Stdout and Stderr receive the command's output. May be the same writer.
	Stdout io.Writer
	Stderr io.Writer
}

// Executor runs commands and returns results.
type Executor interface {
	// Run executes argv (NOT a shell string). The exit code is valid even
	// when the command ran and failed; err is reserved for commands that
	// could not run or were cut off by ctx.
	Run(ctx context.Context, argv []string, opts ExecOpts) (exitCode int, err error)

	// Name returns the executor name for logging.
	Name() string
}

// HostExecutor runs commands directly on the host.
type HostExecutor struct {
	logger *logx.Logger
}

// NewHostExecutor creates a new host executor.
func NewHostExecutor() *HostExecutor {
	return &HostExecutor{logger: logx.NewLogger("host-executor")}
}

// Name returns the executor name.
func (h *HostExecutor) Name() string {
	return "host"
}

// Run executes argv on the host. Cancelling ctx kills the whole process group.
func (h *HostExecutor) Run(ctx context.Context, argv []string, opts ExecOpts) (int, error) {
	if len(argv) == 0 {
		return -1, fmt.Errorf("command cannot be empty")
	}
	if opts.Stdout == nil || opts.Stderr == nil {
		return -1, fmt.Errorf("stdout and stderr writers are required")
	}

	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // argv comes from config or the detected backend
	cmd.Dir = opts.Dir
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	// Setting cmd.Env to any value replaces the environment, PATH included.
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	h.logger.Debug("executing in %s: %s", opts.Dir, strings.Join(argv, " "))
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		// Test runners fork workers; kill the group, not just the leader.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		select {
		case <-done:
		case <-time.After(killGrace):
			h.logger.Error("process %d did not exit within %s after SIGKILL", cmd.Process.Pid, killGrace)
		}
		return -1, ctx.Err()

	case err := <-done:
		if err == nil {
			return 0, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("failed to execute %s: %w", argv[0], err)
	}
}

// MockExecutor simulates command execution without running anything.
//
//nolint:govet // Field order chosen for readability over memory alignment.
type MockExecutor struct {
	// ExitCode is returned from Run. Default is 0.
	ExitCode int
	// Error is returned from Run. Default is nil.
	Error error
	// Output is written to stdout when Run is called.
	Output string
	// Delay makes Run block until it elapses or ctx is done.
	Delay time.Duration

	mu    sync.Mutex
	calls []MockExecCall
}

// MockExecCall records a single call to the mock executor.
type MockExecCall struct {
	Argv []string
	Dir  string
}

// NewMockExecutor creates a mock executor that succeeds.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{Output: "mock execution successful\n"}
}

// Name returns the executor name.
func (m *MockExecutor) Name() string {
	return "mock"
}

// Run records the call and returns the configured outcome.
func (m *MockExecutor) Run(ctx context.Context, argv []string, opts ExecOpts) (int, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockExecCall{Argv: append([]string(nil), argv...), Dir: opts.Dir})
	m.mu.Unlock()

	if m.Output != "" && opts.Stdout != nil {
		_, _ = io.WriteString(opts.Stdout, m.Output)
	}
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}
	return m.ExitCode, m.Error
}

// Calls returns the recorded calls.
func (m *MockExecutor) Calls() []MockExecCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockExecCall(nil), m.calls...)
}
