package testexec

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeforge/pkg/project"
	"codeforge/pkg/proto"
)

func pythonProject(t *testing.T) *project.Project {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "pyproject.toml"), []byte("[project]\n"), 0644))
	return project.New(root, "python", "calc", nil)
}

func TestRunnerPasses(t *testing.T) {
	exec := NewMockExecutor()
	proj := pythonProject(t)

	res := NewRunner(exec, RunnerOptions{}).Run(context.Background(), proj)
	assert.True(t, res.Passed)
	assert.Empty(t, res.FailingCases)

	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"python", "-m", "pytest", "-q", "-rA"}, calls[0].Argv)
	assert.Equal(t, proj.Root, calls[0].Dir)
}

func TestRunnerParsesFailures(t *testing.T) {
	exec := &MockExecutor{ExitCode: 1, Output: pytestOutput}
	res := NewRunner(exec, RunnerOptions{}).Run(context.Background(), pythonProject(t))

	assert.False(t, res.Passed)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, []string{
		"tests/test_parser.py::test_parse_number",
		"tests/test_ops.py::TestOps::test_add[1-2]",
		"tests/test_lexer.py",
	}, res.FailingIDs())
}

func TestRunnerGenericFailure(t *testing.T) {
	exec := &MockExecutor{ExitCode: 2, Output: "something odd happened\n"}
	res := NewRunner(exec, RunnerOptions{}).Run(context.Background(), pythonProject(t))
	require.Len(t, res.FailingCases, 1)
	assert.Equal(t, proto.CaseExitStatus, res.FailingCases[0].ID)
	assert.Contains(t, res.FailingCases[0].Output, "something odd happened")

	exec = &MockExecutor{ExitCode: 5}
	res = NewRunner(exec, RunnerOptions{}).Run(context.Background(), pythonProject(t))
	assert.Equal(t, []string{proto.CaseNoTests}, res.FailingIDs())
}

func TestRunnerTimeout(t *testing.T) {
	exec := &MockExecutor{Delay: time.Minute, Output: "collecting...\n"}
	res := NewRunner(exec, RunnerOptions{Timeout: 20 * time.Millisecond}).Run(context.Background(), pythonProject(t))

	assert.False(t, res.Passed)
	require.Len(t, res.FailingCases, 1)
	assert.Equal(t, proto.CaseTimeout, res.FailingCases[0].ID)
	assert.Contains(t, res.RawOutput, "collecting")
	assert.Less(t, res.Duration, 10*time.Second)
}

func TestRunnerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exec := &MockExecutor{Delay: time.Minute}
	res := NewRunner(exec, RunnerOptions{}).Run(ctx, pythonProject(t))
	assert.Equal(t, []string{proto.CaseCancelled}, res.FailingIDs())
}

func TestRunnerExecutorError(t *testing.T) {
	exec := &MockExecutor{ExitCode: -1, Error: errors.New("python: not found")}
	res := NewRunner(exec, RunnerOptions{}).Run(context.Background(), pythonProject(t))
	assert.Equal(t, []string{proto.CaseExecutorError}, res.FailingIDs())
	assert.Contains(t, res.FailingCases[0].Message, "not found")
}

// lingeringExecutor returns at once while a writer keeps appending output,
// as a process group that survived its kill does.
type lingeringExecutor struct {
	done chan struct{}
}

func (l *lingeringExecutor) Run(ctx context.Context, _ []string, opts ExecOpts) (int, error) {
	_, _ = io.WriteString(opts.Stdout, "FAILED test_calc.py::test_add - assert 1 == 2\n")
	go func() {
		defer close(l.done)
		for i := 0; i < 200; i++ {
			_, _ = io.WriteString(opts.Stderr, "still writing\n")
		}
	}()
	return 1, nil
}

func (l *lingeringExecutor) Name() string { return "lingering" }

func TestRunnerReadsOutputWhileWriterLingers(t *testing.T) {
	exec := &lingeringExecutor{done: make(chan struct{})}
	res := NewRunner(exec, RunnerOptions{}).Run(context.Background(), pythonProject(t))
	<-exec.done

	assert.False(t, res.Passed)
	assert.Contains(t, res.RawOutput, "test_add")
}

func TestLockedWriterSnapshot(t *testing.T) {
	w := &lockedWriter{}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = w.Write([]byte("x"))
				_ = w.String()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, w.String(), 400)
}

func TestRunnerCommandSelection(t *testing.T) {
	root := t.TempDir()
	proj := project.New(root, "", "x", nil)

	r := NewRunner(NewMockExecutor(), RunnerOptions{})
	_, backend, err := r.Command(proj)
	require.Error(t, err, "an empty directory has no test command")
	assert.Equal(t, "null", backend.Name())

	r = NewRunner(NewMockExecutor(), RunnerOptions{Command: "pytest -x"})
	argv, _, err := r.Command(proj)
	require.NoError(t, err)
	assert.Equal(t, []string{"pytest", "-x"}, argv)

	require.NoError(t, os.WriteFile(filepath.Join(root, "Makefile"), []byte("test:\n\ttrue\n"), 0644))
	proj = project.New(root, "python", "x", nil)
	argv, backend, err = NewRunner(NewMockExecutor(), RunnerOptions{}).Command(proj)
	require.NoError(t, err)
	assert.Equal(t, "make", backend.Name())
	assert.Equal(t, []string{"make", "test"}, argv)

	proj = project.New(t.TempDir(), "go", "x", nil)
	argv, _, err = NewRunner(NewMockExecutor(), RunnerOptions{}).Command(proj)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "test", "./..."}, argv)
}

func TestHostExecutor(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	h := NewHostExecutor()
	dir := t.TempDir()

	var out strings.Builder
	code, err := h.Run(context.Background(), []string{"sh", "-c", "echo hi; exit 3"}, ExecOpts{Dir: dir, Stdout: &out, Stderr: &out})
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "hi\n", out.String())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = h.Run(ctx, []string{"sh", "-c", "sleep 30"}, ExecOpts{Dir: dir, Stdout: &out, Stderr: &out})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)

	_, err = h.Run(context.Background(), nil, ExecOpts{Dir: dir, Stdout: &out, Stderr: &out})
	assert.Error(t, err)
}

func TestScriptedRunner(t *testing.T) {
	s := NewScriptedRunner(proto.Failing("1"), proto.Passing("2"))
	proj := project.New("r", "python", "x", []*project.Artifact{{Path: "a.py", Module: "a", Kind: project.KindSource}})

	assert.False(t, s.Run(context.Background(), proj).Passed)
	assert.True(t, s.Run(context.Background(), proj).Passed)
	assert.True(t, s.Run(context.Background(), proj).Passed, "last result repeats")
	assert.Equal(t, 3, s.Runs())
	assert.Len(t, s.Revisions(), 3)
}
