package session

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeforge/pkg/config"
	"codeforge/pkg/eventlog"
	"codeforge/pkg/llm"
	"codeforge/pkg/metrics"
	"codeforge/pkg/modelclient"
	"codeforge/pkg/persistence"
	"codeforge/pkg/plan"
	"codeforge/pkg/proto"
	"codeforge/pkg/specs"
	"codeforge/pkg/testexec"
)

const twoModulePlan = `{"project_name":"strtools","modules":[
 {"name":"reverse","responsibility":"reverse strings","path":"strtools/reverse.py","interfaces":"reverse(s: str) -> str"},
 {"name":"count","responsibility":"count vowels","path":"strtools/count.py","interfaces":"count_vowels(s: str) -> int"}
]}`

var (
	moduleHeader = regexp.MustCompile("## Module: (\\w+)")
	repairHeader = regexp.MustCompile("Tests are failing in module `([^`]+)`")
)

// fakeModel answers planning, generation and repair prompts for twoModulePlan.
type fakeModel struct {
	plan   string
	onPlan func()

	mu      sync.Mutex
	repairs int
}

func (f *fakeModel) respond(_ context.Context, req llm.Request) (llm.Response, error) {
	switch req.Role {
	case llm.RolePlanning:
		if f.onPlan != nil {
			f.onPlan()
		}
		return llm.Response{Content: f.plan, Model: req.Model, Usage: llm.Usage{PromptTokens: 100, CompletionTokens: 50}}, nil
	case llm.RoleGeneration:
		m := moduleHeader.FindStringSubmatch(req.Prompt)
		if m == nil {
			return llm.Response{}, fmt.Errorf("no module in prompt")
		}
		body := fmt.Sprintf(`{"files":[
			{"path":"strtools/%[1]s.py","kind":"source","content":"def %[1]s(s):\n    return s\n"},
			{"path":"tests/test_%[1]s.py","kind":"test","content":"def test_%[1]s():\n    pass\n"}]}`, m[1])
		return llm.Response{Content: body, Model: req.Model, Usage: llm.Usage{PromptTokens: 80, CompletionTokens: 40}}, nil
	case llm.RoleRepair:
		m := repairHeader.FindStringSubmatch(req.Prompt)
		if m == nil {
			return llm.Response{}, fmt.Errorf("no module in repair prompt")
		}
		f.mu.Lock()
		f.repairs++
		n := f.repairs
		f.mu.Unlock()
		body := fmt.Sprintf(`{"files":[{"path":"strtools/%s.py","content":"# fix %d\n"}]}`, m[1], n)
		return llm.Response{Content: body, Model: req.Model}, nil
	}
	return llm.Response{}, fmt.Errorf("unexpected role %s", req.Role)
}

type harness struct {
	cfg     *config.Config
	backend *llm.MockBackend
	model   *fakeModel
}

func newHarness(t *testing.T, maxIterations int) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Output.Dir = filepath.Join(dir, "out")
	cfg.Output.Database = filepath.Join(dir, "sessions.db")
	cfg.Repair.MaxIterations = maxIterations
	cfg.Retry.MaxAttempts = 1
	cfg.Retry.Jitter = false

	model := &fakeModel{plan: twoModulePlan}
	backend := &llm.MockBackend{Respond: model.respond}
	return &harness{cfg: cfg, backend: backend, model: model}
}

func (h *harness) session(t *testing.T, exec testexec.TestExecutor) *Session {
	t.Helper()
	client, err := modelclient.New(h.backend, h.cfg.ModelClientConfig(), nil)
	require.NoError(t, err)
	s, err := New(Options{
		Config:   h.cfg,
		Spec:     &specs.Specification{Text: "String utilities: reverse and count vowels."},
		Client:   client,
		Executor: exec,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openStore(t *testing.T, h *harness) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(h.cfg.Output.Database)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestTwoIndependentModulesPassFirstRun(t *testing.T) {
	h := newHarness(t, 5)
	exec := testexec.NewScriptedRunner(proto.Passing("2 passed"))
	s := h.session(t, exec)

	rep, err := s.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rep)

	assert.True(t, rep.Succeeded())
	assert.Equal(t, proto.PhaseDone, rep.FinalPhase)
	assert.Equal(t, 0, rep.Iterations)
	assert.Equal(t, "strtools", rep.ProjectName)
	assert.Len(t, rep.History, 1)
	require.NotNil(t, rep.LastResult)
	assert.True(t, rep.LastResult.Passed)
	assert.Equal(t, 1, exec.Runs())

	assert.Len(t, h.backend.CallsForRole(llm.RolePlanning), 1)
	assert.Len(t, h.backend.CallsForRole(llm.RoleGeneration), 2)
	assert.Empty(t, h.backend.CallsForRole(llm.RoleRepair))
	assert.Equal(t, 3, rep.ModelCalls)
	assert.Equal(t, 100, rep.Usage[llm.RolePlanning].PromptTokens)
	assert.Equal(t, 160, rep.Usage[llm.RoleGeneration].PromptTokens)

	var phases []proto.Phase
	for _, tr := range rep.Transitions {
		phases = append(phases, tr.To)
	}
	assert.Equal(t, []proto.Phase{
		proto.PhaseGenerating, proto.PhaseAssembling, proto.PhaseTesting, proto.PhaseDone,
	}, phases)

	require.Len(t, rep.Artifacts, 4)
	for _, a := range rep.Artifacts {
		assert.Equal(t, 0, a.Revision, a.Path)
		_, err := os.Stat(filepath.Join(h.cfg.Output.Dir, a.Path))
		assert.NoError(t, err, a.Path)
	}
}

func TestRepairIsPersisted(t *testing.T) {
	h := newHarness(t, 5)
	failing := proto.Failing("1 failed", proto.FailingCase{
		ID:      "tests/test_reverse.py::test_reverse",
		Message: "assert 'cba' == 'abc'",
	})
	s := h.session(t, testexec.NewScriptedRunner(failing, proto.Passing("2 passed")))

	rep, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, proto.PhaseDone, rep.FinalPhase)
	assert.Equal(t, 1, rep.Iterations)
	assert.Len(t, h.backend.CallsForRole(llm.RoleRepair), 1)

	store := openStore(t, h)
	sess, err := store.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.SessionStatusCompleted, sess.Status)
	assert.Equal(t, string(proto.PhaseDone), sess.FinalPhase)
	assert.Equal(t, 1, sess.Iterations)
	assert.Equal(t, "strtools", sess.ProjectName)
	assert.NotContains(t, sess.ConfigJSON, "Credentials\":[")

	runs, err := store.ListIterations(s.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.False(t, runs[0].Passed)
	assert.Equal(t, []proto.FailingCase{failing.FailingCases[0]}, runs[0].FailingCases)
	assert.Contains(t, runs[0].ExchangesJSON, "reverse")
	assert.True(t, runs[1].Passed)

	arts, err := store.ListArtifacts(s.ID)
	require.NoError(t, err)
	revisions := map[string]int{}
	for _, a := range arts {
		revisions[a.Path] = a.Revision
	}
	assert.Equal(t, 1, revisions["strtools/reverse.py"])
	assert.Equal(t, 0, revisions["strtools/count.py"])
}

func TestBudgetExhaustedIsNotAnError(t *testing.T) {
	h := newHarness(t, 1)
	failing := proto.Failing("1 failed", proto.FailingCase{ID: "tests/test_count.py::test_count"})
	s := h.session(t, testexec.NewScriptedRunner(failing, failing))

	rep, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, proto.PhaseFailed, rep.FinalPhase)
	assert.False(t, rep.Succeeded())
	assert.Equal(t, 1, rep.Iterations)
	assert.Len(t, rep.History, 2)
}

func TestMalformedPlanFailsSession(t *testing.T) {
	h := newHarness(t, 5)
	h.model.plan = "I would rather not."
	s := h.session(t, testexec.NewScriptedRunner())

	rep, err := s.Run(context.Background())
	require.Error(t, err)
	var malformed *plan.MalformedPlanError
	assert.ErrorAs(t, err, &malformed)
	require.NotNil(t, rep)
	assert.Equal(t, proto.PhaseFailed, rep.FinalPhase)
	assert.NotEmpty(t, rep.Error)
	assert.Empty(t, h.backend.CallsForRole(llm.RoleGeneration))

	sess, err := openStore(t, h).GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.SessionStatusErrored, sess.Status)
}

func TestCancelBetweenPhases(t *testing.T) {
	h := newHarness(t, 5)
	exec := testexec.NewScriptedRunner(proto.Passing("ok"))
	s := h.session(t, exec)
	h.model.onPlan = s.Cancel

	rep, err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, proto.PhaseFailed, rep.FinalPhase)
	assert.Empty(t, h.backend.CallsForRole(llm.RoleGeneration))
	assert.Zero(t, exec.Runs())

	sess, err := openStore(t, h).GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.SessionStatusCancelled, sess.Status)
}

func TestCancelBeforeRun(t *testing.T) {
	h := newHarness(t, 5)
	s := h.session(t, testexec.NewScriptedRunner())
	s.Cancel()

	rep, err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, proto.PhaseFailed, rep.FinalPhase)
	assert.Empty(t, h.backend.Calls())
}

func TestRunOnlyOnce(t *testing.T) {
	h := newHarness(t, 5)
	s := h.session(t, testexec.NewScriptedRunner(proto.Passing("ok")))

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	rep, err := s.Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, proto.PhaseDone, rep.FinalPhase)
}

func TestClosedSessionRefusesToRun(t *testing.T) {
	h := newHarness(t, 5)
	s := h.session(t, testexec.NewScriptedRunner())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Spec: &specs.Specification{Text: "x"}})
	assert.Error(t, err)

	_, err = New(Options{Config: config.Default(), Spec: &specs.Specification{}})
	assert.Error(t, err)

	cfg := config.Default()
	cfg.Models.Chain = nil
	_, err = New(Options{Config: cfg, Spec: &specs.Specification{Text: "x"}})
	assert.Error(t, err)
}

func TestMetricsSnapshotWritten(t *testing.T) {
	h := newHarness(t, 5)
	h.cfg.Metrics.Enabled = true
	h.cfg.Metrics.Snapshot = filepath.Join(t.TempDir(), "metrics.prom")

	rec := metrics.NewPrometheusRecorder()
	client, err := modelclient.New(h.backend, h.cfg.ModelClientConfig(), rec)
	require.NoError(t, err)
	s, err := New(Options{
		Config:   h.cfg,
		Spec:     &specs.Specification{Text: "String utilities."},
		Client:   client,
		Executor: testexec.NewScriptedRunner(proto.Passing("ok")),
		Recorder: rec,
	})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(h.cfg.Metrics.Snapshot)
	require.NoError(t, err)
	assert.Contains(t, string(data), "codeforge_llm_requests_total")
}

func TestReportSummary(t *testing.T) {
	h := newHarness(t, 5)
	s := h.session(t, testexec.NewScriptedRunner(proto.Passing("ok")))
	rep, err := s.Run(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, rep.WriteSummary(&buf))
	assert.Contains(t, buf.String(), "phase:      DONE")
	assert.Contains(t, buf.String(), "iterations: 0/5")

	data, err := rep.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"final_phase": "DONE"`)
}

func TestReportFromRecords(t *testing.T) {
	h := newHarness(t, 5)
	failing := proto.Failing("1 failed", proto.FailingCase{ID: "tests/test_reverse.py::test_reverse"})
	s := h.session(t, testexec.NewScriptedRunner(failing, proto.Passing("ok")))
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	store := openStore(t, h)
	sess, err := store.GetSession(s.ID)
	require.NoError(t, err)
	runs, err := store.ListIterations(s.ID)
	require.NoError(t, err)

	rep := ReportFromRecords(sess, runs)
	assert.Equal(t, proto.PhaseDone, rep.FinalPhase)
	assert.Equal(t, 1, rep.Iterations)
	require.Len(t, rep.History, 2)
	assert.NotEmpty(t, rep.History[0].Exchanges)
	require.NotNil(t, rep.LastResult)
	assert.True(t, rep.LastResult.Passed)
	assert.Empty(t, rep.Error)
}

func TestEventLog(t *testing.T) {
	h := newHarness(t, 5)
	h.cfg.Output.Events = filepath.Join(t.TempDir(), "events")
	failing := proto.Failing("1 failed", proto.FailingCase{ID: "tests/test_count.py::test_count"})
	s := h.session(t, testexec.NewScriptedRunner(failing, proto.Passing("ok")))

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	files, err := eventlog.ListFiles(h.cfg.Output.Events)
	require.NoError(t, err)
	require.Len(t, files, 1)
	events, err := eventlog.ReadEvents(files[0], s.ID)
	require.NoError(t, err)

	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		eventlog.TypeTransition, eventlog.TypeTransition, eventlog.TypeTransition, // generating, assembling, testing
		eventlog.TypeTestRun,
		eventlog.TypeTransition, eventlog.TypeTransition, // repairing, testing
		eventlog.TypeRepair,
		eventlog.TypeTestRun,
		eventlog.TypeTransition, // done
	}, types)
	assert.Equal(t, "count", events[6].Module)
	assert.Equal(t, []string{"strtools/count.py"}, events[6].Changed)
	assert.Equal(t, proto.PhaseDone, events[8].Phase)
}
