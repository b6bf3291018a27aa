package testexec

import (
	"context"
	"sync"

	"codeforge/pkg/project"
	"codeforge/pkg/proto"
)

// ScriptedRunner is a TestExecutor that returns canned results in order and
// repeats the last one. Script, when set, takes precedence and sees the
// zero-based run number and the project.
type ScriptedRunner struct {
	Results []proto.TestResult
	Script  func(run int, proj *project.Project) proto.TestResult

	mu        sync.Mutex
	runs      int
	revisions []map[string]int
}

// NewScriptedRunner returns a runner that replays results.
func NewScriptedRunner(results ...proto.TestResult) *ScriptedRunner {
	return &ScriptedRunner{Results: results}
}

// Run returns the next scripted result.
func (s *ScriptedRunner) Run(_ context.Context, proj *project.Project) proto.TestResult {
	s.mu.Lock()
	run := s.runs
	s.runs++
	if proj != nil {
		s.revisions = append(s.revisions, proj.Revisions())
	}
	s.mu.Unlock()

	if s.Script != nil {
		return s.Script(run, proj)
	}
	if len(s.Results) == 0 {
		return proto.Passing("")
	}
	if run >= len(s.Results) {
		run = len(s.Results) - 1
	}
	return s.Results[run]
}

// Runs returns how many times Run was called.
func (s *ScriptedRunner) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Revisions returns the artifact revisions observed at each run.
func (s *ScriptedRunner) Revisions() []map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]int(nil), s.revisions...)
}
