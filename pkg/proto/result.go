package proto

import (
	"fmt"
	"time"
)

// Synthetic case ids produced by the test executor itself.
const (
	CaseTimeout       = "timeout"
	CaseCancelled     = "cancelled"
	CaseExecutorError = "executor-error"
	CaseExitStatus    = "exit-status"
	CaseNoTests       = "no-tests"
)

// FailingCase is one failing test.
type FailingCase struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Output  string `json:"output,omitempty"`
}

// TestResult is the outcome of one test run. It is never mutated; a newer
// run supersedes it.
type TestResult struct {
	Passed       bool          `json:"passed"`
	FailingCases []FailingCase `json:"failing_cases"`
	RawOutput    string        `json:"raw_output"`
	Duration     time.Duration `json:"duration"`
	ExitCode     int           `json:"exit_code"`
	Command      []string      `json:"command,omitempty"`
}

// Passing returns a passing result.
func Passing(raw string) TestResult {
	return TestResult{Passed: true, RawOutput: raw}
}

// Failing returns a failing result with the given cases.
func Failing(raw string, cases ...FailingCase) TestResult {
	return TestResult{Passed: false, FailingCases: cases, RawOutput: raw, ExitCode: 1}
}

// TimeoutResult is the result of a run that exceeded timeout.
func TimeoutResult(timeout time.Duration, raw string) TestResult {
	return TestResult{
		Passed: false,
		FailingCases: []FailingCase{{
			ID:      CaseTimeout,
			Message: fmt.Sprintf("test run exceeded the %s timeout", timeout),
			Output:  raw,
		}},
		RawOutput: raw,
		ExitCode:  -1,
	}
}

// FailingIDs returns the ids of the failing cases in order.
func (r TestResult) FailingIDs() []string {
	ids := make([]string, len(r.FailingCases))
	for i, c := range r.FailingCases {
		ids[i] = c.ID
	}
	return ids
}

// Summary is a one-line description for logs.
func (r TestResult) Summary() string {
	if r.Passed {
		return fmt.Sprintf("passed in %s", r.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("%d failing in %s", len(r.FailingCases), r.Duration.Round(time.Millisecond))
}
