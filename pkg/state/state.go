// Package state holds the mutable state of one session: its phase, repair
// iteration counter and bounded history of test runs and repair exchanges.
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"codeforge/pkg/logx"
	"codeforge/pkg/proto"
)

// DefaultHistoryRetention caps history when no limit is configured.
const DefaultHistoryRetention = 50

var (
	// ErrInvalidTransition is returned when the transition table forbids a move.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrIterationBudget is returned when the iteration counter would exceed its maximum.
	ErrIterationBudget = errors.New("repair iteration budget exhausted")
)

// TransitionTable lists the allowed targets of each phase.
type TransitionTable map[proto.Phase][]proto.Phase

// ValidTransitions is the session lifecycle. Phases only move forward, except
// REPAIRING→TESTING. Any live phase may fail.
//
//nolint:gochecknoglobals
var ValidTransitions = TransitionTable{
	proto.PhasePlanning:   {proto.PhaseGenerating, proto.PhaseFailed},
	proto.PhaseGenerating: {proto.PhaseAssembling, proto.PhaseFailed},
	proto.PhaseAssembling: {proto.PhaseTesting, proto.PhaseFailed},
	proto.PhaseTesting:    {proto.PhaseRepairing, proto.PhaseDone, proto.PhaseFailed},
	proto.PhaseRepairing:  {proto.PhaseTesting, proto.PhaseFailed},
}

// Transition records one phase change.
type Transition struct {
	From   proto.Phase `json:"from"`
	To     proto.Phase `json:"to"`
	At     time.Time   `json:"at"`
	Reason string      `json:"reason,omitempty"`
}

// Exchange is one repair call: the prompt sent, the response received and the
// paths it changed.
type Exchange struct {
	Module   string   `json:"module"`
	Prompt   string   `json:"prompt"`
	Response string   `json:"response"`
	Model    string   `json:"model,omitempty"`
	Changed  []string `json:"changed,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// HistoryEntry is one test run plus the repair exchanges that followed it.
type HistoryEntry struct {
	Iteration int              `json:"iteration"`
	Result    proto.TestResult `json:"result"`
	Exchanges []Exchange       `json:"exchanges,omitempty"`
	At        time.Time        `json:"at"`
}

// Snapshot is a consistent copy of a SessionState.
type Snapshot struct {
	Phase         proto.Phase    `json:"phase"`
	Iteration     int            `json:"iteration"`
	MaxIterations int            `json:"max_iterations"`
	History       []HistoryEntry `json:"history"`
	Dropped       int            `json:"dropped"`
	Transitions   []Transition   `json:"transitions"`
}

// SessionState is owned by exactly one session. All methods are safe for
// concurrent use.
type SessionState struct {
	mu            sync.Mutex
	phase         proto.Phase
	iteration     int
	maxIterations int
	retention     int
	history       []HistoryEntry
	dropped       int
	transitions   []Transition
	table         TransitionTable
	observers     []func(Transition)
	logger        *logx.Logger
}

// New returns a state in PLANNING. retention <= 0 selects DefaultHistoryRetention.
func New(maxIterations, retention int) *SessionState {
	if maxIterations < 0 {
		maxIterations = 0
	}
	if retention <= 0 {
		retention = DefaultHistoryRetention
	}
	return &SessionState{
		phase:         proto.PhasePlanning,
		maxIterations: maxIterations,
		retention:     retention,
		table:         ValidTransitions,
		logger:        logx.NewLogger("state"),
	}
}

// Phase returns the current phase.
func (s *SessionState) Phase() proto.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Iteration returns the number of completed repair rounds.
func (s *SessionState) Iteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iteration
}

// MaxIterations returns the repair budget.
func (s *SessionState) MaxIterations() int {
	return s.maxIterations
}

// BudgetLeft reports whether another repair round is allowed.
func (s *SessionState) BudgetLeft() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iteration < s.maxIterations
}

// IsValidTransition reports whether the table allows from → to.
func (s *SessionState) IsValidTransition(from, to proto.Phase) bool {
	for _, allowed := range s.table[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionTo moves to phase to, recording reason.
func (s *SessionState) TransitionTo(to proto.Phase, reason string) error {
	s.mu.Lock()
	from := s.phase
	if !s.IsValidTransition(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, to)
	}
	tr := Transition{From: from, To: to, At: time.Now().UTC(), Reason: reason}
	s.transitions = append(s.transitions, tr)
	s.phase = to
	observers := append([]func(Transition){}, s.observers...)
	s.mu.Unlock()

	if reason != "" {
		s.logger.Info("%s → %s (%s)", from, to, reason)
	} else {
		s.logger.Info("%s → %s", from, to)
	}
	for _, fn := range observers {
		fn(tr)
	}
	return nil
}

// OnTransition registers fn to be called after every successful transition,
// outside the state's lock.
func (s *SessionState) OnTransition(fn func(Transition)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// IncrementIteration counts one finished repair round.
func (s *SessionState) IncrementIteration() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.iteration >= s.maxIterations {
		return s.iteration, fmt.Errorf("%w: %d of %d used", ErrIterationBudget, s.iteration, s.maxIterations)
	}
	s.iteration++
	return s.iteration, nil
}

// Record appends a test result to the history, dropping the oldest entries
// beyond the retention limit.
func (s *SessionState) Record(result proto.TestResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, HistoryEntry{
		Iteration: s.iteration,
		Result:    result,
		At:        time.Now().UTC(),
	})
	if over := len(s.history) - s.retention; over > 0 {
		s.history = append([]HistoryEntry(nil), s.history[over:]...)
		s.dropped += over
	}
}

// Attach adds repair exchanges to the latest history entry.
func (s *SessionState) Attach(exchanges ...Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return
	}
	last := &s.history[len(s.history)-1]
	last.Exchanges = append(last.Exchanges, exchanges...)
}

// LastResult returns the most recent test result.
func (s *SessionState) LastResult() (proto.TestResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return proto.TestResult{}, false
	}
	return s.history[len(s.history)-1].Result, true
}

// Snapshot returns a deep enough copy for reporting.
func (s *SessionState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]HistoryEntry, len(s.history))
	for i, h := range s.history {
		h.Exchanges = append([]Exchange(nil), h.Exchanges...)
		history[i] = h
	}
	return Snapshot{
		Phase:         s.phase,
		Iteration:     s.iteration,
		MaxIterations: s.maxIterations,
		History:       history,
		Dropped:       s.dropped,
		Transitions:   append([]Transition(nil), s.transitions...),
	}
}
