package session

import (
	"codeforge/pkg/eventlog"
	"codeforge/pkg/proto"
	"codeforge/pkg/state"
)

func (s *Session) emit(ev eventlog.Event) {
	if s.events == nil {
		return
	}
	ev.Session = s.ID
	if err := s.events.Write(ev); err != nil {
		s.logger.Warn("failed to write event: %v", err)
	}
}

func (s *Session) transitionEvent(tr state.Transition) {
	s.emit(eventlog.Event{
		Type:      eventlog.TypeTransition,
		At:        tr.At,
		From:      tr.From,
		Phase:     tr.To,
		Iteration: s.state.Iteration(),
		Reason:    tr.Reason,
	})
}

func (s *Session) testRunEvent(result proto.TestResult) {
	passed := result.Passed
	s.emit(eventlog.Event{
		Type:      eventlog.TypeTestRun,
		Phase:     s.state.Phase(),
		Iteration: s.state.Iteration(),
		Passed:    &passed,
		Failing:   result.FailingIDs(),
		Reason:    result.Summary(),
	})
}

// repairEvents reports the exchanges of the round that just finished. They
// are attached to the latest history entry.
func (s *Session) repairEvents() {
	if s.events == nil {
		return
	}
	snap := s.state.Snapshot()
	if len(snap.History) == 0 {
		return
	}
	for _, ex := range snap.History[len(snap.History)-1].Exchanges {
		s.emit(eventlog.Event{
			Type:      eventlog.TypeRepair,
			Phase:     snap.Phase,
			Iteration: snap.Iteration,
			Module:    ex.Module,
			Changed:   ex.Changed,
			Reason:    ex.Model,
		})
	}
}
