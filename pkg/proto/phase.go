// Package proto defines the values exchanged between session stages: phases,
// test results and failing cases.
package proto

import (
	"fmt"
	"strings"
)

// Phase is a session phase.
type Phase string

const (
	PhasePlanning   Phase = "PLANNING"
	PhaseGenerating Phase = "GENERATING"
	PhaseAssembling Phase = "ASSEMBLING"
	PhaseTesting    Phase = "TESTING"
	PhaseRepairing  Phase = "REPAIRING"
	PhaseDone       Phase = "DONE"
	PhaseFailed     Phase = "FAILED"
)

// Phases lists every phase in pipeline order.
func Phases() []Phase {
	return []Phase{PhasePlanning, PhaseGenerating, PhaseAssembling, PhaseTesting, PhaseRepairing, PhaseDone, PhaseFailed}
}

func (p Phase) String() string { return string(p) }

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// ParsePhase accepts a phase name in any case.
func ParsePhase(s string) (Phase, error) {
	up := Phase(strings.ToUpper(strings.TrimSpace(s)))
	for _, p := range Phases() {
		if p == up {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}
