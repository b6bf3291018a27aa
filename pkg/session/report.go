package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"codeforge/pkg/config"
	"codeforge/pkg/llm"
	"codeforge/pkg/metrics"
	"codeforge/pkg/persistence"
	"codeforge/pkg/project"
	"codeforge/pkg/proto"
	"codeforge/pkg/state"
)

// ArtifactSummary describes one final file without its content.
type ArtifactSummary struct {
	Path     string        `json:"path"`
	Module   string        `json:"module"`
	Kind     project.Kind  `json:"kind"`
	Stage    project.Stage `json:"stage"`
	Revision int           `json:"revision"`
	Bytes    int           `json:"bytes"`
}

// Report is the outcome of one session.
type Report struct {
	SessionID     string                 `json:"session_id"`
	ProjectName   string                 `json:"project_name,omitempty"`
	OutputDir     string                 `json:"output_dir"`
	FinalPhase    proto.Phase            `json:"final_phase"`
	Iterations    int                    `json:"iterations"`
	MaxIterations int                    `json:"max_iterations"`
	LastResult    *proto.TestResult      `json:"last_result,omitempty"`
	History       []state.HistoryEntry   `json:"history"`
	Dropped       int                    `json:"dropped,omitempty"`
	Transitions   []state.Transition     `json:"transitions"`
	Artifacts     []ArtifactSummary      `json:"artifacts,omitempty"`
	Usage         map[llm.Role]llm.Usage `json:"usage,omitempty"`
	ModelCalls    int                    `json:"model_calls"`
	Error         string                 `json:"error,omitempty"`
	StartedAt     time.Time              `json:"started_at"`
	Duration      time.Duration          `json:"duration"`
}

// Succeeded reports whether the session ended in DONE.
func (r *Report) Succeeded() bool { return r.FinalPhase == proto.PhaseDone }

// JSON renders the report as indented JSON.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// WriteSummary prints a short human-readable summary.
func (r *Report) WriteSummary(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "session:    %s\n", r.SessionID)
	if r.ProjectName != "" {
		fmt.Fprintf(&b, "project:    %s (%s)\n", r.ProjectName, r.OutputDir)
	}
	fmt.Fprintf(&b, "phase:      %s\n", r.FinalPhase)
	fmt.Fprintf(&b, "iterations: %d/%d\n", r.Iterations, r.MaxIterations)
	fmt.Fprintf(&b, "duration:   %s\n", r.Duration.Round(time.Millisecond))
	if r.LastResult != nil {
		fmt.Fprintf(&b, "tests:      %s\n", r.LastResult.Summary())
	}
	roles := make([]string, 0, len(r.Usage))
	for role := range r.Usage {
		roles = append(roles, string(role))
	}
	sort.Strings(roles)
	for _, role := range roles {
		u := r.Usage[llm.Role(role)]
		fmt.Fprintf(&b, "tokens:     %-10s %d prompt / %d completion\n", role, u.PromptTokens, u.CompletionTokens)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "error:      %s\n", r.Error)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (s *Session) report(runErr error) *Report {
	snap := s.state.Snapshot()
	rep := &Report{
		SessionID:     s.ID,
		ProjectName:   s.spec.ProjectName,
		OutputDir:     s.cfg.Output.Dir,
		FinalPhase:    snap.Phase,
		Iterations:    snap.Iteration,
		MaxIterations: snap.MaxIterations,
		History:       snap.History,
		Dropped:       snap.Dropped,
		Transitions:   snap.Transitions,
		StartedAt:     s.startedAt,
	}
	if !s.startedAt.IsZero() {
		rep.Duration = time.Since(s.startedAt)
	}
	if n := len(snap.History); n > 0 {
		last := snap.History[n-1].Result
		rep.LastResult = &last
	}
	if runErr != nil {
		rep.Error = runErr.Error()
	}

	s.mu.Lock()
	p, proj := s.plan, s.project
	s.mu.Unlock()
	if p != nil && p.ProjectName != "" && rep.ProjectName == "" {
		rep.ProjectName = p.ProjectName
	}
	if proj != nil {
		rep.ProjectName = proj.Name
		for _, a := range proj.Artifacts() {
			rep.Artifacts = append(rep.Artifacts, ArtifactSummary{
				Path:     a.Path,
				Module:   a.Module,
				Kind:     a.Kind,
				Stage:    a.Stage,
				Revision: a.Revision,
				Bytes:    len(a.Content),
			})
		}
	}

	stats := s.client.Stats()
	rep.Usage = stats.Usage
	rep.ModelCalls = stats.Calls
	return rep
}

// finish persists the outcome and writes the metrics snapshot. Failures are
// logged; they never change the session's result.
func (s *Session) finish(rep *Report, runErr error) {
	switch {
	case runErr == nil:
		s.logger.Info("session ended in %s after %d repair iterations", rep.FinalPhase, rep.Iterations)
	case errors.Is(runErr, ErrCancelled):
		s.logger.Warn("session cancelled in %s", rep.FinalPhase)
	default:
		s.logger.Error("session failed: %v", runErr)
	}

	if prom, ok := s.recorder.(*metrics.PrometheusRecorder); ok && s.cfg.Metrics.Snapshot != "" {
		if err := prom.WriteSnapshot(s.cfg.Metrics.Snapshot); err != nil {
			s.logger.Warn("failed to write metrics snapshot: %v", err)
		}
	}

	if s.store == nil {
		return
	}
	s.flushHistory()

	if proj := s.Project(); proj != nil {
		arts := proj.Artifacts()
		records := make([]persistence.ArtifactRecord, len(arts))
		for i, a := range arts {
			records[i] = persistence.ArtifactRecord{
				Path:     a.Path,
				Module:   a.Module,
				Kind:     string(a.Kind),
				Stage:    string(a.Stage),
				Revision: a.Revision,
				Content:  a.Content,
			}
		}
		if err := s.store.SaveArtifacts(s.ID, records); err != nil {
			s.logger.Warn("failed to persist artifacts: %v", err)
		}
	}

	end := persistence.SessionEnd{
		Status:     persistence.SessionStatusCompleted,
		FinalPhase: string(rep.FinalPhase),
		Iterations: rep.Iterations,
		Error:      rep.Error,
	}
	switch {
	case errors.Is(runErr, ErrCancelled):
		end.Status = persistence.SessionStatusCancelled
	case runErr != nil:
		end.Status = persistence.SessionStatusErrored
	}
	if data, err := json.Marshal(rep); err == nil {
		end.ReportJSON = string(data)
	}
	if err := s.store.EndSession(s.ID, end); err != nil {
		s.logger.Warn("failed to persist session end: %v", err)
	}
}

// flushHistory writes history entries recorded since the last flush. The
// latest previously written entry is written again because exchanges are
// attached to it after the test run that created it.
func (s *Session) flushHistory() {
	if s.store == nil {
		return
	}
	snap := s.state.Snapshot()
	total := snap.Dropped + len(snap.History)

	s.mu.Lock()
	from := s.persisted - 1
	s.persisted = total
	s.mu.Unlock()

	if from < snap.Dropped {
		from = snap.Dropped
	}
	for seq := from; seq < total; seq++ {
		h := snap.History[seq-snap.Dropped]
		rec := &persistence.IterationRecord{
			Seq:          seq,
			Iteration:    h.Iteration,
			Passed:       h.Result.Passed,
			FailingCases: h.Result.FailingCases,
			RawOutput:    h.Result.RawOutput,
			Duration:     h.Result.Duration,
			RecordedAt:   h.At,
		}
		if len(h.Exchanges) > 0 {
			if data, err := json.Marshal(h.Exchanges); err == nil {
				rec.ExchangesJSON = string(data)
			}
		}
		if err := s.store.SaveIteration(s.ID, rec); err != nil {
			s.logger.Warn("failed to persist test run %d: %v", seq, err)
		}
	}
}

// configJSON records the effective configuration without credentials.
func configJSON(cfg *config.Config) string {
	redacted := *cfg
	redacted.Credentials = nil
	data, err := json.Marshal(redacted)
	if err != nil {
		return ""
	}
	return string(data)
}

// ReportFromRecords rebuilds a partial report from stored rows, for sessions
// that never wrote a final report.
func ReportFromRecords(sess *persistence.Session, runs []persistence.IterationRecord) *Report {
	rep := &Report{
		SessionID:     sess.SessionID,
		ProjectName:   sess.ProjectName,
		OutputDir:     sess.OutputDir,
		Iterations:    sess.Iterations,
		MaxIterations: sess.MaxIterations,
		StartedAt:     sess.StartedAt,
		Error:         sess.Error,
	}
	if phase, err := proto.ParsePhase(sess.FinalPhase); err == nil {
		rep.FinalPhase = phase
	}
	if sess.EndedAt != nil {
		rep.Duration = sess.EndedAt.Sub(sess.StartedAt)
	} else if rep.Error == "" {
		rep.Error = "session did not finish (status " + sess.Status + ")"
	}

	for _, r := range runs {
		entry := state.HistoryEntry{
			Iteration: r.Iteration,
			Result: proto.TestResult{
				Passed:       r.Passed,
				FailingCases: r.FailingCases,
				RawOutput:    r.RawOutput,
				Duration:     r.Duration,
			},
			At: r.RecordedAt,
		}
		if r.ExchangesJSON != "" {
			_ = json.Unmarshal([]byte(r.ExchangesJSON), &entry.Exchanges)
		}
		if r.Iteration > rep.Iterations {
			rep.Iterations = r.Iteration
		}
		rep.History = append(rep.History, entry)
	}
	if n := len(rep.History); n > 0 {
		last := rep.History[n-1].Result
		rep.LastResult = &last
	}
	return rep
}
