package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codeforge/pkg/proto"
)

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Session status values.
const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed" // ended in DONE or FAILED
	SessionStatusCancelled = "cancelled"
	SessionStatusErrored   = "errored" // ended by an unrecoverable error
)

// Session is one stored session row.
//
//nolint:govet // struct alignment optimization not critical for this type.
type Session struct {
	SessionID     string     `json:"session_id"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Status        string     `json:"status"`
	FinalPhase    string     `json:"final_phase,omitempty"`
	Iterations    int        `json:"iterations"`
	MaxIterations int        `json:"max_iterations"`
	ProjectName   string     `json:"project_name,omitempty"`
	OutputDir     string     `json:"output_dir,omitempty"`
	SpecText      string     `json:"spec_text,omitempty"`
	ConfigJSON    string     `json:"config_json,omitempty"`
	ReportJSON    string     `json:"report_json,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// IterationRecord is one stored test run.
type IterationRecord struct {
	Seq           int                 `json:"seq"`
	Iteration     int                 `json:"iteration"`
	Passed        bool                `json:"passed"`
	FailingCases  []proto.FailingCase `json:"failing_cases"`
	RawOutput     string              `json:"raw_output"`
	Duration      time.Duration       `json:"duration"`
	ExchangesJSON string              `json:"exchanges_json,omitempty"`
	RecordedAt    time.Time           `json:"recorded_at"`
}

// ArtifactRecord is one stored final artifact.
type ArtifactRecord struct {
	Path     string `json:"path"`
	Module   string `json:"module"`
	Kind     string `json:"kind"`
	Stage    string `json:"stage"`
	Revision int    `json:"revision"`
	Content  string `json:"content"`
}

// SessionEnd is the final state written when a session ends.
type SessionEnd struct {
	Status     string
	FinalPhase string
	Iterations int
	ReportJSON string
	Error      string
}

// StartSession inserts a new active session.
func (s *Store) StartSession(sess *Session) error {
	if sess.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	if sess.Status == "" {
		sess.Status = SessionStatusActive
	}

	_, err := s.db.Exec(`
		INSERT INTO sessions (session_id, started_at, status, max_iterations, project_name, output_dir, spec_text, config_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.SessionID, sess.StartedAt, sess.Status, sess.MaxIterations, sess.ProjectName, sess.OutputDir, sess.SpecText, sess.ConfigJSON)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", sess.SessionID, err)
	}
	return nil
}

// UpdateProjectName records the project name once planning has produced it.
func (s *Store) UpdateProjectName(sessionID, name string) error {
	return s.exec1(sessionID, `UPDATE sessions SET project_name = ? WHERE session_id = ?`, name, sessionID)
}

// EndSession marks a session finished.
func (s *Store) EndSession(sessionID string, end SessionEnd) error {
	return s.exec1(sessionID, `
		UPDATE sessions
		SET ended_at = ?, status = ?, final_phase = ?, iterations = ?, report_json = ?, error = ?
		WHERE session_id = ?
	`, time.Now().UTC(), end.Status, end.FinalPhase, end.Iterations, end.ReportJSON, end.Error, sessionID)
}

func (s *Store) exec1(sessionID, query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", sessionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// GetSession returns one session.
func (s *Store) GetSession(sessionID string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT session_id, started_at, ended_at, status, final_phase, iterations, max_iterations,
		       project_name, output_dir, spec_text, config_json, report_json, error
		FROM sessions WHERE session_id = ?
	`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, err
}

// ListSessions returns the most recent sessions first. limit <= 0 returns all.
func (s *Store) ListSessions(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT session_id, started_at, ended_at, status, final_phase, iterations, max_iterations,
		       project_name, output_dir, spec_text, config_json, report_json, error
		FROM sessions ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return out, nil
}

// LatestSessionID returns the id of the most recently started session.
func (s *Store) LatestSessionID() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query latest session: %w", err)
	}
	return id, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*Session, error) {
	var (
		sess                                                       Session
		endedAt                                                    sql.NullTime
		finalPhase, project, outDir, spec, cfg, report, errMessage sql.NullString
	)
	err := sc.Scan(&sess.SessionID, &sess.StartedAt, &endedAt, &sess.Status, &finalPhase,
		&sess.Iterations, &sess.MaxIterations, &project, &outDir, &spec, &cfg, &report, &errMessage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	sess.FinalPhase = finalPhase.String
	sess.ProjectName = project.String
	sess.OutputDir = outDir.String
	sess.SpecText = spec.String
	sess.ConfigJSON = cfg.String
	sess.ReportJSON = report.String
	sess.Error = errMessage.String
	return &sess, nil
}

// SaveIteration stores one test run of a session.
func (s *Store) SaveIteration(sessionID string, rec *IterationRecord) error {
	failing, err := json.Marshal(rec.FailingCases)
	if err != nil {
		return fmt.Errorf("failed to marshal failing cases: %w", err)
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO iterations
			(session_id, seq, iteration, passed, failing_json, raw_output, duration_ms, exchanges_json, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, rec.Seq, rec.Iteration, rec.Passed, string(failing), rec.RawOutput,
		rec.Duration.Milliseconds(), rec.ExchangesJSON, rec.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to save iteration %d of session %s: %w", rec.Seq, sessionID, err)
	}
	return nil
}

// ListIterations returns the test runs of a session in order.
func (s *Store) ListIterations(sessionID string) ([]IterationRecord, error) {
	rows, err := s.db.Query(`
		SELECT seq, iteration, passed, failing_json, raw_output, duration_ms, exchanges_json, recorded_at
		FROM iterations WHERE session_id = ? ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []IterationRecord
	for rows.Next() {
		var (
			rec        IterationRecord
			failing    string
			raw, exch  sql.NullString
			durationMs int64
		)
		if err := rows.Scan(&rec.Seq, &rec.Iteration, &rec.Passed, &failing, &raw, &durationMs, &exch, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		if err := json.Unmarshal([]byte(failing), &rec.FailingCases); err != nil {
			return nil, fmt.Errorf("failed to decode failing cases of iteration %d: %w", rec.Seq, err)
		}
		rec.RawOutput = raw.String
		rec.ExchangesJSON = exch.String
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveArtifacts replaces the stored artifacts of a session in one transaction.
func (s *Store) SaveArtifacts(sessionID string, artifacts []ArtifactRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM artifacts WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear artifacts: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO artifacts (session_id, path, module, kind, stage, revision, content)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare artifact insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, a := range artifacts {
		if _, err := stmt.Exec(sessionID, a.Path, a.Module, a.Kind, a.Stage, a.Revision, a.Content); err != nil {
			return fmt.Errorf("failed to save artifact %s: %w", a.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit artifacts: %w", err)
	}
	return nil
}

// ListArtifacts returns the stored artifacts of a session ordered by path.
func (s *Store) ListArtifacts(sessionID string) ([]ArtifactRecord, error) {
	rows, err := s.db.Query(`
		SELECT path, module, kind, stage, revision, content
		FROM artifacts WHERE session_id = ? ORDER BY path
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ArtifactRecord
	for rows.Next() {
		var a ArtifactRecord
		if err := rows.Scan(&a.Path, &a.Module, &a.Kind, &a.Stage, &a.Revision, &a.Content); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
