// Package eventlog appends session events to daily JSONL files so a run can
// be followed with tail -f or replayed later.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"codeforge/pkg/proto"
)

// Event types.
const (
	TypeTransition = "transition"
	TypeTestRun    = "test_run"
	TypeRepair     = "repair"
)

// Event is one line of an event log.
type Event struct {
	Session   string          `json:"session"`
	Type      string          `json:"type"`
	At        time.Time       `json:"at"`
	Phase     proto.Phase     `json:"phase,omitempty"`
	From      proto.Phase     `json:"from,omitempty"`
	Iteration int             `json:"iteration"`
	Reason    string          `json:"reason,omitempty"`
	Passed    *bool           `json:"passed,omitempty"`
	Failing   []string        `json:"failing,omitempty"`
	Module    string          `json:"module,omitempty"`
	Changed   []string        `json:"changed,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Writer appends events to events-YYYY-MM-DD.jsonl under a directory,
// starting a new file when the UTC date changes. Safe for concurrent use.
type Writer struct {
	dir string
	now func() time.Time

	mu          sync.Mutex
	currentFile *os.File
	currentDate string
}

// NewWriter creates dir if needed and opens today's file.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	w := &Writer{dir: dir, now: func() time.Time { return time.Now().UTC() }}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize event log: %w", err)
	}
	return w, nil
}

// Write appends one event. A zero At is stamped with the current time.
func (w *Writer) Write(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return fmt.Errorf("event log is closed")
	}
	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate event log: %w", err)
	}
	if ev.At.IsZero() {
		ev.At = w.now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.currentFile.Write(data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

func (w *Writer) rotateIfNeeded() error {
	date := w.now().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == date {
		return nil
	}
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close event log: %w", err)
		}
	}

	path := filepath.Join(w.dir, fileName(date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log %s: %w", path, err)
	}
	w.currentFile = file
	w.currentDate = date
	return nil
}

// CurrentFile returns the path being appended to, or "" after Close.
func (w *Writer) CurrentFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return ""
	}
	return filepath.Join(w.dir, fileName(w.currentDate))
}

// Close flushes and closes the current file. It is safe to call twice.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	if err != nil {
		return fmt.Errorf("failed to close event log: %w", err)
	}
	return nil
}

func fileName(date string) string {
	return fmt.Sprintf("events-%s.jsonl", date)
}

// ReadEvents parses an event log file. When session is non-empty only that
// session's events are returned.
func ReadEvents(path, session string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("%s:%d: failed to parse event: %w", path, line, err)
		}
		if session == "" || ev.Session == session {
			events = append(events, ev)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	return events, nil
}

// ListFiles returns the event log files in dir, oldest first.
func ListFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "events-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list event logs: %w", err)
	}
	sort.Strings(files)
	return files, nil
}
