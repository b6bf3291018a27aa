package testexec

import (
	"os"
	"path/filepath"
	"strings"

	"codeforge/pkg/proto"
)

func exists(root string, names ...string) bool {
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(root, name)); err == nil {
			return true
		}
	}
	return false
}

// PythonBackend runs pytest.
type PythonBackend struct{}

// NewPythonBackend creates a new Python backend.
func NewPythonBackend() *PythonBackend { return &PythonBackend{} }

// Name returns the backend name.
func (p *PythonBackend) Name() string { return "python" }

// Detect looks for Python project files or .py sources in root.
func (p *PythonBackend) Detect(root string) bool {
	if exists(root, "pyproject.toml", "requirements.txt", "setup.py", "Pipfile", "poetry.lock") {
		return true
	}
	matches, _ := filepath.Glob(filepath.Join(root, "*.py"))
	return len(matches) > 0
}

// TestCommand runs pytest quietly with the short summary of every outcome.
func (p *PythonBackend) TestCommand(string) []string {
	return []string{"python", "-m", "pytest", "-q", "-rA"}
}

// ParseFailures reads pytest's short test summary.
func (p *PythonBackend) ParseFailures(output string) []proto.FailingCase {
	return ParsePytest(output)
}

// GoBackend runs go test.
type GoBackend struct{}

// NewGoBackend creates a new Go backend.
func NewGoBackend() *GoBackend { return &GoBackend{} }

// Name returns the backend name.
func (g *GoBackend) Name() string { return "go" }

// Detect checks for go.mod.
func (g *GoBackend) Detect(root string) bool { return exists(root, "go.mod") }

// TestCommand runs every package's tests.
func (g *GoBackend) TestCommand(string) []string { return []string{"go", "test", "./..."} }

// ParseFailures reads "--- FAIL:" lines and failed package builds.
func (g *GoBackend) ParseFailures(output string) []proto.FailingCase {
	return ParseGoTest(output)
}

// NodeBackend runs npm test.
type NodeBackend struct{}

// NewNodeBackend creates a new Node.js backend.
func NewNodeBackend() *NodeBackend { return &NodeBackend{} }

// Name returns the backend name.
func (n *NodeBackend) Name() string { return "node" }

// Detect checks for package.json.
func (n *NodeBackend) Detect(root string) bool { return exists(root, "package.json") }

// TestCommand runs the package's test script.
func (n *NodeBackend) TestCommand(string) []string { return []string{"npm", "test", "--silent"} }

// ParseFailures reads node --test and TAP "not ok" lines.
func (n *NodeBackend) ParseFailures(output string) []proto.FailingCase {
	return ParseTAP(output)
}

// MakeBackend runs make test for projects that ship a Makefile.
type MakeBackend struct{}

// NewMakeBackend creates a new make backend.
func NewMakeBackend() *MakeBackend { return &MakeBackend{} }

// Name returns the backend name.
func (m *MakeBackend) Name() string { return "make" }

// Detect checks if a Makefile exists in the project root.
func (m *MakeBackend) Detect(root string) bool {
	return exists(root, "Makefile", "makefile", "GNUmakefile")
}

// TestCommand runs the test target.
func (m *MakeBackend) TestCommand(string) []string { return []string{"make", "test"} }

// ParseFailures tries every known format since make may wrap any runner.
func (m *MakeBackend) ParseFailures(output string) []proto.FailingCase {
	for _, parse := range []func(string) []proto.FailingCase{ParsePytest, ParseGoTest, ParseTAP} {
		if cases := parse(output); len(cases) > 0 {
			return cases
		}
	}
	return nil
}

// NullBackend matches anything and has no test command, so the runner
// reports a failing case instead of guessing.
type NullBackend struct{}

// NewNullBackend creates a new null backend.
func NewNullBackend() *NullBackend { return &NullBackend{} }

// Name returns the backend name.
func (n *NullBackend) Name() string { return "null" }

// Detect always matches.
func (n *NullBackend) Detect(string) bool { return true }

// TestCommand returns nil.
func (n *NullBackend) TestCommand(string) []string { return nil }

// ParseFailures returns nil.
func (n *NullBackend) ParseFailures(string) []proto.FailingCase { return nil }

// SplitCommand turns a configured command line into argv. Lines that need a
// shell (pipes, redirects, &&, variables) run under sh -c.
func SplitCommand(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.ContainsAny(line, "|&;<>$`\"'*") {
		return []string{"sh", "-c", line}
	}
	return strings.Fields(line)
}
