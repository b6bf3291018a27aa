// Package project holds generated artifacts and materializes them on disk.
package project

import (
	"fmt"
	"path"
	"strings"
)

// Kind tells source files from test files.
type Kind string

const (
	KindSource Kind = "source"
	KindTest   Kind = "test"
)

// Stage tags the stage that last produced an artifact's content.
type Stage string

const (
	StagePlanning   Stage = "planning"
	StageGeneration Stage = "generation"
	StageRepair     Stage = "repair"
)

// Artifact is one generated file. Revision starts at 0 and increases by one
// every time repair replaces the content.
type Artifact struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Revision int    `json:"revision"`
	Stage    Stage  `json:"stage"`
	Module   string `json:"module"`
	Kind     Kind   `json:"kind"`
}

// NormalizePath cleans a model-supplied relative path to slash form and
// rejects absolute paths and paths that escape the project root.
func NormalizePath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") || (len(p) > 1 && p[1] == ':') {
		return "", fmt.Errorf("absolute path %q", p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %q escapes the project root", p)
	}
	return clean, nil
}

// GuessKind classifies a path by common test naming conventions.
func GuessKind(p string) Kind {
	base := path.Base(p)
	switch {
	case strings.HasPrefix(p, "tests/"), strings.HasPrefix(p, "test/"), strings.Contains(p, "/tests/"),
		strings.Contains(p, "__tests__/"),
		strings.HasPrefix(base, "test_"),
		strings.HasSuffix(base, "_test.py"), strings.HasSuffix(base, "_test.go"),
		strings.HasSuffix(base, ".test.js"), strings.HasSuffix(base, ".test.ts"),
		strings.HasSuffix(base, ".spec.js"), strings.HasSuffix(base, ".spec.ts"):
		return KindTest
	default:
		return KindSource
	}
}
