// Package specs loads the natural-language specification a session builds from.
package specs

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Specification is the immutable input to a session. Text is the body that
// prompts embed; the optional constraints come from YAML front matter.
type Specification struct {
	Text           string `yaml:"-"`
	TargetLanguage string `yaml:"target_language"`
	TestCommand    string `yaml:"test_command"`
	ProjectName    string `yaml:"project_name"`
	Source         string `yaml:"-"` // File the spec was read from, if any
}

// Options overrides front matter values when non-empty.
type Options struct {
	TargetLanguage string
	TestCommand    string
	ProjectName    string
}

var frontmatterDelimiter = regexp.MustCompile(`^---\s*$`)

// Parse reads an optional YAML front matter block followed by the spec body.
//
//	---
//	target_language: python
//	test_command: python -m pytest -q
//	---
//	Build a calculator...
func Parse(markdown string) (*Specification, error) {
	spec := &Specification{}

	frontmatter, body, ok := splitFrontmatter(markdown)
	if ok {
		if err := yaml.Unmarshal([]byte(frontmatter), spec); err != nil {
			return nil, fmt.Errorf("failed to parse YAML frontmatter: %w", err)
		}
	} else {
		body = markdown
	}

	spec.Text = strings.TrimSpace(body)
	spec.TargetLanguage = NormalizeLanguage(spec.TargetLanguage)
	if spec.Text == "" {
		return nil, fmt.Errorf("specification is empty")
	}
	return spec, nil
}

// Apply returns a copy of s with non-empty option values taking precedence.
func (s Specification) Apply(opts Options) *Specification {
	if opts.TargetLanguage != "" {
		s.TargetLanguage = NormalizeLanguage(opts.TargetLanguage)
	}
	if opts.TestCommand != "" {
		s.TestCommand = opts.TestCommand
	}
	if opts.ProjectName != "" {
		s.ProjectName = opts.ProjectName
	}
	return &s
}

// Language returns the target language, defaulting to python.
func (s *Specification) Language() string {
	if s.TargetLanguage == "" {
		return "python"
	}
	return s.TargetLanguage
}

// NormalizeLanguage maps common aliases to canonical names.
func NormalizeLanguage(lang string) string {
	switch l := strings.ToLower(strings.TrimSpace(lang)); l {
	case "py", "python3":
		return "python"
	case "golang":
		return "go"
	case "js", "javascript", "ts", "typescript", "nodejs":
		return "node"
	default:
		return l
	}
}

//nolint:gocritic // separate return values read more clearly here
func splitFrontmatter(markdown string) (frontmatter, body string, ok bool) {
	lines := strings.Split(markdown, "\n")
	if len(lines) < 2 || !frontmatterDelimiter.MatchString(strings.TrimSpace(lines[0])) {
		return "", "", false
	}

	for i := 1; i < len(lines); i++ {
		if frontmatterDelimiter.MatchString(strings.TrimSpace(lines[i])) {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n"), true
		}
	}
	return "", "", false
}
