// Package templates renders the prompts sent for planning, generation and repair.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed *.tpl.md
var templateFS embed.FS

// PromptTemplate names an embedded prompt template.
type PromptTemplate string

const (
	// PlanningTemplate asks for a module plan as JSON.
	PlanningTemplate PromptTemplate = "planning.tpl.md"
	// GenerationTemplate asks for one module's source and tests as JSON.
	GenerationTemplate PromptTemplate = "generation.tpl.md"
	// RepairTemplate asks for replacement files for one failing module.
	RepairTemplate PromptTemplate = "repair.tpl.md"
)

// ModuleView is the prompt-facing view of a planned module.
type ModuleView struct {
	Name           string
	Responsibility string
	Path           string
	Interfaces     string
	Dependencies   []string
}

// FileView is one file shown to the model.
type FileView struct {
	Path    string
	Kind    string
	Content string
}

// FailureView is one failing test case shown to the model.
type FailureView struct {
	ID      string
	Message string
	Output  string
}

// PromptData holds everything a template may reference.
type PromptData struct {
	Specification  string
	TargetLanguage string
	TestCommand    string
	ProjectName    string

	Module       *ModuleView
	Dependencies []ModuleView
	Files        []FileView
	Failures     []FailureView

	Iteration     int
	MaxIterations int
}

// Renderer holds the parsed prompt templates.
type Renderer struct {
	templates map[PromptTemplate]*template.Template
}

// NewRenderer parses every embedded template.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[PromptTemplate]*template.Template)}

	for _, name := range []PromptTemplate{PlanningTemplate, GenerationTemplate, RepairTemplate} {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}

		tmpl, err := template.New(string(name)).Funcs(template.FuncMap{
			"join":  strings.Join,
			"fence": fence,
			"inc":   func(i int) int { return i + 1 },
		}).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}

	return r, nil
}

// Render executes the named template with data.
func (r *Renderer) Render(name PromptTemplate, data *PromptData) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("template %s not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}

// fence wraps content in a code fence long enough not to collide with any
// fence already inside it.
func fence(content string) string {
	ticks := "```"
	for strings.Contains(content, ticks) {
		ticks += "`"
	}
	return ticks + "\n" + strings.TrimRight(content, "\n") + "\n" + ticks
}
