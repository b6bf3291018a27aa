package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPlanning(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(PlanningTemplate, &PromptData{Specification: "A calculator CLI", TestCommand: "pytest"})
	require.NoError(t, err)
	assert.Contains(t, out, "A calculator CLI")
	assert.Contains(t, out, "Python project")
	assert.Contains(t, out, "`pytest`")
}

func TestRenderGenerationEmbedsDependencyInterfacesOnly(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(GenerationTemplate, &PromptData{
		Specification:  "spec",
		TargetLanguage: "go",
		Module:         &ModuleView{Name: "cli", Interfaces: "func Main() int"},
		Dependencies:   []ModuleView{{Name: "parser", Path: "parser.go", Interfaces: "func Parse(s string) (Expr, error)"}},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "## Module: cli")
	assert.Contains(t, out, "### parser (`parser.go`)")
	assert.Contains(t, out, "func Parse(s string) (Expr, error)")
}

func TestRenderRepair(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	out, err := r.Render(RepairTemplate, &PromptData{
		Module:        &ModuleView{Name: "parser", Interfaces: "parse(s)"},
		Files:         []FileView{{Path: "src/parser.py", Kind: "source", Content: "def parse(s): pass"}},
		Failures:      []FailureView{{ID: "tests/test_parser.py::test_num", Message: "AssertionError", Output: "assert None == 1"}},
		Iteration:     1,
		MaxIterations: 5,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "repair round 2 of 5")
	assert.Contains(t, out, "### src/parser.py (source)")
	assert.Contains(t, out, "### tests/test_parser.py::test_num")
}

func TestRenderUnknownTemplate(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	_, err = r.Render("missing.tpl.md", &PromptData{})
	assert.Error(t, err)
}

func TestFenceAvoidsCollision(t *testing.T) {
	got := fence("a\n```\nb\n")
	assert.Equal(t, "````\na\n```\nb\n````", got)
}
