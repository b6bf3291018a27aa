package specs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWithFrontmatter(t *testing.T) {
	md := "---\ntarget_language: Py\ntest_command: python -m pytest -q\nproject_name: calc\n---\n\nBuild a calculator.\n"

	spec, err := Parse(md)
	require.NoError(t, err)
	assert.Equal(t, "Build a calculator.", spec.Text)
	assert.Equal(t, "python", spec.TargetLanguage)
	assert.Equal(t, "python -m pytest -q", spec.TestCommand)
	assert.Equal(t, "calc", spec.ProjectName)
}

func TestParsePlainText(t *testing.T) {
	spec, err := Parse("A todo list service with a REST API.")
	require.NoError(t, err)
	assert.Equal(t, "A todo list service with a REST API.", spec.Text)
	assert.Equal(t, "python", spec.Language())
}

func TestParseUnclosedFrontmatterIsBody(t *testing.T) {
	spec, err := Parse("---\nnot front matter")
	require.NoError(t, err)
	assert.Contains(t, spec.Text, "not front matter")
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("   \n")
	assert.Error(t, err)

	_, err = Parse("---\ntarget_language: [\n---\nbody")
	assert.Error(t, err)

	_, err = Parse("---\ntarget_language: go\n---\n")
	assert.Error(t, err, "front matter without body")
}

func TestApply(t *testing.T) {
	spec, err := Parse("---\ntarget_language: go\n---\nbody")
	require.NoError(t, err)

	out := spec.Apply(Options{TargetLanguage: "golang", TestCommand: "make test"})
	assert.Equal(t, "go", out.TargetLanguage)
	assert.Equal(t, "make test", out.TestCommand)
	assert.Equal(t, "", spec.TestCommand, "original untouched")
}

func TestNormalizeLanguage(t *testing.T) {
	assert.Equal(t, "node", NormalizeLanguage("TypeScript"))
	assert.Equal(t, "go", NormalizeLanguage(" Golang "))
	assert.Equal(t, "rust", NormalizeLanguage("rust"))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.md")
	require.NoError(t, os.WriteFile(path, []byte("Write a word counter."), 0644))

	spec, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, spec.Source)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.md"))
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}
