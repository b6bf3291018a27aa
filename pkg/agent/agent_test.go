package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeforge/pkg/llm"
	"codeforge/pkg/templates"
)

type fakeSender struct {
	roles   []llm.Role
	prompts []string
	content string
}

func (f *fakeSender) Send(_ context.Context, prompt string, role llm.Role) (llm.Response, error) {
	f.roles = append(f.roles, role)
	f.prompts = append(f.prompts, prompt)
	return llm.Response{Content: f.content, Model: "m"}, nil
}

func TestKindRole(t *testing.T) {
	assert.Equal(t, llm.RolePlanning, Planning.Role())
	assert.Equal(t, llm.RoleGeneration, Generation.Role())
	assert.Equal(t, llm.RoleRepair, Repair.Role())
	assert.Equal(t, "repair", Repair.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}

func TestAskUsesKindRole(t *testing.T) {
	s := &fakeSender{content: `{"modules":[]}`}
	a, err := New(s)
	require.NoError(t, err)

	ex, err := a.Ask(context.Background(), Planning, &templates.PromptData{Specification: "todo app"})
	require.NoError(t, err)
	assert.Equal(t, []llm.Role{llm.RolePlanning}, s.roles)
	assert.Contains(t, ex.Prompt, "todo app")
	assert.Equal(t, `{"modules":[]}`, ex.Response.Content)
}

func TestPromptValidatesInputs(t *testing.T) {
	a, err := New(&fakeSender{})
	require.NoError(t, err)

	_, err = a.Prompt(Generation, &templates.PromptData{})
	assert.Error(t, err)

	_, err = a.Prompt(Repair, &templates.PromptData{Module: &templates.ModuleView{Name: "m"}})
	assert.Error(t, err, "repair without failures")

	_, err = a.Prompt(Kind(42), &templates.PromptData{})
	assert.Error(t, err)
}

func TestNewRequiresSender(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
