package generate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeforge/pkg/agent"
	"codeforge/pkg/llm"
	"codeforge/pkg/plan"
	"codeforge/pkg/project"
	"codeforge/pkg/specs"
)

type senderFunc func(ctx context.Context, prompt string, role llm.Role) (llm.Response, error)

func (f senderFunc) Send(ctx context.Context, prompt string, role llm.Role) (llm.Response, error) {
	return f(ctx, prompt, role)
}

var moduleHeader = regexp.MustCompile(`## Module: (\S+)`)

func moduleOf(prompt string) string {
	m := moduleHeader.FindStringSubmatch(prompt)
	if m == nil {
		return ""
	}
	return m[1]
}

func filesFor(name string) string {
	return fmt.Sprintf(`{"files":[
		{"path":"calc/%[1]s.py","kind":"source","content":"IMPL_%[1]s = 1"},
		{"path":"tests/test_%[1]s.py","content":"def test_%[1]s():\n    pass\n"}
	]}`, name)
}

func diamondPlan(t *testing.T) *plan.Plan {
	t.Helper()
	p, err := plan.New("calc", []plan.ModuleDescriptor{
		{Name: "lexer", Interfaces: "tokens(s) -> list"},
		{Name: "parser", Interfaces: "parse(tokens) -> Ast", Dependencies: []string{"lexer"}},
		{Name: "printer", Interfaces: "show(ast) -> str", Dependencies: []string{"lexer"}},
		{Name: "evaluator", Interfaces: "evaluate(ast) -> float", Dependencies: []string{"parser", "printer"}},
		{Name: "docs", Interfaces: "usage() -> str"},
	})
	require.NoError(t, err)
	return p
}

func TestGenerateRespectsDependencies(t *testing.T) {
	p := diamondPlan(t)

	var (
		mu        sync.Mutex
		finished  = map[string]bool{}
		prompts   = map[string]string{}
		violation []string
		inFlight  atomic.Int32
		peak      atomic.Int32
	)

	sender := senderFunc(func(_ context.Context, prompt string, role llm.Role) (llm.Response, error) {
		assert.Equal(t, llm.RoleGeneration, role)
		name := moduleOf(prompt)
		mod, ok := p.Module(name)
		if !ok {
			return llm.Response{}, fmt.Errorf("prompt names unknown module %q", name)
		}

		mu.Lock()
		prompts[name] = prompt
		for _, dep := range mod.Dependencies {
			if !finished[dep] {
				violation = append(violation, name+" before "+dep)
			}
		}
		mu.Unlock()

		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)

		mu.Lock()
		finished[name] = true
		mu.Unlock()
		return llm.Response{Content: filesFor(name), Model: "m"}, nil
	})

	a, err := agent.New(sender)
	require.NoError(t, err)

	arts, err := NewStage(a, &specs.Specification{Text: "calculator"}, 3).Generate(context.Background(), p)
	require.NoError(t, err)

	assert.Empty(t, violation)
	assert.Len(t, arts, 10)
	assert.Equal(t, "calc/lexer.py", arts[0].Path, "artifacts follow plan order")
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.GreaterOrEqual(t, peak.Load(), int32(2), "independent modules run concurrently")

	evalPrompt := prompts["evaluator"]
	assert.Contains(t, evalPrompt, "parse(tokens) -> Ast")
	assert.Contains(t, evalPrompt, "show(ast) -> str")
	assert.NotContains(t, evalPrompt, "IMPL_parser", "dependency implementations stay out of the prompt")
	assert.NotContains(t, evalPrompt, "tokens(s) -> list", "only direct dependencies are embedded")

	for _, art := range arts {
		assert.Equal(t, project.StageGeneration, art.Stage)
		assert.Zero(t, art.Revision)
	}
}

func TestGenerateStopsOnFailure(t *testing.T) {
	p := diamondPlan(t)
	var calls sync.Map

	sender := senderFunc(func(_ context.Context, prompt string, _ llm.Role) (llm.Response, error) {
		name := moduleOf(prompt)
		calls.Store(name, true)
		if name == "lexer" {
			return llm.Response{Content: "I cannot help with that."}, nil
		}
		return llm.Response{Content: filesFor(name)}, nil
	})
	a, err := agent.New(sender)
	require.NoError(t, err)

	_, err = NewStage(a, &specs.Specification{Text: "calculator"}, 2).Generate(context.Background(), p)
	require.Error(t, err)

	var ge *GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "lexer", ge.Module)

	for _, dependent := range []string{"parser", "printer", "evaluator"} {
		_, called := calls.Load(dependent)
		assert.False(t, called, "%s depends on the failed module", dependent)
	}
}

func TestGeneratePropagatesTransportErrors(t *testing.T) {
	p := diamondPlan(t)
	boom := errors.New("connection reset")
	a, err := agent.New(senderFunc(func(context.Context, string, llm.Role) (llm.Response, error) {
		return llm.Response{}, boom
	}))
	require.NoError(t, err)

	_, err = NewStage(a, &specs.Specification{Text: "x"}, 1).Generate(context.Background(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var ge *GenerationError
	assert.False(t, errors.As(err, &ge))
}

func TestParseFiles(t *testing.T) {
	mod := plan.ModuleDescriptor{Name: "parser", Path: "calc/parser.py"}

	tests := []struct {
		name    string
		content string
		paths   []string
		wantErr string
	}{
		{
			name:    "object",
			content: filesFor("parser"),
			paths:   []string{"calc/parser.py", "tests/test_parser.py"},
		},
		{
			name:    "bare list in prose",
			content: "Here you go:\n[{\"path\":\"./calc/parser.py\",\"content\":\"x = 1\"}]\nThanks",
			paths:   []string{"calc/parser.py"},
		},
		{
			name:    "single fenced block",
			content: "```python\ndef parse(s):\n    return s\n```",
			paths:   []string{"calc/parser.py"},
		},
		{name: "no files", content: "sorry", wantErr: "no file list"},
		{name: "escaping path", content: `{"files":[{"path":"../x.py","content":"x"}]}`, wantErr: "bad file path"},
		{name: "only tests", content: `{"files":[{"path":"tests/test_p.py","content":"x"}]}`, wantErr: "no source file"},
		{name: "two sources", content: `{"files":[{"path":"a.py","content":"x"},{"path":"b.py","content":"y"}]}`, wantErr: "more than one source"},
		{name: "empty content", content: `{"files":[{"path":"a.py","content":"  "}]}`, wantErr: "has no content"},
		{name: "duplicate", content: `{"files":[{"path":"a.py","content":"x"},{"path":"./a.py","content":"y"}]}`, wantErr: "listed twice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arts, err := ParseFiles(mod, tt.content)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			var paths []string
			for _, a := range arts {
				paths = append(paths, a.Path)
				assert.Equal(t, "parser", a.Module)
			}
			assert.Equal(t, tt.paths, paths)
		})
	}
}
