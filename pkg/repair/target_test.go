package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeforge/pkg/plan"
	"codeforge/pkg/project"
	"codeforge/pkg/proto"
)

func TestSelectCases(t *testing.T) {
	res := proto.Failing("",
		proto.FailingCase{ID: "a"}, proto.FailingCase{ID: "b"}, proto.FailingCase{ID: "a", Message: "again"},
		proto.FailingCase{ID: "c"}, proto.FailingCase{ID: "d"},
	)
	got := SelectCases(res, 3)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Empty(t, got[0].Message, "first occurrence wins")

	assert.Len(t, SelectCases(res, 0), 4)
}

func TestAttribute(t *testing.T) {
	p, err := plan.New("calc", []plan.ModuleDescriptor{
		{Name: "lexer"}, {Name: "parser"}, {Name: "cli"},
	})
	require.NoError(t, err)
	proj := project.New("root", "python", "calc", []*project.Artifact{
		{Path: "calc/lexer.py", Module: "lexer", Kind: project.KindSource},
		{Path: "calc/parser.py", Module: "parser", Kind: project.KindSource},
		{Path: "tests/test_parser.py", Module: "parser", Kind: project.KindTest},
		{Path: "calc/main.py", Module: "cli", Kind: project.KindSource},
	})

	tests := []struct {
		name string
		c    proto.FailingCase
		want []string
	}{
		{"test path", proto.FailingCase{ID: "tests/test_parser.py::test_x"}, []string{"parser"}},
		{"traceback path", proto.FailingCase{ID: "t", Output: `File "calc/lexer.py", line 3`}, []string{"lexer"}},
		{"module name", proto.FailingCase{ID: "TestCLI", Message: "cli exited 2"}, []string{"cli"}},
		{"name inside word is ignored", proto.FailingCase{ID: "x", Message: "client error"}, []string{"lexer", "parser", "cli"}},
		{"nothing matches", proto.FailingCase{ID: "timeout"}, []string{"lexer", "parser", "cli"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			targets := Attribute(p, proj, []proto.FailingCase{tt.c})
			var got []string
			for _, tg := range targets {
				got = append(got, tg.Module.Name)
				assert.Equal(t, tt.c.ID, tg.Cases[0].ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContainsToken(t *testing.T) {
	assert.True(t, containsToken("module parser failed", "parser"))
	assert.True(t, containsToken("test_parser", "parser"))
	assert.False(t, containsToken("parsers", "parser"))
	assert.False(t, containsToken("subparser", "parser"))
	assert.True(t, containsToken("subparser parser", "parser"))
	assert.False(t, containsToken("anything", ""))
}
