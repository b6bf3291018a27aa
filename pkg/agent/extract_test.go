package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want payload
	}{
		{"direct", `{"name":"a","count":1}`, payload{"a", 1}},
		{"fenced json", "Here you go:\n```json\n{\"name\":\"b\",\"count\":2}\n```\nDone.", payload{"b", 2}},
		{"fenced no language", "```\n{\"name\":\"c\",\"count\":3}\n```", payload{"c", 3}},
		{"embedded", `Sure! The plan is {"name":"d","count":4} as requested.`, payload{"d", 4}},
		{"braces inside strings", `note: {"name":"e } {","count":5} trailing }`, payload{"e } {", 5}},
		{"escaped quote", `x {"name":"say \"hi\" {","count":6}`, payload{`say "hi" {`, 6}},
		{"skips invalid span", `{not json} then {"name":"f","count":7}`, payload{"f", 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got payload
			require.NoError(t, ExtractJSON(tt.text, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSONArray(t *testing.T) {
	var got []payload
	require.NoError(t, ExtractJSON(`result: [{"name":"x","count":1},{"name":"y","count":2}]`, &got))
	assert.Len(t, got, 2)
}

func TestExtractJSONFailures(t *testing.T) {
	var got payload
	assert.ErrorIs(t, ExtractJSON("", &got), ErrNoJSON)
	assert.ErrorIs(t, ExtractJSON("no json here", &got), ErrNoJSON)
	assert.ErrorIs(t, ExtractJSON(`{"unterminated": `, &got), ErrNoJSON)
}

func TestFencedBlocks(t *testing.T) {
	blocks := FencedBlocks("a\n```python\nprint(1)\n```\nb\n```\nx = 2\n```")
	assert.Equal(t, []string{"print(1)", "x = 2"}, blocks)
}
