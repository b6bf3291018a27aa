package agent

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no JSON value can be recovered from a response.
var ErrNoJSON = errors.New("no JSON value found in response")

var fencedBlock = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)[ \t]*\n(.*?)\n?```")

// ExtractJSON decodes the first JSON value in text into v. It tries, in order:
// the whole text, each fenced code block, and the first balanced {...} or
// [...] span outside string literals.
func ExtractJSON(text string, v any) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrNoJSON
	}
	if json.Unmarshal([]byte(trimmed), v) == nil {
		return nil
	}

	for _, m := range fencedBlock.FindAllStringSubmatch(trimmed, -1) {
		if json.Unmarshal([]byte(strings.TrimSpace(m[2])), v) == nil {
			return nil
		}
	}

	for start := 0; start < len(trimmed); {
		span, next, ok := balancedSpan(trimmed, start)
		if !ok {
			break
		}
		if json.Unmarshal([]byte(span), v) == nil {
			return nil
		}
		start = next
	}
	return ErrNoJSON
}

// balancedSpan finds the first balanced object or array at or after from.
// It returns the span and the index just past its opening bracket so callers
// can resume scanning.
func balancedSpan(s string, from int) (string, int, bool) {
	open := strings.IndexAny(s[from:], "{[")
	if open < 0 {
		return "", 0, false
	}
	open += from

	var stack []byte
	inString, escaped := false, false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", open + 1, true
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[open : i+1], open + 1, true
			}
		}
	}
	return "", 0, false
}

// FencedBlocks returns the bodies of every fenced code block in text.
func FencedBlocks(text string) []string {
	var out []string
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		out = append(out, m[2])
	}
	return out
}
