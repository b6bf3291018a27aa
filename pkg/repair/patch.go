package repair

import (
	"fmt"
	"strings"

	"codeforge/pkg/agent"
	"codeforge/pkg/project"
)

// patchEntry is one file edit in a repair response. Content replaces the
// whole file; Before/After is a targeted replacement.
type patchEntry struct {
	Path        string  `json:"path"`
	Content     *string `json:"content"`
	Before      string  `json:"before"`
	After       string  `json:"after"`
	Explanation string  `json:"explanation"`
}

type patchResponse struct {
	Files []patchEntry `json:"files"`
}

// Patch is the parsed outcome of one repair response.
type Patch struct {
	Changes  []project.Change
	Warnings []string
}

// ParsePatch turns a repair response into changes to the given artifacts,
// which are the only files it may touch. Accepted shapes are
// {"files": [...]}, a bare list, or a single {path, content} or
// {path, before, after} object. A response without JSON that is a single
// fenced block replaces the source artifact.
func ParsePatch(response string, files []project.Artifact) Patch {
	var patch Patch
	current := make(map[string]string, len(files))
	var order []string
	var source string
	for _, f := range files {
		current[f.Path] = f.Content
		if f.Kind == project.KindSource && source == "" {
			source = f.Path
		}
	}
	edited := map[string]bool{}

	entries, ok := decodePatch(response)
	if !ok {
		blocks := agent.FencedBlocks(response)
		if len(blocks) == 1 && source != "" {
			entries = []patchEntry{{Path: source, Content: &blocks[0]}}
		} else {
			patch.Warnings = append(patch.Warnings, "response contained no usable patch")
			return patch
		}
	}

	for _, e := range entries {
		p, err := project.NormalizePath(e.Path)
		if err != nil {
			patch.Warnings = append(patch.Warnings, fmt.Sprintf("skipped patch: %v", err))
			continue
		}
		cur, known := current[p]
		if !known {
			patch.Warnings = append(patch.Warnings, fmt.Sprintf("skipped patch for %s: not a file of this module", p))
			continue
		}

		var next string
		switch {
		case e.Before != "":
			replaced, matched := replaceBlock(cur, e.Before, e.After)
			switch {
			case matched:
				next = replaced
			case e.Content != nil:
				patch.Warnings = append(patch.Warnings, fmt.Sprintf("%s: before text not found, applied full content", p))
				next = *e.Content
			default:
				patch.Warnings = append(patch.Warnings, fmt.Sprintf("skipped patch for %s: before text not found", p))
				continue
			}
		case e.Content != nil:
			next = *e.Content
		default:
			patch.Warnings = append(patch.Warnings, fmt.Sprintf("skipped patch for %s: no content", p))
			continue
		}

		if strings.TrimSpace(next) != "" && !strings.HasSuffix(next, "\n") {
			next += "\n"
		}
		current[p] = next
		if !edited[p] {
			edited[p] = true
			order = append(order, p)
		}
	}

	for _, p := range order {
		patch.Changes = append(patch.Changes, project.Change{Path: p, Content: current[p]})
	}
	return patch
}

func decodePatch(response string) ([]patchEntry, bool) {
	var wrapped patchResponse
	if err := agent.ExtractJSON(response, &wrapped); err == nil && len(wrapped.Files) > 0 {
		return wrapped.Files, true
	}
	var list []patchEntry
	if err := agent.ExtractJSON(response, &list); err == nil && len(list) > 0 {
		return list, true
	}
	var single patchEntry
	if err := agent.ExtractJSON(response, &single); err == nil && single.Path != "" {
		return []patchEntry{single}, true
	}
	return nil, false
}

// replaceBlock replaces the first occurrence of before in content with after.
// When there is no exact match, lines are compared with surrounding
// whitespace trimmed and the matched lines are replaced.
func replaceBlock(content, before, after string) (string, bool) {
	if strings.Contains(content, before) {
		return strings.Replace(content, before, after, 1), true
	}

	lines := strings.Split(content, "\n")
	want := trimmedLines(before)
	if len(want) == 0 {
		return content, false
	}
	for i := 0; i+len(want) <= len(lines); i++ {
		match := true
		for j, w := range want {
			if strings.TrimSpace(lines[i+j]) != w {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		out := make([]string, 0, len(lines))
		out = append(out, lines[:i]...)
		out = append(out, strings.Split(strings.TrimRight(after, "\n"), "\n")...)
		out = append(out, lines[i+len(want):]...)
		return strings.Join(out, "\n"), true
	}
	return content, false
}

// trimmedLines splits s into lines with whitespace trimmed, dropping
// leading and trailing blank lines.
func trimmedLines(s string) []string {
	raw := strings.Split(strings.Trim(s, "\n"), "\n")
	out := make([]string, len(raw))
	for i, l := range raw {
		out[i] = strings.TrimSpace(l)
	}
	for len(out) > 0 && out[0] == "" {
		out = out[1:]
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

// explanations collects the model's stated reasons, for logs.
func explanations(response string) []string {
	entries, ok := decodePatch(response)
	if !ok {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.Explanation != "" {
			out = append(out, e.Path+": "+e.Explanation)
		}
	}
	return out
}

