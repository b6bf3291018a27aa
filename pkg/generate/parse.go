package generate

import (
	"strings"

	"codeforge/pkg/agent"
	"codeforge/pkg/plan"
	"codeforge/pkg/project"
)

type fileEntry struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

type filesResponse struct {
	Files []fileEntry `json:"files"`
}

// ParseFiles turns a generation response into the module's artifacts. It
// accepts {"files": [...]} or a bare list. A response without JSON that is a
// single fenced block becomes the module's source file when the plan names
// its path. Exactly one source file is required.
func ParseFiles(mod plan.ModuleDescriptor, content string) ([]*project.Artifact, error) {
	entries, err := decodeEntries(content)
	if err != nil {
		blocks := agent.FencedBlocks(content)
		if len(blocks) != 1 || mod.Path == "" {
			return nil, &GenerationError{Module: mod.Name, Reason: "response contains no file list", Err: err}
		}
		entries = []fileEntry{{Path: mod.Path, Kind: string(project.KindSource), Content: blocks[0]}}
	}

	arts := make([]*project.Artifact, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	sources := 0
	for _, e := range entries {
		clean, err := project.NormalizePath(e.Path)
		if err != nil {
			return nil, &GenerationError{Module: mod.Name, Reason: "bad file path", Err: err}
		}
		if seen[clean] {
			return nil, &GenerationError{Module: mod.Name, Reason: "file " + clean + " listed twice"}
		}
		seen[clean] = true
		if strings.TrimSpace(e.Content) == "" {
			return nil, &GenerationError{Module: mod.Name, Reason: "file " + clean + " has no content"}
		}

		kind := project.GuessKind(clean)
		switch project.Kind(strings.ToLower(strings.TrimSpace(e.Kind))) {
		case project.KindSource:
			kind = project.KindSource
		case project.KindTest:
			kind = project.KindTest
		}
		if kind == project.KindSource {
			sources++
		}

		arts = append(arts, &project.Artifact{
			Path:    clean,
			Content: ensureNewline(e.Content),
			Stage:   project.StageGeneration,
			Module:  mod.Name,
			Kind:    kind,
		})
	}

	switch {
	case sources == 0:
		return nil, &GenerationError{Module: mod.Name, Reason: "no source file in response"}
	case sources > 1:
		return nil, &GenerationError{Module: mod.Name, Reason: "more than one source file in response"}
	}
	return arts, nil
}

func decodeEntries(content string) ([]fileEntry, error) {
	var resp filesResponse
	if err := agent.ExtractJSON(content, &resp); err == nil && len(resp.Files) > 0 {
		return resp.Files, nil
	}
	var list []fileEntry
	err := agent.ExtractJSON(content, &list)
	if err == nil && len(list) > 0 {
		return list, nil
	}
	if err == nil {
		err = agent.ErrNoJSON
	}
	return nil, err
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
