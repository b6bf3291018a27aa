package project

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// Layout is the on-disk shape of a project.
type Layout struct {
	PackageRoot  string `json:"package_root"`
	TestRoot     string `json:"test_root"`
	MetadataFile string `json:"metadata_file"`
}

// Project is the materialized set of artifacts. It is mutated only by the
// assembler and by Replace.
type Project struct {
	Root     string
	Language string
	Name     string
	Layout   Layout

	mu        sync.RWMutex
	artifacts []*Artifact // sorted by path
	byPath    map[string]*Artifact
}

// New builds a project from already validated artifacts. It does not touch disk.
func New(root, language, name string, artifacts []*Artifact) *Project {
	p := &Project{
		Root:     root,
		Language: language,
		Name:     name,
		byPath:   make(map[string]*Artifact, len(artifacts)),
	}
	for _, a := range artifacts {
		cp := *a
		p.artifacts = append(p.artifacts, &cp)
		p.byPath[cp.Path] = &cp
	}
	sort.Slice(p.artifacts, func(i, j int) bool { return p.artifacts[i].Path < p.artifacts[j].Path })
	p.Layout = Layout{
		PackageRoot: commonDir(p.artifacts, KindSource),
		TestRoot:    commonDir(p.artifacts, KindTest),
	}
	return p
}

// Artifacts returns copies of every artifact sorted by path.
func (p *Project) Artifacts() []Artifact {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Artifact, len(p.artifacts))
	for i, a := range p.artifacts {
		out[i] = *a
	}
	return out
}

// Artifact returns a copy of the artifact at path.
func (p *Project) Artifact(path string) (Artifact, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.byPath[path]
	if !ok {
		return Artifact{}, false
	}
	return *a, true
}

// ModuleArtifacts returns the module's artifacts, source first.
func (p *Project) ModuleArtifacts(module string) []Artifact {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Artifact
	for _, a := range p.artifacts {
		if a.Module == module {
			out = append(out, *a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Kind == KindSource && out[j].Kind != KindSource })
	return out
}

// Change is a replacement of one artifact's content.
type Change struct {
	Path    string
	Content string
}

// Replace applies every change or none. Each changed artifact's revision is
// incremented and its stage set to repair. Changes whose content equals the
// current content are dropped. It returns the paths that changed.
func (p *Project) Replace(changes []Change) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range changes {
		if _, ok := p.byPath[c.Path]; !ok {
			return nil, fmt.Errorf("no artifact at %s", c.Path)
		}
	}

	var changed []string
	seen := make(map[string]bool, len(changes))
	for _, c := range changes {
		a := p.byPath[c.Path]
		if a.Content == c.Content {
			continue
		}
		a.Content = c.Content
		a.Stage = StageRepair
		if !seen[c.Path] {
			a.Revision++
			seen[c.Path] = true
			changed = append(changed, c.Path)
		}
	}
	return changed, nil
}

// Revisions returns path → revision for every artifact.
func (p *Project) Revisions() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int, len(p.artifacts))
	for _, a := range p.artifacts {
		out[a.Path] = a.Revision
	}
	return out
}

// commonDir returns the deepest directory shared by every artifact of kind.
func commonDir(artifacts []*Artifact, kind Kind) string {
	var dirs []string
	for _, a := range artifacts {
		if a.Kind == kind {
			dirs = append(dirs, path.Dir(a.Path))
		}
	}
	if len(dirs) == 0 {
		return ""
	}

	common := strings.Split(dirs[0], "/")
	for _, d := range dirs[1:] {
		parts := strings.Split(d, "/")
		n := 0
		for n < len(common) && n < len(parts) && common[n] == parts[n] {
			n++
		}
		common = common[:n]
	}
	if len(common) == 0 {
		return "."
	}
	return strings.Join(common, "/")
}
