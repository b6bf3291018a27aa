package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"codeforge/pkg/logx"
	"codeforge/pkg/plan"
	"codeforge/pkg/utils"
)

// LayoutConflictError reports artifacts that cannot be laid out for a plan.
type LayoutConflictError struct {
	Problems []string
}

func (e *LayoutConflictError) Error() string {
	return "layout conflict: " + strings.Join(e.Problems, "; ")
}

// Assembler validates artifacts against a plan and writes them under Root.
type Assembler struct {
	Root        string
	Language    string
	ProjectName string
	logger      *logx.Logger
}

// NewAssembler creates an assembler writing under root.
func NewAssembler(root, language, projectName string) *Assembler {
	return &Assembler{
		Root:        root,
		Language:    language,
		ProjectName: projectName,
		logger:      logx.NewLogger("assembler"),
	}
}

// Assemble checks that every declared module has exactly one source artifact,
// that no artifact is orphaned and that no two artifacts share a path, then
// writes the project. Assembling unchanged artifacts leaves every file
// byte-identical.
func (a *Assembler) Assemble(p *plan.Plan, artifacts []*Artifact) (*Project, error) {
	normalized, err := a.validate(p, artifacts)
	if err != nil {
		return nil, err
	}

	name := a.ProjectName
	if name == "" {
		name = p.ProjectName
	}
	if name == "" {
		name = "generated_project"
	}
	proj := New(a.Root, a.Language, utils.SanitizeIdentifier(name), normalized)

	if _, err := a.Write(proj); err != nil {
		return nil, err
	}
	return proj, nil
}

func (a *Assembler) validate(p *plan.Plan, artifacts []*Artifact) ([]*Artifact, error) {
	var problems []string
	sources := make(map[string][]string, p.Len())
	paths := make(map[string]string, len(artifacts))
	out := make([]*Artifact, 0, len(artifacts))

	for _, art := range artifacts {
		if art == nil {
			continue
		}
		clean, err := NormalizePath(art.Path)
		if err != nil {
			problems = append(problems, fmt.Sprintf("module %q: %v", art.Module, err))
			continue
		}
		if _, ok := p.Module(art.Module); !ok {
			problems = append(problems, fmt.Sprintf("orphan artifact %s (module %q is not in the plan)", clean, art.Module))
			continue
		}
		if owner, dup := paths[clean]; dup {
			problems = append(problems, fmt.Sprintf("path %s produced by both %q and %q", clean, owner, art.Module))
			continue
		}
		paths[clean] = art.Module
		if art.Kind == KindSource {
			sources[art.Module] = append(sources[art.Module], clean)
		}

		cp := *art
		cp.Path = clean
		out = append(out, &cp)
	}

	for _, name := range p.Names() {
		switch n := len(sources[name]); {
		case n == 0:
			problems = append(problems, fmt.Sprintf("module %q has no source artifact", name))
		case n > 1:
			problems = append(problems, fmt.Sprintf("module %q has %d source artifacts: %s", name, n, strings.Join(sources[name], ", ")))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &LayoutConflictError{Problems: problems}
	}
	return out, nil
}

// Write materializes every artifact plus a package-metadata file when none of
// the artifacts provides one. Only files whose content differs are written.
// It returns the number of files written.
func (a *Assembler) Write(proj *Project) (int, error) {
	if err := os.MkdirAll(proj.Root, 0755); err != nil {
		return 0, fmt.Errorf("failed to create project root: %w", err)
	}

	written := 0
	for _, art := range proj.Artifacts() {
		changed, err := utils.WriteFileIfChanged(filepath.Join(proj.Root, filepath.FromSlash(art.Path)), []byte(art.Content), 0644)
		if err != nil {
			return written, err
		}
		if changed {
			written++
		}
	}

	if name, content := metadataFor(proj); name != "" {
		if _, exists := proj.Artifact(name); !exists {
			changed, err := utils.WriteFileIfChanged(filepath.Join(proj.Root, name), []byte(content), 0644)
			if err != nil {
				return written, err
			}
			if changed {
				written++
			}
		}
		proj.Layout.MetadataFile = name
	}

	a.logger.Debug("wrote %d changed files under %s", written, proj.Root)
	return written, nil
}

// metadataFor returns a minimal package-metadata file for the project language.
func metadataFor(proj *Project) (name, content string) {
	pkg := proj.Name
	if pkg == "" {
		pkg = "generated_project"
	}

	switch proj.Language {
	case "python", "":
		return "pyproject.toml", fmt.Sprintf(`[project]
name = "%s"
version = "0.1.0"
requires-python = ">=3.9"

[tool.pytest.ini_options]
pythonpath = ["."]
testpaths = ["%s"]
`, strings.ReplaceAll(pkg, "_", "-"), testPathOr(proj.Layout.TestRoot))
	case "go":
		return "go.mod", fmt.Sprintf("module %s\n\ngo 1.22\n", pkg)
	case "node":
		return "package.json", fmt.Sprintf(`{
  "name": "%s",
  "version": "0.1.0",
  "private": true,
  "scripts": {
    "test": "node --test"
  }
}
`, strings.ReplaceAll(pkg, "_", "-"))
	default:
		return "", ""
	}
}

func testPathOr(root string) string {
	if root == "" {
		return "."
	}
	return root
}
