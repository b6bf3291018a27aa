package repair

import (
	"path"
	"strings"

	"codeforge/pkg/plan"
	"codeforge/pkg/project"
	"codeforge/pkg/proto"
)

// Target is one module to repair and the failing cases attributed to it.
type Target struct {
	Module plan.ModuleDescriptor
	Cases  []proto.FailingCase
}

// SelectCases returns the first k failing cases with distinct ids, in the
// order the executor reported them. k <= 0 keeps every case.
func SelectCases(result proto.TestResult, k int) []proto.FailingCase {
	var out []proto.FailingCase
	seen := make(map[string]bool, len(result.FailingCases))
	for _, c := range result.FailingCases {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
		if k > 0 && len(out) == k {
			break
		}
	}
	return out
}

// Attribute assigns each case to the modules it implicates. A case naming an
// artifact path belongs to that artifact's module; otherwise a case naming a
// module (as a whole word, "_" counting as a separator) belongs to it. Cases
// matching nothing are attributed to every module. Targets follow plan order.
func Attribute(p *plan.Plan, proj *project.Project, cases []proto.FailingCase) []Target {
	paths := make(map[string]string) // artifact path or base name → module
	for _, a := range proj.Artifacts() {
		paths[a.Path] = a.Module
		base := path.Base(a.Path)
		if _, taken := paths[base]; !taken {
			paths[base] = a.Module
		}
	}

	byModule := make(map[string][]proto.FailingCase)
	for _, c := range cases {
		text := c.ID + "\n" + c.Message + "\n" + c.Output

		hits := map[string]bool{}
		for ap, mod := range paths {
			if containsToken(text, ap) {
				hits[mod] = true
			}
		}
		if len(hits) == 0 {
			for _, name := range p.Names() {
				if containsToken(strings.ToLower(text), strings.ToLower(name)) {
					hits[name] = true
				}
			}
		}
		if len(hits) == 0 {
			for _, name := range p.Names() {
				hits[name] = true
			}
		}
		for mod := range hits {
			byModule[mod] = append(byModule[mod], c)
		}
	}

	var targets []Target
	for _, mod := range p.Modules() {
		if cs := byModule[mod.Name]; len(cs) > 0 {
			targets = append(targets, Target{Module: mod, Cases: orderLike(cases, cs)})
		}
	}
	return targets
}

// orderLike returns subset sorted by position in all.
func orderLike(all, subset []proto.FailingCase) []proto.FailingCase {
	want := make(map[string]bool, len(subset))
	for _, c := range subset {
		want[c.ID] = true
	}
	out := make([]proto.FailingCase, 0, len(subset))
	for _, c := range all {
		if want[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// containsToken reports whether tok occurs in text with no letter or digit
// directly on either side.
func containsToken(text, tok string) bool {
	if tok == "" {
		return false
	}
	for from := 0; ; {
		i := strings.Index(text[from:], tok)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(tok)
		if (start == 0 || !isAlnum(text[start-1])) && (end == len(text) || !isAlnum(text[end])) {
			return true
		}
		from = start + 1
	}
}

func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
