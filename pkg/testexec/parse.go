package testexec

import (
	"regexp"
	"strings"

	"codeforge/pkg/proto"
)

// maxCaseOutput bounds the output kept per failing case.
const maxCaseOutput = 4000

var (
	pytestSummary = regexp.MustCompile(`^(FAILED|ERROR) (\S+)(?: - (.*))?$`)
	pytestSection = regexp.MustCompile(`^_{3,} (.+?) _{3,}$`)
	pytestBanner  = regexp.MustCompile(`^={3,}.*={3,}$`)

	goFail      = regexp.MustCompile(`^(\s*)--- FAIL: (\S+)`)
	goPkgFail   = regexp.MustCompile(`^FAIL\s+(\S+)\s+\[(build failed|setup failed)\]`)
	goPkgHeader = regexp.MustCompile(`^# (\S+)`)

	tapNotOK = regexp.MustCompile(`^(\s*)not ok \d+ - (.+?)(\s+#\s*(SKIP|TODO).*)?$`)
	tapError = regexp.MustCompile(`^\s*error:\s*(.+)$`)
)

// ParsePytest extracts failing cases from pytest output run with -rA or -rf.
// Each case's output is its traceback section when one is present.
func ParsePytest(output string) []proto.FailingCase {
	lines := strings.Split(output, "\n")
	sections := pytestSections(lines)

	var cases []proto.FailingCase
	seen := map[string]bool{}
	for _, line := range lines {
		m := pytestSummary.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil || seen[m[2]] {
			continue
		}
		id := m[2]
		seen[id] = true

		msg := m[3]
		if msg == "" {
			msg = strings.ToLower(m[1])
		}

		var title string
		if m[1] == "ERROR" && !strings.Contains(id, "::") {
			title = "ERROR collecting " + id
		} else if i := strings.Index(id, "::"); i >= 0 {
			title = strings.ReplaceAll(id[i+2:], "::", ".")
		}
		cases = append(cases, proto.FailingCase{ID: id, Message: msg, Output: truncate(sections[title])})
	}
	return cases
}

func pytestSections(lines []string) map[string]string {
	sections := map[string]string{}
	var (
		title string
		body  []string
	)
	flush := func() {
		if title != "" {
			sections[title] = strings.TrimSpace(strings.Join(body, "\n"))
		}
		title, body = "", nil
	}
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if m := pytestSection.FindStringSubmatch(line); m != nil {
			flush()
			title = m[1]
			continue
		}
		if pytestBanner.MatchString(line) {
			flush()
			continue
		}
		if title != "" {
			body = append(body, line)
		}
	}
	flush()
	return sections
}

// ParseGoTest extracts "--- FAIL:" tests and packages that failed to build.
func ParseGoTest(output string) []proto.FailingCase {
	lines := strings.Split(output, "\n")
	buildOutput := goBuildErrors(lines)

	var cases []proto.FailingCase
	seen := map[string]bool{}
	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")

		if m := goPkgFail.FindStringSubmatch(line); m != nil {
			if !seen[m[1]] {
				seen[m[1]] = true
				cases = append(cases, proto.FailingCase{ID: m[1], Message: m[2], Output: truncate(buildOutput[m[1]])})
			}
			continue
		}

		m := goFail.FindStringSubmatch(line)
		if m == nil || seen[m[2]] {
			continue
		}
		indent := len(m[1])
		var body []string
		for j := i + 1; j < len(lines); j++ {
			next := strings.TrimRight(lines[j], "\r")
			if strings.TrimSpace(next) == "" || leadingSpace(next) <= indent || goFail.MatchString(next) {
				break
			}
			body = append(body, strings.TrimSpace(next))
		}

		msg := "test failed"
		if len(body) > 0 {
			msg = body[0]
		}
		seen[m[2]] = true
		cases = append(cases, proto.FailingCase{ID: m[2], Message: msg, Output: truncate(strings.Join(body, "\n"))})
	}
	return cases
}

func goBuildErrors(lines []string) map[string]string {
	out := map[string]string{}
	var (
		pkg  string
		body []string
	)
	flush := func() {
		if pkg != "" && len(body) > 0 {
			out[pkg] = strings.Join(body, "\n")
		}
		pkg, body = "", nil
	}
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if m := goPkgHeader.FindStringSubmatch(line); m != nil {
			flush()
			pkg = m[1]
			continue
		}
		if strings.HasPrefix(line, "FAIL") || strings.HasPrefix(line, "ok ") {
			flush()
			continue
		}
		if pkg != "" {
			body = append(body, line)
		}
	}
	flush()
	return out
}

// ParseTAP extracts "not ok" entries from TAP output, as printed by node --test.
func ParseTAP(output string) []proto.FailingCase {
	lines := strings.Split(output, "\n")

	var cases []proto.FailingCase
	seen := map[string]bool{}
	for i := 0; i < len(lines); i++ {
		m := tapNotOK.FindStringSubmatch(strings.TrimRight(lines[i], "\r"))
		if m == nil || m[3] != "" || seen[m[2]] {
			continue
		}
		indent := len(m[1])
		msg := "test failed"
		var body []string
		for j := i + 1; j < len(lines); j++ {
			next := strings.TrimRight(lines[j], "\r")
			if leadingSpace(next) <= indent || strings.TrimSpace(next) == "..." {
				break
			}
			body = append(body, next)
			if em := tapError.FindStringSubmatch(next); em != nil && msg == "test failed" {
				msg = strings.Trim(em[1], `'"`)
			}
		}
		seen[m[2]] = true
		cases = append(cases, proto.FailingCase{ID: m[2], Message: msg, Output: truncate(strings.Join(body, "\n"))})
	}
	return cases
}

func leadingSpace(s string) int {
	return len(s) - len(strings.TrimLeft(s, " \t"))
}

func truncate(s string) string {
	if len(s) <= maxCaseOutput {
		return s
	}
	return s[:maxCaseOutput] + "\n... (truncated)"
}

// tail returns the last n bytes of s on a line boundary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return "... (truncated)\n" + s
}
