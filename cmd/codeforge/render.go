package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"codeforge/pkg/llm"
	"codeforge/pkg/modelclient"
	"codeforge/pkg/persistence"
	"codeforge/pkg/proto"
	"codeforge/pkg/session"
)

var (
	colorOK    = lipgloss.Color("#2CD7C7")
	colorWarn  = lipgloss.Color("#F4D03F")
	colorError = lipgloss.Color("#E74C3C")
	colorMuted = lipgloss.Color("241")
)

// renderer formats reports for the terminal. Plain renderers emit no escape
// sequences so output can be piped or captured.
type renderer struct {
	title lipgloss.Style
	label lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	bad   lipgloss.Style
	muted lipgloss.Style
	box   lipgloss.Style
}

func newRenderer(styled bool) *renderer {
	if !styled {
		plain := lipgloss.NewStyle()
		return &renderer{title: plain, label: plain, ok: plain, warn: plain, bad: plain, muted: plain, box: plain}
	}
	return &renderer{
		title: lipgloss.NewStyle().Bold(true).Foreground(colorOK),
		label: lipgloss.NewStyle().Bold(true),
		ok:    lipgloss.NewStyle().Foreground(colorOK),
		warn:  lipgloss.NewStyle().Foreground(colorWarn),
		bad:   lipgloss.NewStyle().Foreground(colorError),
		muted: lipgloss.NewStyle().Foreground(colorMuted),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1),
	}
}

func (r *renderer) phase(p proto.Phase) string {
	switch p {
	case proto.PhaseDone:
		return r.ok.Render("✓ " + string(p))
	case proto.PhaseFailed:
		return r.bad.Render("✗ " + string(p))
	case "":
		return r.muted.Render("unknown")
	default:
		return r.warn.Render("○ " + string(p))
	}
}

func (r *renderer) row(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "%s %s\n", r.label.Render(fmt.Sprintf("%-11s", label+":")), value)
}

// Report renders a session report.
func (r *renderer) Report(rep *session.Report) string {
	var b strings.Builder
	r.row(&b, "Session", rep.SessionID)
	if rep.ProjectName != "" {
		r.row(&b, "Project", rep.ProjectName)
	}
	r.row(&b, "Output", rep.OutputDir)
	r.row(&b, "Phase", r.phase(rep.FinalPhase))
	r.row(&b, "Iterations", fmt.Sprintf("%d of %d", rep.Iterations, rep.MaxIterations))
	if rep.Duration > 0 {
		r.row(&b, "Duration", rep.Duration.Round(time.Millisecond).String())
	}
	if rep.ModelCalls > 0 {
		r.row(&b, "Model calls", fmt.Sprintf("%d", rep.ModelCalls))
	}
	for _, role := range sortedRoles(rep.Usage) {
		u := rep.Usage[role]
		r.row(&b, "Tokens", fmt.Sprintf("%-10s %d in / %d out", role, u.PromptTokens, u.CompletionTokens))
	}
	if rep.Error != "" {
		r.row(&b, "Error", r.bad.Render(rep.Error))
	}

	out := r.title.Render("codeforge session") + "\n" + r.box.Render(strings.TrimRight(b.String(), "\n")) + "\n"

	if len(rep.History) > 0 {
		var h strings.Builder
		h.WriteString(r.title.Render("Test runs") + "\n")
		if rep.Dropped > 0 {
			fmt.Fprintf(&h, "  %s\n", r.muted.Render(fmt.Sprintf("(%d older runs not retained)", rep.Dropped)))
		}
		for i, entry := range rep.History {
			mark := r.ok.Render("✓")
			if !entry.Result.Passed {
				mark = r.bad.Render("✗")
			}
			fmt.Fprintf(&h, "  %s #%d after %d repairs: %s\n", mark, rep.Dropped+i+1, entry.Iteration, entry.Result.Summary())
			for _, ex := range entry.Exchanges {
				note := "no change"
				if len(ex.Changed) > 0 {
					note = strings.Join(ex.Changed, ", ")
				}
				fmt.Fprintf(&h, "      %s %s\n", r.muted.Render("repair "+ex.Module+":"), note)
			}
		}
		out += h.String()
	}

	if len(rep.Artifacts) > 0 {
		var a strings.Builder
		a.WriteString(r.title.Render("Files") + "\n")
		for _, art := range rep.Artifacts {
			fmt.Fprintf(&a, "  %-40s %-6s %-10s rev %d\n", art.Path, art.Kind, art.Module, art.Revision)
		}
		out += a.String()
	}
	return out
}

// Health renders the proxy and local rotation state.
func (r *renderer) Health(proxyBase string, h modelclient.Health) string {
	var b strings.Builder
	switch {
	case proxyBase == "":
		r.row(&b, "Proxy", r.muted.Render("not configured"))
	case h.ProxyError != "":
		r.row(&b, "Proxy", r.bad.Render("✗ "+h.ProxyError))
	case h.Proxy != nil:
		status := r.ok.Render("✓ " + h.Proxy.Status)
		if !h.Healthy() {
			status = r.bad.Render("✗ " + h.Proxy.Status)
		}
		r.row(&b, "Proxy", proxyBase+" "+status)
		r.row(&b, "Valid keys", fmt.Sprintf("%d", h.Proxy.ValidKeys))
		r.row(&b, "Cooldown", fmt.Sprintf("%d", h.Proxy.CooldownKeys))
		models := make([]string, 0, len(h.Proxy.ExhaustedKeysPerModel))
		for m := range h.Proxy.ExhaustedKeysPerModel {
			models = append(models, m)
		}
		sort.Strings(models)
		for _, m := range models {
			r.row(&b, "Exhausted", fmt.Sprintf("%s: %d keys", m, h.Proxy.ExhaustedKeysPerModel[m]))
		}
	}

	r.row(&b, "Calls", fmt.Sprintf("%d", h.Local.Calls))
	for i, n := range h.Local.RateLimited {
		if n > 0 {
			r.row(&b, "Limited", fmt.Sprintf("credential %d: %d", i, n))
		}
	}
	return r.title.Render("codeforge health") + "\n" + r.box.Render(strings.TrimRight(b.String(), "\n")) + "\n"
}

// Sessions renders a session list.
func (r *renderer) Sessions(list []*persistence.Session) string {
	if len(list) == 0 {
		return r.muted.Render("no sessions recorded") + "\n"
	}
	var b strings.Builder
	for _, s := range list {
		phase, _ := proto.ParsePhase(s.FinalPhase)
		name := s.ProjectName
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(&b, "%s  %s  %-20s %-10s %s  %d/%d\n",
			s.SessionID, s.StartedAt.Local().Format("2006-01-02 15:04"), name, s.Status,
			r.phase(phase), s.Iterations, s.MaxIterations)
	}
	return b.String()
}

func sortedRoles(usage map[llm.Role]llm.Usage) []llm.Role {
	roles := make([]llm.Role, 0, len(usage))
	for role := range usage {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}
