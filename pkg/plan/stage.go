package plan

import (
	"context"

	"codeforge/pkg/agent"
	"codeforge/pkg/logx"
	"codeforge/pkg/specs"
	"codeforge/pkg/templates"
)

// response is the JSON shape the planning prompt asks for.
type response struct {
	ProjectName string             `json:"project_name"`
	Modules     []ModuleDescriptor `json:"modules"`
}

// Stage produces a Plan with exactly one planning call.
type Stage struct {
	agent  *agent.Agent
	logger *logx.Logger
}

// NewStage creates a planning stage.
func NewStage(a *agent.Agent) *Stage {
	return &Stage{agent: a, logger: logx.NewLogger("planning")}
}

// Plan asks the model for a module breakdown of spec. Transport failures are
// returned unchanged; unusable responses yield *MalformedPlanError.
func (s *Stage) Plan(ctx context.Context, spec *specs.Specification) (*Plan, error) {
	ex, err := s.agent.Ask(ctx, agent.Planning, &templates.PromptData{
		Specification:  spec.Text,
		TargetLanguage: spec.Language(),
		TestCommand:    spec.TestCommand,
		ProjectName:    spec.ProjectName,
	})
	if err != nil {
		return nil, err
	}

	p, err := ParseNamed(ex.Response.Content, spec.ProjectName)
	if err != nil {
		return nil, err
	}

	s.logger.Info("planned %d modules: %v", p.Len(), p.Names())
	return p, nil
}

// Parse decodes a planning response. It accepts {"modules": [...]} or a bare array.
func Parse(content string) (*Plan, error) {
	return ParseNamed(content, "")
}

// ParseNamed is Parse with a project name that, when set, takes precedence
// over the one the model proposed.
func ParseNamed(content, projectName string) (*Plan, error) {
	var resp response
	if err := agent.ExtractJSON(content, &resp); err == nil && len(resp.Modules) > 0 {
		if projectName == "" {
			projectName = resp.ProjectName
		}
		return New(projectName, resp.Modules)
	}

	var modules []ModuleDescriptor
	if err := agent.ExtractJSON(content, &modules); err == nil && len(modules) > 0 {
		return New(projectName, modules)
	}
	return nil, &MalformedPlanError{Reason: "response contains no JSON module list"}
}
