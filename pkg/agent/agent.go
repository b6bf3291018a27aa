// Package agent turns stage inputs into prompts and sends them through the
// shared model client. Planning, generation and repair differ only in the
// prompt strategy selected by Kind.
package agent

import (
	"context"
	"fmt"

	"codeforge/pkg/llm"
	"codeforge/pkg/llmerrors"
	"codeforge/pkg/logx"
	"codeforge/pkg/templates"
)

// Kind selects the prompt strategy.
type Kind int

const (
	// Planning turns a specification into a module plan.
	Planning Kind = iota
	// Generation writes one module.
	Generation
	// Repair rewrites files of one failing module.
	Repair
)

func (k Kind) String() string {
	switch k {
	case Planning:
		return "planning"
	case Generation:
		return "generation"
	case Repair:
		return "repair"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Role maps the kind to the backend role tag.
func (k Kind) Role() llm.Role {
	switch k {
	case Planning:
		return llm.RolePlanning
	case Generation:
		return llm.RoleGeneration
	default:
		return llm.RoleRepair
	}
}

// Sender is the model client contract shared by every kind.
type Sender interface {
	Send(ctx context.Context, prompt string, role llm.Role) (llm.Response, error)
}

// Exchange is one prompt and the model's answer.
type Exchange struct {
	Kind     Kind
	Prompt   string
	Response llm.Response
}

// Agent renders prompts and sends them.
type Agent struct {
	sender   Sender
	renderer *templates.Renderer
	logger   *logx.Logger
}

// New creates an agent over sender.
func New(sender Sender) (*Agent, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	renderer, err := templates.NewRenderer()
	if err != nil {
		return nil, err
	}
	return &Agent{
		sender:   sender,
		renderer: renderer,
		logger:   logx.NewLogger("agent"),
	}, nil
}

// Prompt builds the prompt for kind without sending it.
func (a *Agent) Prompt(kind Kind, data *templates.PromptData) (string, error) {
	switch kind {
	case Planning:
		return a.renderer.Render(templates.PlanningTemplate, data)
	case Generation:
		if data.Module == nil {
			return "", fmt.Errorf("generation prompt requires a module")
		}
		return a.renderer.Render(templates.GenerationTemplate, data)
	case Repair:
		if data.Module == nil {
			return "", fmt.Errorf("repair prompt requires a module")
		}
		if len(data.Failures) == 0 {
			return "", fmt.Errorf("repair prompt requires at least one failure")
		}
		return a.renderer.Render(templates.RepairTemplate, data)
	default:
		return "", fmt.Errorf("unknown agent kind %s", kind)
	}
}

// Ask builds the prompt for kind and sends it with the matching role.
func (a *Agent) Ask(ctx context.Context, kind Kind, data *templates.PromptData) (Exchange, error) {
	prompt, err := a.Prompt(kind, data)
	if err != nil {
		return Exchange{}, err
	}

	a.logger.Debug("%s prompt: %s", kind, llmerrors.SanitizePrompt(prompt, 400))
	resp, err := a.sender.Send(ctx, prompt, kind.Role())
	if err != nil {
		return Exchange{Kind: kind, Prompt: prompt}, fmt.Errorf("%s call failed: %w", kind, err)
	}
	a.logger.Debug("%s response from %s (%d tokens)", kind, resp.Model, resp.Usage.Total())

	return Exchange{Kind: kind, Prompt: prompt, Response: resp}, nil
}
