package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/randalmurphal/schemaflow/internal/artifact"
	"github.com/randalmurphal/schemaflow/internal/message"
	ferrors "github.com/randalmurphal/schemaflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/llm"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/template"
)

var schemaDesignTool = llm.Tool{
	Name:        SchemaDesignToolName,
	Description: "Apply JSON Patch operations to the schema document.",
	Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "operations": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "op": {"type": "string", "enum": ["add", "remove", "replace", "move", "copy", "test"]},
          "path": {"type": "string"},
          "from": {"type": "string"},
          "value": {}
        },
        "required": ["op", "path"]
      }
    }
  },
  "required": ["operations"]
}`),
}

// LLMAgent implements every capability with one llm.Client.
type LLMAgent struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

var (
	_ DesignAgent          = (*LLMAgent)(nil)
	_ PreAssessor          = (*LLMAgent)(nil)
	_ RequirementsAnalyzer = (*LLMAgent)(nil)
	_ UsecaseGenerator     = (*LLMAgent)(nil)
	_ DMLGenerator         = (*LLMAgent)(nil)
	_ Reviewer             = (*LLMAgent)(nil)
	_ WebSearcher          = (*LLMAgent)(nil)
)

// Option configures an LLMAgent.
type Option func(*LLMAgent)

// WithModel overrides the client's default model.
func WithModel(model string) Option {
	return func(a *LLMAgent) { a.model = model }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *LLMAgent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewLLMAgent backs every agent capability with client.
func NewLLMAgent(client llm.Client, opts ...Option) *LLMAgent {
	a := &LLMAgent{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Agents returns a with every capability filled in.
func (a *LLMAgent) Agents() Agents {
	return Agents{
		Design:     a,
		Assessor:   a,
		Analyzer:   a,
		Usecases:   a,
		DML:        a,
		Reviewer:   a,
		Researcher: a,
	}
}

// Design implements DesignAgent. vars.UserMessage is sent as a new user
// turn unless the conversation is continuing after tool results or
// already ends with that exact text.
func (a *LLMAgent) Design(ctx context.Context, vars PromptVariables, msgs []message.Message) (message.Message, error) {
	system, err := designSystemPrompt.Render(vars.vars())
	if err != nil {
		return message.Message{}, err
	}

	conversation := msgs
	last, ok := message.Last(msgs)
	continuing := ok && last.Kind == message.KindTool
	repeated := ok && last.Kind == message.KindHuman && last.Content == vars.UserMessage
	if !continuing && !repeated && vars.UserMessage != "" {
		conversation = message.Append(msgs, message.Human(vars.UserMessage))
	}

	resp, err := a.client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     message.ToLLM(conversation),
		Model:        a.model,
		Tools:        []llm.Tool{schemaDesignTool},
	})
	if err != nil {
		return message.Message{}, fmt.Errorf("design agent: %w", err)
	}
	a.logger.Debug("design agent replied", "tool_calls", len(resp.ToolCalls), "output_tokens", resp.Usage.OutputTokens)
	return message.FromLLM(resp), nil
}

// Assess implements PreAssessor.
func (a *LLMAgent) Assess(ctx context.Context, vars PromptVariables) (PreAssessment, error) {
	var out PreAssessment
	if err := a.structured(ctx, preAssessmentPrompt, vars.vars(), &out); err != nil {
		return PreAssessment{}, fmt.Errorf("pre-assessment: %w", err)
	}
	switch out.Decision {
	case DecisionSufficient, DecisionInsufficient, DecisionIrrelevant:
	default:
		return PreAssessment{}, &ferrors.ValidationError{Field: "decision", Message: fmt.Sprintf("unknown decision %q", out.Decision)}
	}
	if out.Response == "" && out.Decision != DecisionSufficient {
		return PreAssessment{}, &ferrors.ValidationError{Field: "response", Message: "required when the request is not sufficient"}
	}
	return out, nil
}

// Analyze implements RequirementsAnalyzer.
func (a *LLMAgent) Analyze(ctx context.Context, vars PromptVariables, previous *artifact.Requirements) (Analysis, error) {
	tv := vars.vars()
	tv["previous_requirements"] = "(none)"
	if previous != nil {
		tv["previous_requirements"] = previous.Summary()
	}

	var out Analysis
	if err := a.structured(ctx, analyzeRequirementsPrompt, tv, &out); err != nil {
		return Analysis{}, fmt.Errorf("requirements analysis: %w", err)
	}
	if out.Requirements.BusinessRequirement == "" {
		return Analysis{}, &ferrors.ValidationError{Field: "requirements.businessRequirement", Message: "required"}
	}
	return out, nil
}

// GenerateUsecases implements UsecaseGenerator.
func (a *LLMAgent) GenerateUsecases(ctx context.Context, vars PromptVariables, reqs artifact.Requirements) ([]artifact.Usecase, error) {
	tv := vars.vars()
	tv["requirements"] = reqs.Summary()

	var out struct {
		Usecases []artifact.Usecase `json:"usecases"`
	}
	if err := a.structured(ctx, usecasePrompt, tv, &out); err != nil {
		return nil, fmt.Errorf("usecase generation: %w", err)
	}
	if len(out.Usecases) == 0 && reqs.FunctionalCount() > 0 {
		return nil, &ferrors.ValidationError{Field: "usecases", Message: "no use cases for non-empty requirements"}
	}
	return out.Usecases, nil
}

// GenerateDML implements DMLGenerator. Statements are matched back to the
// input use cases by title; unknown titles are dropped.
func (a *LLMAgent) GenerateDML(ctx context.Context, vars PromptVariables, usecases []artifact.Usecase) ([]artifact.Usecase, error) {
	var listing strings.Builder
	for _, uc := range usecases {
		fmt.Fprintf(&listing, "- %s: %s\n", uc.Title, uc.Description)
	}
	tv := vars.vars()
	tv["usecases"] = listing.String()

	var out struct {
		Usecases []struct {
			Title         string   `json:"title"`
			DMLStatements []string `json:"dmlStatements"`
		} `json:"usecases"`
	}
	if err := a.structured(ctx, dmlPrompt, tv, &out); err != nil {
		return nil, fmt.Errorf("DML generation: %w", err)
	}

	byTitle := make(map[string][]string, len(out.Usecases))
	for _, uc := range out.Usecases {
		byTitle[uc.Title] = append(byTitle[uc.Title], uc.DMLStatements...)
	}
	result := make([]artifact.Usecase, len(usecases))
	for i, uc := range usecases {
		uc.DMLStatements = byTitle[uc.Title]
		result[i] = uc
	}
	return result, nil
}

// Review implements Reviewer.
func (a *LLMAgent) Review(ctx context.Context, vars PromptVariables, in ReviewInput) (Review, error) {
	tv := vars.vars()
	tv["requirements"] = "(not analyzed)"
	if in.Requirements != nil {
		tv["requirements"] = in.Requirements.Summary()
	}
	tv["ddl"] = in.DDL
	tv["dml_errors"] = in.DMLErrors
	if in.DMLErrors == "" {
		tv["dml_errors"] = "(none)"
	}

	var out Review
	if err := a.structured(ctx, reviewPrompt, tv, &out); err != nil {
		return Review{}, fmt.Errorf("review: %w", err)
	}
	if out.Summary == "" {
		return Review{}, &ferrors.ValidationError{Field: "summary", Message: "required"}
	}
	if !out.IsSatisfied && out.Feedback == "" {
		return Review{}, &ferrors.ValidationError{Field: "feedback", Message: "required when not satisfied"}
	}
	return out, nil
}

// Search implements WebSearcher from the model's own knowledge.
func (a *LLMAgent) Search(ctx context.Context, query string) (string, error) {
	prompt, err := researchPrompt.Render(template.Vars{"user_message": query})
	if err != nil {
		return "", err
	}
	resp, err := a.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Model:    a.model,
	})
	if err != nil {
		return "", fmt.Errorf("research: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// structured renders p, asks for a JSON reply and decodes it into out.
func (a *LLMAgent) structured(ctx context.Context, p *template.Prompt, vars template.Vars, out any) error {
	prompt, err := p.Render(vars)
	if err != nil {
		return err
	}
	resp, err := a.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Model:    a.model,
	})
	if err != nil {
		return err
	}
	if err := decodeJSON(resp.Content, out); err != nil {
		a.logger.Warn("malformed structured reply", "prompt", p.Name(), "error", err)
		return err
	}
	return nil
}
