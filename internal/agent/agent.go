// Package agent holds the LLM-backed capabilities the workflow nodes call:
// schema design, pre-assessment, requirements analysis, use case and DML
// generation, deliverable review and research.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/randalmurphal/schemaflow/internal/artifact"
	"github.com/randalmurphal/schemaflow/internal/message"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/template"
)

// SchemaDesignToolName is the tool the design agent calls with a patch.
const SchemaDesignToolName = "schemaDesignTool"

// PromptVariables are substituted into every agent prompt.
type PromptVariables struct {
	SchemaText  string
	UserMessage string
	ChatHistory string
	// WebResearch is optional background from the web search node.
	WebResearch string
}

func (v PromptVariables) vars() template.Vars {
	research := v.WebResearch
	if research == "" {
		research = "(none)"
	}
	history := v.ChatHistory
	if history == "" {
		history = "(no previous conversation)"
	}
	return template.Vars{
		"schema_text":  v.SchemaText,
		"user_message": v.UserMessage,
		"chat_history": history,
		"web_research": research,
	}
}

// FormatHistory renders messages as "Role: content" lines. Tool results
// are left out.
func FormatHistory(msgs []message.Message) string {
	var lines []string
	for _, m := range msgs {
		switch m.Kind {
		case message.KindHuman:
			lines = append(lines, "User: "+m.Content)
		case message.KindAI:
			if m.Content != "" {
				lines = append(lines, "Assistant: "+m.Content)
			}
		case message.KindTool:
		}
	}
	return strings.Join(lines, "\n")
}

// DesignAgent proposes schema changes. The returned AI message may carry
// schemaDesignTool calls.
type DesignAgent interface {
	Design(ctx context.Context, vars PromptVariables, msgs []message.Message) (message.Message, error)
}

// Decision is the pre-assessment verdict.
type Decision string

const (
	// DecisionSufficient means there is enough to analyze requirements.
	DecisionSufficient Decision = "sufficient"
	// DecisionInsufficient means the user must clarify first.
	DecisionInsufficient Decision = "insufficient"
	// DecisionIrrelevant covers greetings and off-topic requests.
	DecisionIrrelevant Decision = "irrelevant"
)

// PreAssessment is the structured pre-assessment result.
type PreAssessment struct {
	Decision  Decision `json:"decision"`
	Reasoning []string `json:"reasoning,omitempty"`
	Response  string   `json:"response"`
}

type PreAssessor interface {
	Assess(ctx context.Context, vars PromptVariables) (PreAssessment, error)
}

// Analysis is the requirements analyzer output.
type Analysis struct {
	Requirements artifact.Requirements `json:"requirements"`
	Reasoning    []string              `json:"reasoning,omitempty"`
}

// RequirementsAnalyzer turns the conversation into structured
// requirements. previous is the artifact from an earlier run, or nil.
type RequirementsAnalyzer interface {
	Analyze(ctx context.Context, vars PromptVariables, previous *artifact.Requirements) (Analysis, error)
}

type UsecaseGenerator interface {
	GenerateUsecases(ctx context.Context, vars PromptVariables, reqs artifact.Requirements) ([]artifact.Usecase, error)
}

// DMLGenerator fills DMLStatements on each use case.
type DMLGenerator interface {
	GenerateDML(ctx context.Context, vars PromptVariables, usecases []artifact.Usecase) ([]artifact.Usecase, error)
}

// ReviewInput is what the reviewer judges.
type ReviewInput struct {
	Requirements *artifact.Requirements
	DDL          string
	DMLErrors    string
}

// Review is the reviewer's verdict.
type Review struct {
	IsSatisfied bool   `json:"isSatisfied"`
	Feedback    string `json:"feedback"`
	Summary     string `json:"summary"`
}

type Reviewer interface {
	Review(ctx context.Context, vars PromptVariables, in ReviewInput) (Review, error)
}

// WebSearcher researches a request and returns notes for later prompts.
type WebSearcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Agents bundles every capability. Nil fields are allowed only for
// optional capabilities (WebSearcher).
type Agents struct {
	Design     DesignAgent
	Assessor   PreAssessor
	Analyzer   RequirementsAnalyzer
	Usecases   UsecaseGenerator
	DML        DMLGenerator
	Reviewer   Reviewer
	Researcher WebSearcher
}

// Validate reports the first missing required capability.
func (a Agents) Validate() error {
	switch {
	case a.Design == nil:
		return fmt.Errorf("agent: design agent is required")
	case a.Assessor == nil:
		return fmt.Errorf("agent: pre-assessor is required")
	case a.Analyzer == nil:
		return fmt.Errorf("agent: requirements analyzer is required")
	case a.Usecases == nil:
		return fmt.Errorf("agent: usecase generator is required")
	case a.DML == nil:
		return fmt.Errorf("agent: DML generator is required")
	case a.Reviewer == nil:
		return fmt.Errorf("agent: reviewer is required")
	}
	return nil
}
