package workflow

import (
	"github.com/randalmurphal/schemaflow/internal/agent"
	"github.com/randalmurphal/schemaflow/internal/artifact"
	"github.com/randalmurphal/schemaflow/internal/repository"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph"
)

// webSearch collects background research when a researcher is configured.
// It never fails the run.
func (n *nodes) webSearch(ctx flowgraph.Context, s State) (State, error) {
	if n.agents.Researcher == nil {
		return s, nil
	}
	notes, err := n.agents.Researcher.Search(ctx, s.UserInput)
	if err != nil {
		ctx.Logger().Warn("web search failed, continuing without research", "error", err)
		s.RetryCount = s.RetryCount.Increment(RetryWebSearch)
		return s, nil
	}
	s.WebSearchResults = notes
	n.logTimeline(ctx, s, repository.TimelineAssistantLog, "Researched background information for the request.")
	return s, nil
}

// preAssessment decides whether the request is ready for analysis. A
// sufficient request gets its acknowledgement persisted right away; any
// other answer becomes the generated answer for finalize to persist.
func (n *nodes) preAssessment(ctx flowgraph.Context, s State) (State, error) {
	result, err := n.agents.Assessor.Assess(ctx, s.promptVariables(s.UserInput))
	if err != nil {
		ctx.Logger().Warn("pre-assessment failed", "error", err)
		n.logTimeline(ctx, s, repository.TimelineAssistantLog, "Pre-assessment failed, trying a different approach...")
		s.PreAssessmentResult = nil
		return s.fail(NodePreAssessment, err), nil
	}

	for _, line := range result.Reasoning {
		n.logTimeline(ctx, s, repository.TimelineAssistantLog, line)
	}
	if result.Decision == agent.DecisionSufficient {
		if result.Response != "" {
			n.logTimeline(ctx, s, repository.TimelineAssistant, result.Response)
		}
	} else {
		s.GeneratedAnswer = result.Response
	}

	s.PreAssessmentResult = &result
	s.Error = nil
	return s, nil
}

// analyzeRequirements turns the conversation into structured requirements
// and saves them as the session artifact.
func (n *nodes) analyzeRequirements(ctx flowgraph.Context, s State) (State, error) {
	logger := ctx.Logger()
	analysis, err := n.agents.Analyzer.Analyze(ctx, s.promptVariables(s.UserInput), s.AnalyzedRequirements)
	if err != nil {
		logger.Error("requirements analysis failed", "error", err)
		return s.fail(NodeAnalyzeRequirements, err), nil
	}

	for _, line := range analysis.Reasoning {
		n.logTimeline(ctx, s, repository.TimelineAssistantLog, line)
	}
	reqs := analysis.Requirements
	if err := n.repo.UpsertArtifact(ctx, s.DesignSessionID, artifact.Artifact{Requirements: reqs}); err != nil {
		logger.Warn("failed to save requirements artifact", "error", err)
	}
	logger.Info("requirements analyzed", "functional", reqs.FunctionalCount())

	s.AnalyzedRequirements = &reqs
	s.Error = nil
	return s, nil
}
