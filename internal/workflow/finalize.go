package workflow

import (
	"github.com/randalmurphal/schemaflow/internal/artifact"
	"github.com/randalmurphal/schemaflow/internal/repository"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph"
)

const (
	processingErrorResponse = "An error occurred during processing."
	noAnswerResponse        = "Sorry, I could not generate an answer. Please try rephrasing your request."
)

// finalizeArtifacts persists exactly one closing timeline item and sets
// FinalResponse. It never returns an error.
func (n *nodes) finalizeArtifacts(ctx flowgraph.Context, s State) (State, error) {
	logger := ctx.Logger()

	var (
		content string
		typ     repository.TimelineItemType
	)
	switch {
	case s.Error != nil:
		content = "Sorry, an error occurred while processing your request: " + s.Error.Message
		typ = repository.TimelineError
	case s.GeneratedAnswer != "":
		content = s.GeneratedAnswer
		typ = repository.TimelineAssistant
	default:
		content = noAnswerResponse
		typ = repository.TimelineError
	}

	if s.AnalyzedRequirements != nil {
		a := artifact.Artifact{Requirements: *s.AnalyzedRequirements}.WithUsecases(s.GeneratedUsecases)
		if err := n.repo.UpsertArtifact(ctx, s.DesignSessionID, a); err != nil {
			logger.Warn("failed to save final artifact", "error", err)
		}
	}

	if _, err := n.repo.CreateTimelineItem(ctx, repository.CreateTimelineItemParams{
		DesignSessionID: s.DesignSessionID,
		Type:            typ,
		Content:         content,
	}); err != nil {
		logger.Error("failed to persist final response", "error", err)
		s.FinalResponse = processingErrorResponse
		s.RetryCount = s.RetryCount.Increment(RetryFinalizeArtifacts)
		return s, nil
	}

	s.FinalResponse = content
	return s, nil
}
