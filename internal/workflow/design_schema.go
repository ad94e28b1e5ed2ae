package workflow

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/schemaflow/internal/message"
	"github.com/randalmurphal/schemaflow/internal/repository"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph"
)

// designPrompt is the user turn for the design agent. A pending DDL
// failure or review feedback is put ahead of the base request, which is
// the requirements summary when analysis ran and the raw input otherwise.
func designPrompt(s State) string {
	base := s.UserInput
	if s.AnalyzedRequirements != nil {
		base = s.AnalyzedRequirements.Summary()
	}
	switch {
	case s.ShouldRetryWithDesignSchema && s.DDLExecutionFailureReason != "":
		return fmt.Sprintf("The following DDL execution failed: %s\nOriginal request: %s\n\n"+
			"Please fix this issue by analyzing the schema and adding any missing constraints, "+
			"primary keys, or other required schema elements to resolve the DDL execution error.",
			s.DDLExecutionFailureReason, base)
	case s.ReviewFeedback != "":
		return fmt.Sprintf("A review of the current design requested changes: %s\nOriginal request: %s\n\n"+
			"Please update the schema to address this feedback.", s.ReviewFeedback, base)
	}
	return base
}

// designSchema reserves a version, then asks the design agent for changes.
// Tool calls in the reply are applied by invokeSchemaDesignTool.
func (n *nodes) designSchema(ctx flowgraph.Context, s State) (State, error) {
	logger := ctx.Logger()
	if s.BuildingSchemaID == "" {
		return s.fail(NodeDesignSchema, errors.New("building schema id is required")), nil
	}

	version, err := n.repo.CreateEmptyPatchVersion(ctx, repository.CreateEmptyPatchVersionParams{
		BuildingSchemaID:    s.BuildingSchemaID,
		LatestVersionNumber: s.LatestVersionNumber,
	})
	if err != nil {
		logger.Error("failed to reserve schema version", "latest_version", s.LatestVersionNumber, "error", err)
		return s.fail(NodeDesignSchema, fmt.Errorf("reserve schema version: %w", err)), nil
	}
	s.LatestVersionNumber = version

	n.logTimeline(ctx, s, repository.TimelineAssistantLog, "Designing the database schema...")

	prompt := designPrompt(s)
	msgs := s.Messages
	last, ok := message.Last(msgs)
	continuing := ok && last.Kind == message.KindTool
	repeated := ok && last.Kind == message.KindHuman && last.Content == prompt
	if !continuing && !repeated {
		msgs = message.Append(msgs, message.Human(prompt))
	}

	reply, err := n.agents.Design.Design(ctx, s.promptVariables(prompt), msgs)
	if err != nil {
		logger.Error("design agent failed", "attempt", s.RetryCount.Get(RetryDesignSchema)+1, "error", err)
		return s.fail(NodeDesignSchema, err), nil
	}

	logger.Info("schema design proposed", "tool_calls", len(reply.Calls()))
	s.Messages = message.Append(msgs, reply)
	s.ShouldRetryWithDesignSchema = false
	s.DDLExecutionFailureReason = ""
	s.ReviewFeedback = ""
	s.Error = nil
	return s, nil
}
