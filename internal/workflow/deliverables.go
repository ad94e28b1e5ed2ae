package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/schemaflow/internal/agent"
	"github.com/randalmurphal/schemaflow/internal/artifact"
	"github.com/randalmurphal/schemaflow/internal/repository"
	"github.com/randalmurphal/schemaflow/internal/schema"
	"github.com/randalmurphal/schemaflow/internal/sqlexec"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph"
)

func (n *nodes) generateUsecase(ctx flowgraph.Context, s State) (State, error) {
	if s.AnalyzedRequirements == nil {
		ctx.Logger().Info("no analyzed requirements, skipping use cases")
		s.GeneratedUsecases = nil
		s.Error = nil
		return s, nil
	}

	usecases, err := n.agents.Usecases.GenerateUsecases(ctx, s.promptVariables(s.UserInput), *s.AnalyzedRequirements)
	if err != nil {
		ctx.Logger().Error("use case generation failed", "error", err)
		return s.fail(NodeGenerateUsecase, err), nil
	}

	a := artifact.Artifact{Requirements: *s.AnalyzedRequirements}.WithUsecases(usecases)
	if err := n.repo.UpsertArtifact(ctx, s.DesignSessionID, a); err != nil {
		ctx.Logger().Warn("failed to save use cases", "error", err)
	}
	n.logTimeline(ctx, s, repository.TimelineAssistantLog, fmt.Sprintf("Generated %s.", countLabel(len(usecases), "use case")))

	s.GeneratedUsecases = a.Usecases
	s.Error = nil
	return s, nil
}

// prepareDML has the DML generator fill in statements for every use case
// and joins them into one script.
func (n *nodes) prepareDML(ctx flowgraph.Context, s State) (State, error) {
	if len(s.GeneratedUsecases) == 0 {
		s.DMLStatements = ""
		s.Error = nil
		return s, nil
	}

	usecases, err := n.agents.DML.GenerateDML(ctx, s.promptVariables(s.UserInput), s.GeneratedUsecases)
	if err != nil {
		ctx.Logger().Error("DML generation failed", "error", err)
		return s.fail(NodePrepareDML, err), nil
	}

	var b strings.Builder
	count := 0
	for _, uc := range usecases {
		for _, stmt := range uc.DMLStatements {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			fmt.Fprintf(&b, "-- %s\n%s", uc.Title, stmt)
			if !strings.HasSuffix(stmt, ";") {
				b.WriteString(";")
			}
			b.WriteString("\n")
			count++
		}
	}
	ctx.Logger().Info("DML prepared", "statements", count)

	s.GeneratedUsecases = usecases
	s.DMLStatements = b.String()
	s.Error = nil
	return s, nil
}

// validateSchema runs the DDL and DML together. Failing statements are
// findings for the reviewer, not node errors.
func (n *nodes) validateSchema(ctx flowgraph.Context, s State) (State, error) {
	logger := ctx.Logger()
	if s.DDLStatements == schema.DDLGenerationFailed {
		s.DMLExecutionErrors = "The schema could not be converted to DDL, so it was not validated."
		s.Error = nil
		return s, nil
	}
	if strings.TrimSpace(s.DMLStatements) == "" {
		logger.Info("no DML to validate")
		s.DMLExecutionErrors = ""
		s.Error = nil
		return s, nil
	}

	p := n.startProgress(ctx, s, "Validating the schema with sample data...")
	results, err := n.sql.Execute(ctx, s.DesignSessionID, s.DDLStatements+"\n"+s.DMLStatements)
	if err != nil {
		n.updateProgress(ctx, p, "Schema validation could not run.", 100)
		return s.fail(NodeValidateSchema, fmt.Errorf("validate schema: %w", err)), nil
	}
	n.persistResults(ctx, s, repository.TimelineDMLExecutionResult, results)

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	n.updateProgress(ctx, p, fmt.Sprintf("Validation finished: %d of %d statements succeeded.", len(results)-failed, len(results)), 100)
	logger.Info("schema validated", "statements", len(results), "failed", failed)

	s.DMLExecutionErrors = sqlexec.FailureReason(results)
	s.Error = nil
	return s, nil
}

// reviewDeliverables judges the result. An unsatisfied review sends the
// design back with feedback until the feedback counter is exhausted, after
// which the summary is accepted as is. A malformed review is an error
// and goes through the retry policy on the node's own counter.
func (n *nodes) reviewDeliverables(ctx flowgraph.Context, s State) (State, error) {
	review, err := n.agents.Reviewer.Review(ctx, s.promptVariables(s.UserInput), agent.ReviewInput{
		Requirements: s.AnalyzedRequirements,
		DDL:          s.DDLStatements,
		DMLErrors:    s.DMLExecutionErrors,
	})
	if err != nil {
		ctx.Logger().Error("review failed", "error", err)
		return s.fail(NodeReviewDeliverables, err), nil
	}
	s.Error = nil

	if !review.IsSatisfied && s.RetryCount.Get(RetryReviewFeedback) < n.maxRetries {
		if review.Feedback == "" {
			return s.fail(NodeReviewDeliverables, errors.New("review requested changes without feedback")), nil
		}
		n.logTimeline(ctx, s, repository.TimelineAssistantLog, "Review requested changes: "+review.Feedback)
		s.RetryCount = s.RetryCount.Increment(RetryReviewFeedback)
		s.ReviewFeedback = review.Feedback
		return s, nil
	}

	s.ReviewFeedback = ""
	s.GeneratedAnswer = review.Summary
	return s, nil
}
