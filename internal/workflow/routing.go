package workflow

import (
	"github.com/randalmurphal/schemaflow/internal/agent"
	"github.com/randalmurphal/schemaflow/internal/message"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph"
)

// router binds the retry bound into the routing functions.
type router struct {
	maxRetries int
}

func (r router) next(node, onSuccess string) flowgraph.RouterFunc[State] {
	return func(_ flowgraph.Context, s State) string {
		return GetNextNodeOrEnd(s, node, onSuccess, r.maxRetries)
	}
}

func (r router) afterPreAssessment(_ flowgraph.Context, s State) string {
	if s.Error != nil {
		return GetNextNodeOrEnd(s, NodePreAssessment, NodeAnalyzeRequirements, r.maxRetries)
	}
	if s.PreAssessmentResult != nil && s.PreAssessmentResult.Decision == agent.DecisionSufficient {
		return NodeAnalyzeRequirements
	}
	return NodeFinalizeArtifacts
}

// afterDesignSchema sends tool calls to the tool node. HasToolCalls checks
// both the direct field and the provider encoding, so no schema edit is
// dropped because of how the provider returned it.
func (r router) afterDesignSchema(_ flowgraph.Context, s State) string {
	if s.Error != nil {
		return GetNextNodeOrEnd(s, NodeDesignSchema, NodeExecuteDDL, r.maxRetries)
	}
	if last, ok := message.Last(s.Messages); ok && message.HasToolCalls(last) {
		return NodeInvokeSchemaDesignTool
	}
	return NodeExecuteDDL
}

func (r router) afterExecuteDDL(_ flowgraph.Context, s State) string {
	switch {
	case s.ShouldRetryWithDesignSchema && s.DDLExecutionFailureReason != "":
		return NodeDesignSchema
	case s.DDLExecutionFailed:
		return NodeFinalizeArtifacts
	}
	return NodeGenerateUsecase
}

func (r router) afterReview(_ flowgraph.Context, s State) string {
	if s.Error != nil {
		return GetNextNodeOrEnd(s, NodeReviewDeliverables, NodeFinalizeArtifacts, r.maxRetries)
	}
	if s.ReviewFeedback != "" {
		return NodeDesignSchema
	}
	return NodeFinalizeArtifacts
}
