// Package workflow is the chat-driven schema design pipeline: the state
// threaded through the graph, its nodes and routers, the executor that
// sets up and tracks a run, and the streaming wrapper.
package workflow

import (
	"maps"

	"github.com/randalmurphal/schemaflow/internal/agent"
	"github.com/randalmurphal/schemaflow/internal/artifact"
	"github.com/randalmurphal/schemaflow/internal/message"
	"github.com/randalmurphal/schemaflow/internal/schema"
)

// Node names.
const (
	NodeWebSearch              = "webSearch"
	NodePreAssessment          = "preAssessment"
	NodeAnalyzeRequirements    = "analyzeRequirements"
	NodeDesignSchema           = "designSchema"
	NodeInvokeSchemaDesignTool = "invokeSchemaDesignTool"
	NodeExecuteDDL             = "executeDDL"
	NodeGenerateUsecase        = "generateUsecase"
	NodePrepareDML             = "prepareDML"
	NodeValidateSchema         = "validateSchema"
	NodeReviewDeliverables     = "reviewDeliverables"
	NodeFinalizeArtifacts      = "finalizeArtifacts"
)

// RetryKey names a retry counter. There is one per node plus the DDL
// redesign and review feedback counters.
type RetryKey string

const (
	RetryWebSearch              RetryKey = NodeWebSearch
	RetryPreAssessment          RetryKey = NodePreAssessment
	RetryAnalyzeRequirements    RetryKey = NodeAnalyzeRequirements
	RetryDesignSchema           RetryKey = NodeDesignSchema
	RetryInvokeSchemaDesignTool RetryKey = NodeInvokeSchemaDesignTool
	RetryExecuteDDL             RetryKey = NodeExecuteDDL
	RetryGenerateUsecase        RetryKey = NodeGenerateUsecase
	RetryPrepareDML             RetryKey = NodePrepareDML
	RetryValidateSchema         RetryKey = NodeValidateSchema
	RetryReviewDeliverables     RetryKey = NodeReviewDeliverables
	RetryFinalizeArtifacts      RetryKey = NodeFinalizeArtifacts
	RetryDDLExecution           RetryKey = "ddlExecutionRetry"
	RetryReviewFeedback         RetryKey = "reviewFeedback"
)

// RetryCounts holds the per-key attempt counters. Counters only grow
// during a run.
type RetryCounts map[RetryKey]int

// Get returns the counter for key, zero when unset.
func (c RetryCounts) Get(key RetryKey) int {
	return c[key]
}

// Increment returns a copy with key incremented; c is not modified.
func (c RetryCounts) Increment(key RetryKey) RetryCounts {
	out := make(RetryCounts, len(c)+1)
	maps.Copy(out, c)
	out[key]++
	return out
}

// Failure is the error recorded in State. It survives checkpointing as
// node and message; the original error is kept for errors.Is/As within
// the process that produced it.
type Failure struct {
	Node    string `json:"node"`
	Message string `json:"message"`

	err error
}

func newFailure(node string, err error) *Failure {
	return &Failure{Node: node, Message: err.Error(), err: err}
}

// Error formats the failure with its node.
func (f *Failure) Error() string {
	return f.Message
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error {
	return f.err
}

// State is threaded through every node. Nodes receive it by value and
// return the next value; slices and maps are copied before they change.
type State struct {
	UserInput string            `json:"userInput"`
	Messages  []message.Message `json:"messages"`

	SchemaData schema.Schema `json:"schemaData"`
	RetryCount RetryCounts   `json:"retryCount,omitempty"`
	Error      *Failure      `json:"error,omitempty"`

	DDLStatements string `json:"ddlStatements,omitempty"`
	DMLStatements string `json:"dmlStatements,omitempty"`

	// Set together by a first DDL failure, cleared together by designSchema.
	ShouldRetryWithDesignSchema bool   `json:"shouldRetryWithDesignSchema,omitempty"`
	DDLExecutionFailureReason   string `json:"ddlExecutionFailureReason,omitempty"`
	DDLExecutionFailed          bool   `json:"ddlExecutionFailed,omitempty"`

	AnalyzedRequirements *artifact.Requirements `json:"analyzedRequirements,omitempty"`
	GeneratedUsecases    []artifact.Usecase     `json:"generatedUsecases,omitempty"`
	DMLExecutionErrors   string                 `json:"dmlExecutionErrors,omitempty"`

	PreAssessmentResult *agent.PreAssessment `json:"preAssessmentResult,omitempty"`
	WebSearchResults    string               `json:"webSearchResults,omitempty"`
	// ReviewFeedback is set when review sends the design back for changes.
	ReviewFeedback string `json:"reviewFeedback,omitempty"`

	BuildingSchemaID    string `json:"buildingSchemaId"`
	LatestVersionNumber int    `json:"latestVersionNumber"`
	OrganizationID      string `json:"organizationId,omitempty"`
	UserID              string `json:"userId,omitempty"`
	DesignSessionID     string `json:"designSessionId"`
	WorkflowRunID       string `json:"workflowRunId,omitempty"`

	GeneratedAnswer string `json:"generatedAnswer,omitempty"`
	FinalResponse   string `json:"finalResponse,omitempty"`
}

// fail records err against node and bumps its counter.
func (s State) fail(node string, err error) State {
	s.Error = newFailure(node, err)
	s.RetryCount = s.RetryCount.Increment(RetryKey(node))
	return s
}

// promptVariables builds the agent variables for userMessage.
func (s State) promptVariables(userMessage string) agent.PromptVariables {
	return agent.PromptVariables{
		SchemaText:  s.SchemaData.Text(),
		UserMessage: userMessage,
		ChatHistory: agent.FormatHistory(s.Messages),
		WebResearch: s.WebSearchResults,
	}
}
