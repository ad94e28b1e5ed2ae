package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/randalmurphal/schemaflow/internal/repository"
	"github.com/randalmurphal/schemaflow/internal/schema"
	"github.com/randalmurphal/schemaflow/internal/sqlexec"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph"
)

// executeDDL deparses the schema and runs the DDL. The first failed batch
// sends the failure back to designSchema; a second one marks DDL
// execution as failed for good and lets finalize report it.
func (n *nodes) executeDDL(ctx flowgraph.Context, s State) (State, error) {
	logger := ctx.Logger()

	ddl, err := schema.DeparsePostgres(s.SchemaData)
	if err != nil {
		logger.Warn("DDL generation failed", "error", err)
		s.DDLStatements = schema.DDLGenerationFailed
		s.Error = nil
		return s, nil
	}
	s.DDLStatements = ddl
	logger.Info("DDL generated", "tables", s.SchemaData.TableCount(), "ddl_length", len(ddl))

	var reason string
	results, err := n.sql.Execute(ctx, s.DesignSessionID, ddl)
	if err != nil {
		reason = fmt.Sprintf("DDL could not be executed: %v", err)
	} else {
		n.persistResults(ctx, s, repository.TimelineDDLExecutionResult, results)
		if sqlexec.Failed(results) {
			reason = sqlexec.FailureReason(results)
		}
	}
	s.Error = nil

	if reason == "" {
		s.ShouldRetryWithDesignSchema = false
		s.DDLExecutionFailureReason = ""
		s.DDLExecutionFailed = false
		return s, nil
	}

	if s.RetryCount.Get(RetryDDLExecution) >= 1 {
		logger.Error("DDL execution failed after redesign", "reason", reason)
		s.DDLExecutionFailed = true
		s.ShouldRetryWithDesignSchema = false
		s.DDLExecutionFailureReason = ""
		s.GeneratedAnswer = "The schema was updated, but its DDL still fails to execute after a redesign attempt:\n" + reason
		return s, nil
	}

	logger.Warn("DDL execution failed, redesigning", "reason", reason)
	n.logTimeline(ctx, s, repository.TimelineAssistantLog, "Some DDL statements failed. Redesigning the schema to fix them...")
	s.ShouldRetryWithDesignSchema = true
	s.DDLExecutionFailureReason = reason
	s.RetryCount = s.RetryCount.Increment(RetryDDLExecution)
	return s, nil
}

func (n *nodes) persistResults(ctx flowgraph.Context, s State, typ repository.TimelineItemType, results []sqlexec.Result) {
	content, err := json.Marshal(results)
	if err != nil {
		ctx.Logger().Warn("failed to encode SQL results", "error", err)
		return
	}
	n.logTimeline(ctx, s, typ, string(content))
}
