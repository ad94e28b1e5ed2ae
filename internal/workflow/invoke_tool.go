package workflow

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/schemaflow/internal/agent"
	"github.com/randalmurphal/schemaflow/internal/message"
	"github.com/randalmurphal/schemaflow/internal/repository"
	"github.com/randalmurphal/schemaflow/internal/schema"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph"
)

const toolSuccessMessage = "Schema successfully updated"

// invokeSchemaDesignTool applies every tool call on the last AI message.
// Each call gets a tool result message. Failures go back to the design
// agent as tool results; only after maxRetries failed rounds is Error set.
func (n *nodes) invokeSchemaDesignTool(ctx flowgraph.Context, s State) (State, error) {
	logger := ctx.Logger()
	last, _ := message.Last(s.Messages)
	calls := last.Calls()

	var (
		results []message.Message
		lastErr error
	)
	for _, call := range calls {
		if call.Name != agent.SchemaDesignToolName {
			lastErr = fmt.Errorf("unknown tool %q", call.Name)
			results = append(results, message.Tool(call.ID, call.Name, "Error: "+lastErr.Error()))
			continue
		}

		next, err := n.applyPatch(ctx, s, call)
		if err != nil {
			lastErr = err
			logger.Warn("schema design tool failed", "tool_call_id", call.ID, "error", err)
			results = append(results, message.Tool(call.ID, call.Name, "Error: "+err.Error()))
			continue
		}
		s = next
		results = append(results, message.Tool(call.ID, call.Name, toolSuccessMessage))
	}
	s.Messages = message.Append(s.Messages, results...)

	if lastErr == nil {
		s.Error = nil
		return s, nil
	}
	s.RetryCount = s.RetryCount.Increment(RetryInvokeSchemaDesignTool)
	if s.RetryCount.Get(RetryInvokeSchemaDesignTool) >= n.maxRetries {
		s.Error = newFailure(NodeInvokeSchemaDesignTool, lastErr)
		return s, nil
	}
	s.Error = nil
	return s, nil
}

func (n *nodes) applyPatch(ctx flowgraph.Context, s State, call message.ToolCall) (State, error) {
	patch, err := schema.ParsePatch(call.Arguments)
	if err != nil {
		return s, err
	}
	version, err := n.repo.CreateVersion(ctx, repository.CreateVersionParams{
		BuildingSchemaID:    s.BuildingSchemaID,
		LatestVersionNumber: s.LatestVersionNumber,
		Patch:               patch.Operations,
	})
	if errors.Is(err, repository.ErrVersionConflict) {
		return s, fmt.Errorf("schema was changed concurrently, reload and retry: %w", err)
	}
	if err != nil {
		return s, err
	}

	s.SchemaData = version.Schema
	s.LatestVersionNumber = version.Number
	_, err = n.repo.CreateTimelineItem(ctx, repository.CreateTimelineItemParams{
		DesignSessionID:  s.DesignSessionID,
		Type:             repository.TimelineSchemaVersion,
		Content:          fmt.Sprintf("Created schema version %d (%s)", version.Number, countLabel(len(patch.Operations), "operation")),
		BuildingSchemaID: s.BuildingSchemaID,
		VersionNumber:    version.Number,
	})
	if err != nil {
		ctx.Logger().Warn("failed to persist schema version item", "version", version.Number, "error", err)
	}
	return s, nil
}
