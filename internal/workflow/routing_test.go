package workflow

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/randalmurphal/schemaflow/internal/message"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph"
)

func TestGetNextNodeOrEnd(t *testing.T) {
	failed := State{Error: newFailure(NodePrepareDML, errors.New("boom"))}
	tests := []struct {
		name  string
		state State
		want  string
	}{
		{"no error continues", State{}, NodeValidateSchema},
		{"error under bound retries", withCount(failed, RetryPrepareDML, 2), NodePrepareDML},
		{"error at bound ends", withCount(failed, RetryPrepareDML, 3), flowgraph.END},
		{"error past bound ends", withCount(failed, RetryPrepareDML, 9), flowgraph.END},
		{"other counters ignored", withCount(failed, RetryDesignSchema, 3), NodePrepareDML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetNextNodeOrEnd(tt.state, NodePrepareDML, NodeValidateSchema, 3))
		})
	}
}

func withCount(s State, key RetryKey, n int) State {
	s.RetryCount = RetryCounts{key: n}
	return s
}

func TestRetryCounts_IncrementCopies(t *testing.T) {
	c := RetryCounts{RetryDesignSchema: 1}
	next := c.Increment(RetryDesignSchema)

	assert.Equal(t, 1, c.Get(RetryDesignSchema))
	assert.Equal(t, 2, next.Get(RetryDesignSchema))
	assert.Zero(t, RetryCounts(nil).Get(RetryExecuteDDL))
	assert.Equal(t, 1, RetryCounts(nil).Increment(RetryExecuteDDL).Get(RetryExecuteDDL))
}

func TestAfterDesignSchema(t *testing.T) {
	r := router{maxRetries: 3}
	providerEncoded := message.AI("")
	providerEncoded.AdditionalKwargs = map[string]json.RawMessage{
		"tool_calls": json.RawMessage(`[{"id":"call-1","function":{"name":"schemaDesignTool","arguments":"{\"operations\":[]}"}}]`),
	}

	tests := []struct {
		name  string
		state State
		want  string
	}{
		{
			name:  "direct tool calls",
			state: State{Messages: []message.Message{message.AI("", toolCall("call-1", addUsersKeyOp()))}},
			want:  NodeInvokeSchemaDesignTool,
		},
		{
			name:  "provider encoded tool calls",
			state: State{Messages: []message.Message{providerEncoded}},
			want:  NodeInvokeSchemaDesignTool,
		},
		{
			name:  "plain answer",
			state: State{Messages: []message.Message{message.AI("done")}},
			want:  NodeExecuteDDL,
		},
		{
			name:  "tool message last",
			state: State{Messages: []message.Message{message.Tool("call-1", "schemaDesignTool", "ok")}},
			want:  NodeExecuteDDL,
		},
		{
			name:  "no messages",
			state: State{},
			want:  NodeExecuteDDL,
		},
		{
			name:  "error retries",
			state: State{Error: newFailure(NodeDesignSchema, errors.New("boom")), RetryCount: RetryCounts{RetryDesignSchema: 1}},
			want:  NodeDesignSchema,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := r.afterDesignSchema(testContext(), tt.state)
			assert.Equal(t, tt.want, first)
			for range 5 {
				assert.Equal(t, first, r.afterDesignSchema(testContext(), tt.state))
			}
		})
	}
}

func TestAfterExecuteDDL(t *testing.T) {
	r := router{maxRetries: 3}
	assert.Equal(t, NodeDesignSchema, r.afterExecuteDDL(testContext(), State{ShouldRetryWithDesignSchema: true, DDLExecutionFailureReason: "x"}))
	assert.Equal(t, NodeGenerateUsecase, r.afterExecuteDDL(testContext(), State{ShouldRetryWithDesignSchema: true}))
	assert.Equal(t, NodeFinalizeArtifacts, r.afterExecuteDDL(testContext(), State{DDLExecutionFailed: true}))
	assert.Equal(t, NodeGenerateUsecase, r.afterExecuteDDL(testContext(), State{}))
}

func TestBuildGraph(t *testing.T) {
	f := newFixture(t, usersWithoutKey())
	g, err := BuildGraph(f.deps)
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, NodeWebSearch, g.EntryPoint())
	assert.Len(t, g.NodeIDs(), 11)
	assert.ElementsMatch(t,
		[]string{NodeDesignSchema, NodeInvokeSchemaDesignTool, NodeExecuteDDL, flowgraph.END},
		g.RouteTargets(NodeDesignSchema))
	assert.Contains(t, g.Mermaid(), "designSchema -.-> invokeSchemaDesignTool")

	_, err = BuildGraph(Dependencies{})
	assert.Error(t, err)
}
