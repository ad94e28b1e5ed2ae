package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/schemaflow/internal/message"
	"github.com/randalmurphal/schemaflow/internal/repository"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/query"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/signal"
)

func TestExecutor_CancelSignalStopsRun(t *testing.T) {
	var (
		e         *Executor
		cancelErr error
	)
	f := newFixture(t, usersWithoutKey(), func() (message.Message, error) {
		cancelErr = e.Cancel(context.Background(), "run-cancel", "user pressed stop")
		return message.AI("Working on it."), nil
	})
	e = newExecutor(t, f)
	p := f.params()
	p.WorkflowRunID = "run-cancel"

	events, err := e.Stream(context.Background(), p)
	require.NoError(t, err)
	var got []Event
	for ev := range events {
		got = append(got, ev)
	}

	require.NoError(t, cancelErr)
	require.GreaterOrEqual(t, len(got), 2)
	errEvent := got[len(got)-2]
	assert.Equal(t, EventError, errEvent.Type)
	assert.Equal(t, "workflow cancelled: cancelled by request: user pressed stop", errEvent.Message)

	final := got[len(got)-1].State
	require.NotNil(t, final.Error)
	assert.ErrorIs(t, final.Error, ErrCancelled)
	assert.Equal(t, 1, f.designer.calls())
	assert.Equal(t, repository.RunError, latestRun(t, f).Status)

	err = e.Cancel(context.Background(), "run-cancel", "")
	assert.ErrorIs(t, err, ErrRunNotActive)
}

func TestExecutor_SignalUnknownName(t *testing.T) {
	f := newFixture(t, usersWithoutKey())
	e := newExecutor(t, f)

	sig, err := e.Signal(context.Background(), "run-1", "pause", "")
	assert.ErrorIs(t, err, signal.ErrNoHandler)
	assert.Equal(t, signal.StatusFailed, sig.Status)
}

func TestExecutor_QueriesFinishedRun(t *testing.T) {
	f := newFixture(t, usersWithoutKey(),
		reply(message.AI("", toolCall("call-1", addTodosOp()))),
		reply(message.AI("Added todos.")),
		reply(message.AI("", toolCall("call-2", addUsersKeyOp()))),
		reply(message.AI("Added the users primary key.")),
	)
	e := newExecutor(t, f)
	p := f.params()
	p.WorkflowRunID = "run-q"

	final, err := e.Run(context.Background(), p)
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name string
		want any
	}{
		{QueryStatus, RunStatusCompleted},
		{QuerySchemaVersion, final.LatestVersionNumber},
		{query.QueryCurrentNode, NodeFinalizeArtifacts},
		{query.QueryNextNode, flowgraph.END},
		{QueryResponse, ResponseReport{FinalResponse: "Added the todos table."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Query(ctx, "run-q", tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := e.Query(ctx, "run-q", QueryDDL)
	require.NoError(t, err)
	ddl := got.(DDLReport)
	assert.False(t, ddl.Failed)
	assert.False(t, ddl.PendingRetry)
	assert.Contains(t, ddl.Statements, `"users_pkey"`)

	got, err = e.Query(ctx, "run-q", QueryRetries)
	require.NoError(t, err)
	assert.Equal(t, 1, got.(RetryCounts).Get(RetryDDLExecution))

	got, err = e.Query(ctx, "run-q", query.QueryPath)
	require.NoError(t, err)
	path := got.([]string)
	assert.Equal(t, NodeWebSearch, path[0])
	assert.Equal(t, 2, countNodes(path, NodeExecuteDDL))
}

func TestExecutor_QueryAbandonedRunIsInterrupted(t *testing.T) {
	f := newFixture(t, usersWithoutKey())
	e := newExecutor(t, f)
	p := f.params()
	p.WorkflowRunID = "run-stop"

	events, err := e.Stream(context.Background(), p)
	require.NoError(t, err)
	for range events {
		break
	}

	got, err := e.Query(context.Background(), "run-stop", QueryStatus)
	require.NoError(t, err)
	assert.Equal(t, RunStatusInterrupted, got)
}

func TestExecutor_QueryErrors(t *testing.T) {
	e := newExecutor(t, newFixture(t, usersWithoutKey()))

	_, err := e.Query(context.Background(), "missing", QueryStatus)
	assert.ErrorIs(t, err, query.ErrRunNotFound)

	_, err = e.Query(context.Background(), "missing", "nope")
	assert.ErrorIs(t, err, query.ErrUnknownQuery)

	assert.Subset(t, e.Queries(), []string{QueryStatus, QueryDDL, query.QueryPath})
}

func countNodes(path []string, node string) int {
	n := 0
	for _, id := range path {
		if id == node {
			n++
		}
	}
	return n
}
