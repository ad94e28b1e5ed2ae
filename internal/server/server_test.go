package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/schemaflow/internal/agent"
	"github.com/randalmurphal/schemaflow/internal/jobs"
	"github.com/randalmurphal/schemaflow/internal/repository"
	"github.com/randalmurphal/schemaflow/internal/sqlexec"
	"github.com/randalmurphal/schemaflow/internal/workflow"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/llm"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/signal"
)

const clarification = "Which tables do you need?"

type testEnv struct {
	srv     *Server
	handler http.Handler
	repo    *repository.SQLiteRepository
	queue   *jobs.LocalQueue[workflow.Params, workflow.State]
	bs      repository.BuildingSchema
}

// newTestEnv wires a server whose model always asks for clarification,
// so every run ends after pre-assessment.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := repository.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	bs, err := repo.CreateBuildingSchema(context.Background(), repository.CreateBuildingSchemaParams{DesignSessionID: "session-1"})
	require.NoError(t, err)

	client := llm.NewMockClient(`{"decision":"insufficient","response":"` + clarification + `"}`)
	agents := agent.NewLLMAgent(client).Agents()
	agents.Researcher = nil

	executor, err := workflow.NewExecutor(workflow.Dependencies{
		Repo:   repo,
		Agents: agents,
		SQL: sqlexec.ExecutorFunc(func(context.Context, string, string) ([]sqlexec.Result, error) {
			return nil, nil
		}),
	})
	require.NoError(t, err)

	queue := jobs.NewLocalQueue(workflow.JobHandler(executor))
	t.Cleanup(func() { _ = queue.Close() })

	srv, err := New(Config{
		Executor: executor,
		Jobs:     queue,
		Repo:     repo,
		Stream:   workflow.StreamOptions{PollInterval: time.Millisecond, PollTimeout: 5 * time.Second, ChunkDelay: -1},
	})
	require.NoError(t, err)
	return &testEnv{srv: srv, handler: srv.Handler(), repo: repo, queue: queue, bs: bs}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) chat() ChatRequest {
	return ChatRequest{
		UserInput:        "Build me something",
		DesignSessionID:  e.bs.DesignSessionID,
		BuildingSchemaID: e.bs.ID,
	}
}

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		require.NotEmpty(t, ev.name, "malformed event block %q", block)
		events = append(events, ev)
	}
	return events
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executor")
	assert.Contains(t, err.Error(), "job queue")
	assert.Contains(t, err.Error(), "repository")
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestChatStream_NodeEvents(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/chat/stream", env.chat())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	var nodes []string
	for _, ev := range events[:len(events)-1] {
		require.Equal(t, "node", ev.name)
		var n nodeEvent
		require.NoError(t, json.Unmarshal([]byte(ev.data), &n))
		nodes = append(nodes, n.Node)
	}
	assert.Equal(t, []string{workflow.NodeWebSearch, workflow.NodePreAssessment, workflow.NodeFinalizeArtifacts}, nodes)

	done := events[len(events)-1]
	require.Equal(t, "done", done.name)
	var result RunResult
	require.NoError(t, json.Unmarshal([]byte(done.data), &result))
	assert.Equal(t, clarification, result.FinalResponse)
	assert.NotEmpty(t, result.WorkflowRunID)
}

func TestChatStream_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat/stream", ChatRequest{DesignSessionID: "session-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "user input is required")

	missing := env.chat()
	missing.BuildingSchemaID = "nope"
	rec = env.do(t, http.MethodPost, "/api/chat/stream", missing)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/chat/stream", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/chat/stream"},
		{http.MethodGet, "/api/chat/replay"},
		{http.MethodPost, "/api/jobs/job-1"},
		{http.MethodPost, "/api/sessions/session-1/timeline"},
		{http.MethodGet, "/api/runs/run-1/signals/cancel"},
		{http.MethodPost, "/api/queries"},
		{http.MethodDelete, "/api/runs/run-1/queries/status"},
		{http.MethodPost, "/healthz"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, nil)
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		})
	}

	rec := env.do(t, http.MethodGet, "/api/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatStream_Background(t *testing.T) {
	env := newTestEnv(t)
	req := env.chat()
	req.Background = true

	rec := env.do(t, http.MethodPost, "/api/chat/stream", req)
	require.Equal(t, http.StatusOK, rec.Code)

	events := parseSSE(t, rec.Body.String())
	var phases []string
	var text strings.Builder
	for _, ev := range events {
		var chunk workflow.Chunk
		switch ev.name {
		case "custom":
			require.NoError(t, json.Unmarshal([]byte(ev.data), &chunk))
			var phase workflow.PhaseEvent
			require.NoError(t, json.Unmarshal([]byte(chunk.Content), &phase))
			phases = append(phases, phase.Phase)
		case "text":
			require.NoError(t, json.Unmarshal([]byte(ev.data), &chunk))
			text.WriteString(chunk.Content)
		}
	}
	assert.Equal(t, []string{
		workflow.PhaseValidationStart, workflow.PhaseValidationResult,
		workflow.PhaseAnswerGenerationStart, workflow.PhaseJobEnqueued,
	}, phases)
	assert.Equal(t, clarification, text.String())
	assert.Equal(t, "done", events[len(events)-1].name)
}

func TestChatStream_DetachedJobCanBePolled(t *testing.T) {
	env := newTestEnv(t)
	req := env.chat()
	req.Background = true
	req.Detach = true

	rec := env.do(t, http.MethodPost, "/api/chat/stream", req)
	events := parseSSE(t, rec.Body.String())
	last := events[len(events)-1]
	require.Equal(t, "custom", last.name)

	var chunk workflow.Chunk
	require.NoError(t, json.Unmarshal([]byte(last.data), &chunk))
	var phase workflow.PhaseEvent
	require.NoError(t, json.Unmarshal([]byte(chunk.Content), &phase))
	require.Equal(t, workflow.PhaseJobEnqueued, phase.Phase)

	var status jobResponse
	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/jobs/"+phase.JobID, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		status = jobResponse{}
		return json.Unmarshal(rec.Body.Bytes(), &status) == nil && status.State.Done()
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, jobs.StateCompleted, status.State)
	require.NotNil(t, status.Result)
	assert.Equal(t, clarification, status.Result.FinalResponse)
}

func TestJobStatus_NotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReplay(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/chat/replay", ReplayRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat/replay", ReplayRequest{DesignSessionID: env.bs.DesignSessionID})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.do(t, http.MethodPost, "/api/chat/stream", env.chat())
	rec = env.do(t, http.MethodPost, "/api/chat/replay", ReplayRequest{DesignSessionID: env.bs.DesignSessionID})
	require.Equal(t, http.StatusOK, rec.Code)

	var result RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, clarification, result.FinalResponse)
}

func TestTimeline(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/chat/stream", env.chat())

	rec := env.do(t, http.MethodGet, "/api/sessions/"+env.bs.DesignSessionID+"/timeline", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var items []repository.TimelineItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	assert.Equal(t, repository.TimelineUser, items[0].Type)
	assert.Equal(t, repository.TimelineAssistant, items[1].Type)
	assert.Equal(t, clarification, items[1].Content)

	rec = env.do(t, http.MethodGet, "/api/sessions/unknown/timeline", nil)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/healthz", nil)
	env.do(t, http.MethodGet, "/api/jobs/missing", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `schemaflow_http_requests_total{endpoint="/healthz",method="GET",status="200"} 1`)
	assert.Contains(t, body, `schemaflow_http_requests_total{endpoint="/api/jobs/{id}",method="GET",status="404"} 1`)
}

func TestRunQueries(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/chat/stream", env.chat())
	events := parseSSE(t, rec.Body.String())
	var result RunResult
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].data), &result))

	rec = env.do(t, http.MethodGet, "/api/runs/"+result.WorkflowRunID+"/queries/"+workflow.QueryStatus, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runId":"`+result.WorkflowRunID+`","query":"status","value":"completed"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/runs/"+result.WorkflowRunID+"/queries/path", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"value":["webSearch","preAssessment","finalizeArtifacts"]`)

	rec = env.do(t, http.MethodGet, "/api/runs/"+result.WorkflowRunID+"/queries/nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/runs/missing/queries/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/queries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	assert.Contains(t, names, workflow.QueryDDL)
}

func TestRunSignals(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/runs/run-1/signals/cancel", SignalRequest{Reason: "stop"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	var sig signal.Signal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sig))
	assert.Equal(t, signal.StatusFailed, sig.Status)
	assert.Contains(t, sig.Error, "not active")

	req := httptest.NewRequest(http.MethodPost, "/api/runs/run-1/signals/pause", nil)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
