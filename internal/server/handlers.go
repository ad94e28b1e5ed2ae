package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/randalmurphal/schemaflow/internal/jobs"
	"github.com/randalmurphal/schemaflow/internal/message"
	"github.com/randalmurphal/schemaflow/internal/repository"
	"github.com/randalmurphal/schemaflow/internal/workflow"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/query"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/signal"
)

const maxBodySize = 1 << 20

// ChatRequest is the body of POST /api/chat/stream.
type ChatRequest struct {
	UserInput        string                 `json:"userInput"`
	DesignSessionID  string                 `json:"designSessionId"`
	BuildingSchemaID string                 `json:"buildingSchemaId"`
	OrganizationID   string                 `json:"organizationId,omitempty"`
	UserID           string                 `json:"userId,omitempty"`
	History          []message.HistoryEntry `json:"history,omitempty"`
	// Background runs the turn as a job and streams its phases and
	// answer instead of per-node progress.
	Background bool `json:"background,omitempty"`
	// Detach ends a background stream once the job is enqueued.
	Detach bool `json:"detach,omitempty"`
}

func (r ChatRequest) params() workflow.Params {
	return workflow.Params{
		UserInput:        r.UserInput,
		DesignSessionID:  r.DesignSessionID,
		BuildingSchemaID: r.BuildingSchemaID,
		OrganizationID:   r.OrganizationID,
		UserID:           r.UserID,
		History:          r.History,
	}
}

type ReplayRequest struct {
	DesignSessionID string `json:"designSessionId"`
}

// RunResult summarizes a finished run for JSON responses.
type RunResult struct {
	WorkflowRunID      string `json:"workflowRunId"`
	FinalResponse      string `json:"finalResponse"`
	Error              string `json:"error,omitempty"`
	LatestVersion      int    `json:"latestVersionNumber"`
	DDLExecutionFailed bool   `json:"ddlExecutionFailed,omitempty"`
}

func runResult(s workflow.State) RunResult {
	r := RunResult{
		WorkflowRunID:      s.WorkflowRunID,
		FinalResponse:      s.FinalResponse,
		LatestVersion:      s.LatestVersionNumber,
		DDLExecutionFailed: s.DDLExecutionFailed,
	}
	if s.Error != nil {
		r.Error = s.Error.Message
	}
	return r
}

type nodeEvent struct {
	Step int    `json:"step"`
	Node string `json:"node"`
	Next string `json:"next"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	logger := s.logger.With("design_session_id", req.DesignSessionID)

	if req.Background {
		s.streamJob(ctx, w, req)
		return
	}

	events, err := s.executor.Stream(ctx, req.params())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, workflow.ErrInvalidParams) || errors.Is(err, repository.ErrNotFound) {
			status = http.StatusBadRequest
		}
		logger.Warn("chat request rejected", "error", err)
		writeJSON(w, status, errorBody{Error: err.Error()})
		return
	}

	ew, ok := newEventWriter(w)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming not supported"})
		return
	}
	s.metrics.streams.Inc()
	defer s.metrics.streams.Dec()

	for ev := range events {
		var err error
		switch ev.Type {
		case workflow.EventNode:
			err = ew.send(string(ev.Type), nodeEvent{Step: ev.Step, Node: ev.Node, Next: ev.Next})
		case workflow.EventError:
			err = ew.send(string(ev.Type), errorBody{Error: ev.Message})
		case workflow.EventDone:
			err = ew.send(string(ev.Type), runResult(ev.State))
		}
		if err != nil {
			logger.Info("client disconnected from chat stream", "error", err)
			return
		}
	}
}

// streamJob relays the chunks of a background run.
func (s *Server) streamJob(ctx context.Context, w http.ResponseWriter, req ChatRequest) {
	opts := s.stream
	opts.DetachAfterEnqueue = req.Detach
	run := s.streaming.Start(ctx, req.params(), opts)

	ew, ok := newEventWriter(w)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming not supported"})
		return
	}
	s.metrics.streams.Inc()
	defer s.metrics.streams.Dec()

	for chunk := range run.Chunks() {
		if err := ew.send(string(chunk.Type), chunk); err != nil {
			return
		}
	}
	if final, err := run.Result(); err == nil && !req.Detach {
		_ = ew.send(string(workflow.EventDone), runResult(final))
	}
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req ReplayRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DesignSessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "designSessionId is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	final, err := s.executor.Replay(ctx, req.DesignSessionID)
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, flowgraph.ErrNoCheckpoints):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case err != nil:
		s.logger.Error("replay failed", "design_session_id", req.DesignSessionID, "error", err)
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, runResult(final))
	}
}

type jobResponse struct {
	ID     string     `json:"id"`
	State  jobs.State `json:"state"`
	Error  string     `json:"error,omitempty"`
	Result *RunResult `json:"result,omitempty"`
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, err := s.jobs.Status(r.Context(), id)
	if errors.Is(err, jobs.ErrJobNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}

	resp := jobResponse{ID: st.ID, State: st.State, Error: st.Error}
	if st.State == jobs.StateCompleted {
		result := runResult(st.Result)
		resp.Result = &result
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	items, err := s.repo.ListTimelineItems(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	if items == nil {
		items = []repository.TimelineItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// SignalRequest is the optional body of POST /api/runs/{id}/signals/{name}.
type SignalRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req SignalRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	sig, err := s.executor.Signal(r.Context(), vars["id"], vars["name"], req.Reason)
	switch {
	case errors.Is(err, workflow.ErrRunNotActive):
		writeJSON(w, http.StatusNotFound, sig)
	case errors.Is(err, signal.ErrNoHandler), errors.Is(err, signal.ErrInvalidSignal):
		writeJSON(w, http.StatusBadRequest, sig)
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, sig)
	default:
		writeJSON(w, http.StatusAccepted, sig)
	}
}

type queryResponse struct {
	RunID string `json:"runId"`
	Query string `json:"query"`
	Value any    `json:"value"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	value, err := s.executor.Query(r.Context(), vars["id"], vars["name"])
	switch {
	case errors.Is(err, query.ErrRunNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, query.ErrUnknownQuery):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, queryResponse{RunID: vars["id"], Query: vars["name"], Value: value})
	}
}

func (s *Server) handleListQueries(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.executor.Queries())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(into); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
