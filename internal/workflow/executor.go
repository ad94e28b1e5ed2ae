package workflow

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/schemaflow/internal/message"
	"github.com/randalmurphal/schemaflow/internal/repository"
	"github.com/randalmurphal/schemaflow/internal/schema"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/query"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/signal"
)

// ErrInvalidParams is wrapped by every Params validation failure.
var ErrInvalidParams = errors.New("invalid workflow params")

var errStreamAbandoned = errors.New("stream consumer stopped before the run finished")

// Params are the caller's inputs for one chat turn.
type Params struct {
	UserInput        string
	DesignSessionID  string
	BuildingSchemaID string
	OrganizationID   string
	UserID           string
	History          []message.HistoryEntry

	// Schema skips loading the building schema. LatestVersionNumber must
	// then be the version Schema corresponds to.
	Schema              *schema.Schema
	LatestVersionNumber int

	// WorkflowRunID is generated when empty.
	WorkflowRunID string
}

func (p Params) validate() error {
	var errs []error
	if p.UserInput == "" {
		errs = append(errs, fmt.Errorf("%w: user input is required", ErrInvalidParams))
	}
	if p.DesignSessionID == "" {
		errs = append(errs, fmt.Errorf("%w: design session id is required", ErrInvalidParams))
	}
	if p.BuildingSchemaID == "" {
		errs = append(errs, fmt.Errorf("%w: building schema id is required", ErrInvalidParams))
	}
	return errors.Join(errs...)
}

// EventType tags an Event.
type EventType string

const (
	// EventNode follows every node execution.
	EventNode EventType = "node"
	// EventError precedes EventDone when the run ended in error.
	EventError EventType = "error"
	// EventDone is always last and carries the final state.
	EventDone EventType = "done"
)

// Event is one item of Executor.Stream.
type Event struct {
	Type    EventType `json:"type"`
	Step    int       `json:"step,omitempty"`
	Node    string    `json:"node,omitempty"`
	Next    string    `json:"next,omitempty"`
	Message string    `json:"message,omitempty"`
	State   State     `json:"-"`
}

// Executor sets up runs from caller params, executes the graph with
// checkpointing and records the outcome.
type Executor struct {
	graph          *flowgraph.CompiledGraph[State]
	nodes          *nodes
	repo           repository.SchemaRepository
	checkpoints    checkpoint.Store
	logger         *slog.Logger
	recursionLimit int
	metrics        *Metrics
	telemetry      bool

	active  *activeRuns
	signals *signal.Dispatcher
	queries *query.Registry
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCheckpointStore sets where run checkpoints go. Default in-memory.
func WithCheckpointStore(store checkpoint.Store) ExecutorOption {
	return func(e *Executor) {
		if store != nil {
			e.checkpoints = store
		}
	}
}

// WithLogger sets the executor and graph logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecursionLimit overrides DefaultRecursionLimit.
func WithRecursionLimit(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.recursionLimit = n
		}
	}
}

// WithMetrics records Prometheus run metrics.
func WithMetrics(m *Metrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithTelemetry turns on OpenTelemetry spans and metrics for graph runs.
func WithTelemetry(enabled bool) ExecutorOption {
	return func(e *Executor) {
		e.telemetry = enabled
	}
}

// NewExecutor compiles the workflow graph over deps. Checkpoints default
// to an in-memory store.
func NewExecutor(deps Dependencies, opts ...ExecutorOption) (*Executor, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	n := newNodes(deps)
	graph, err := buildGraph(n)
	if err != nil {
		return nil, err
	}
	e := &Executor{
		graph:          graph,
		nodes:          n,
		repo:           deps.Repo,
		checkpoints:    checkpoint.NewMemoryStore(),
		logger:         slog.Default(),
		recursionLimit: DefaultRecursionLimit,
		active:         newActiveRuns(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.signals = signal.NewDispatcher(e.logger)
	e.queries = query.NewRegistry(e.checkpoints)
	if err := errors.Join(e.registerSignals(), e.registerQueries()); err != nil {
		return nil, err
	}
	return e, nil
}

// Graph returns the compiled workflow graph.
func (e *Executor) Graph() *flowgraph.CompiledGraph[State] {
	return e.graph
}

// Run executes one chat turn. The error is only for setup failures; a
// run that fails inside the graph still returns a state with a final
// response and Error set.
func (e *Executor) Run(ctx context.Context, p Params) (State, error) {
	events, err := e.Stream(ctx, p)
	if err != nil {
		return State{}, err
	}
	var final State
	for ev := range events {
		if ev.Type == EventDone {
			final = ev.State
		}
	}
	return final, nil
}

// Stream sets the run up immediately and returns its events. Iteration
// executes the graph. Stopping early ends the run after the current node
// and records it as failed.
func (e *Executor) Stream(ctx context.Context, p Params) (iter.Seq[Event], error) {
	s, err := e.prepare(ctx, p)
	if err != nil {
		return nil, err
	}
	return e.events(ctx, s), nil
}

func (e *Executor) events(ctx context.Context, initial State) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		started := time.Now()
		runID := initial.WorkflowRunID
		runCtx, release := e.active.track(ctx, runID)
		fctx := e.graphContext(runCtx, runID)

		last := initial
		var runErr error
		stopped := false
		for step, err := range e.graph.Stream(fctx, initial, e.runOptions(runID)...) {
			if err != nil {
				last = step.State
				runErr = err
				break
			}
			last = step.State
			if !yield(Event{Type: EventNode, Step: step.Index, Node: step.NodeID, Next: step.Next, State: step.State}) {
				stopped = true
				runErr = errStreamAbandoned
				break
			}
		}

		release()
		final := e.finish(ctx, runID, last, runErr, started)
		if stopped {
			return
		}
		if final.Error != nil {
			msg := final.Error.Message
			var cancelled *flowgraph.CancellationError
			if errors.As(runErr, &cancelled) {
				msg = "workflow cancelled: " + cancelled.Cause.Error()
			}
			if !yield(Event{Type: EventError, Node: final.Error.Node, Message: msg, State: final}) {
				return
			}
		}
		yield(Event{Type: EventDone, Message: final.FinalResponse, State: final})
	}
}

// Replay resumes the latest workflow run of a design session from its
// last checkpoint.
func (e *Executor) Replay(ctx context.Context, designSessionID string) (State, error) {
	run, err := e.repo.LatestWorkflowRun(ctx, designSessionID)
	if err != nil {
		return State{}, fmt.Errorf("find workflow run: %w", err)
	}

	started := time.Now()
	runCtx, release := e.active.track(ctx, run.ID)
	final, err := e.graph.Resume(e.graphContext(runCtx, run.ID), e.checkpoints, run.ID,
		flowgraph.WithResumeRunOptions(e.runOptions(run.ID)...))
	release()
	switch {
	case errors.Is(err, flowgraph.ErrNoCheckpoints),
		errors.Is(err, flowgraph.ErrCheckpointVersionMismatch),
		errors.Is(err, flowgraph.ErrDeserializeState),
		errors.Is(err, flowgraph.ErrInvalidResumeNode):
		return State{}, fmt.Errorf("replay run %s: %w", run.ID, err)
	}
	e.logger.Info("workflow run replayed", "run_id", run.ID, "design_session_id", designSessionID)
	return e.finish(ctx, run.ID, final, err, started), nil
}

func (e *Executor) graphContext(ctx context.Context, runID string) flowgraph.Context {
	return flowgraph.NewContext(ctx,
		flowgraph.WithLogger(e.logger),
		flowgraph.WithContextRunID(runID))
}

func (e *Executor) runOptions(runID string) []flowgraph.RunOption {
	return []flowgraph.RunOption{
		flowgraph.WithRunID(runID),
		flowgraph.WithCheckpointing(e.checkpoints),
		flowgraph.WithRecursionLimit(e.recursionLimit),
		flowgraph.WithObservabilityLogger(e.logger),
		flowgraph.WithMetrics(e.telemetry),
		flowgraph.WithTracing(e.telemetry),
		flowgraph.WithGraphName("schemaflow"),
	}
}

// prepare builds the initial state and records the run and the user's
// message.
func (e *Executor) prepare(ctx context.Context, p Params) (State, error) {
	if err := p.validate(); err != nil {
		return State{}, err
	}
	runID := p.WorkflowRunID
	if runID == "" {
		runID = uuid.NewString()
	}

	s := State{
		UserInput:           p.UserInput,
		Messages:            message.Append(message.FromHistory(p.History), message.Human(p.UserInput)),
		RetryCount:          RetryCounts{},
		BuildingSchemaID:    p.BuildingSchemaID,
		LatestVersionNumber: p.LatestVersionNumber,
		OrganizationID:      p.OrganizationID,
		UserID:              p.UserID,
		DesignSessionID:     p.DesignSessionID,
		WorkflowRunID:       runID,
	}
	if p.Schema != nil {
		s.SchemaData = p.Schema.Clone()
	} else {
		bs, err := e.repo.GetSchema(ctx, p.BuildingSchemaID)
		if err != nil {
			return State{}, fmt.Errorf("load building schema: %w", err)
		}
		s.SchemaData = bs.Schema
		s.LatestVersionNumber = bs.LatestVersionNumber
		if s.OrganizationID == "" {
			s.OrganizationID = bs.OrganizationID
		}
	}

	if _, err := e.repo.CreateWorkflowRun(ctx, p.DesignSessionID, runID); err != nil {
		return State{}, fmt.Errorf("create workflow run: %w", err)
	}
	if _, err := e.repo.CreateTimelineItem(ctx, repository.CreateTimelineItemParams{
		DesignSessionID: p.DesignSessionID,
		Type:            repository.TimelineUser,
		Content:         p.UserInput,
	}); err != nil {
		e.logger.Warn("failed to persist user message", "run_id", runID, "error", err)
	}

	a, err := e.repo.GetArtifact(ctx, p.DesignSessionID)
	switch {
	case err == nil:
		reqs := a.Requirements
		s.AnalyzedRequirements = &reqs
	case errors.Is(err, repository.ErrNotFound):
	default:
		e.logger.Warn("failed to load artifact", "run_id", runID, "error", err)
	}
	return s, nil
}

// finish turns a fatal graph error into an error state, makes sure the
// state went through finalize and records the run status.
func (e *Executor) finish(ctx context.Context, runID string, last State, runErr error, started time.Time) State {
	s := last
	if runErr != nil {
		if recovered, ok := stateFrom(runErr); ok {
			s = recovered
		}
		node := flowgraph.LastNode(runErr)
		if node == "" {
			node = "workflow"
		}
		e.logger.Error("workflow run failed", "run_id", runID, "node_id", node, "error", runErr)
		s.Error = newFailure(node, runErr)
		s.FinalResponse = ""
	}

	// Status and the closing timeline item are written even when the
	// caller's context is already cancelled.
	detached := context.WithoutCancel(ctx)
	if s.FinalResponse == "" {
		fctx := flowgraph.NewContext(detached,
			flowgraph.WithLogger(e.logger.With("run_id", runID, "node_id", NodeFinalizeArtifacts)),
			flowgraph.WithContextRunID(runID))
		s, _ = e.nodes.finalizeArtifacts(fctx, s)
	}

	status := repository.RunSuccess
	if s.Error != nil {
		status = repository.RunError
	}
	if err := e.repo.UpdateWorkflowRunStatus(detached, runID, status); err != nil {
		e.logger.Warn("failed to update workflow run status", "run_id", runID, "status", status, "error", err)
	}
	e.metrics.observeRun(status, time.Since(started), s)
	return s
}

// stateFrom extracts the state a fatal graph error carries.
func stateFrom(err error) (State, bool) {
	var (
		limitErr  *flowgraph.RecursionLimitError
		cancelErr *flowgraph.CancellationError
	)
	switch {
	case errors.As(err, &limitErr):
		s, ok := limitErr.State.(State)
		return s, ok
	case errors.As(err, &cancelErr):
		s, ok := cancelErr.State.(State)
		return s, ok
	}
	return State{}, false
}
