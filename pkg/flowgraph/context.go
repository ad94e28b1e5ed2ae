package flowgraph

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Context is what a node or router receives. It is a context.Context plus
// the run's logger and identifiers.
type Context interface {
	context.Context

	// Logger never returns nil. During execution it carries run_id,
	// node_id and step attributes.
	Logger() *slog.Logger

	// RunID identifies the run. Generated when not configured.
	RunID() string

	// NodeID is the executing node, or "" outside node execution.
	NodeID() string

	// Step is the 1-based index of the current node execution in the run.
	Step() int
}

type executionContext struct {
	context.Context

	logger *slog.Logger
	runID  string
	nodeID string
	step   int
}

func (c *executionContext) Logger() *slog.Logger { return c.logger }
func (c *executionContext) RunID() string        { return c.runID }
func (c *executionContext) NodeID() string       { return c.nodeID }
func (c *executionContext) Step() int            { return c.step }

// ContextOption configures NewContext.
type ContextOption func(*executionContext)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithContextRunID sets the run id. Run options can override it with WithRunID.
func WithContextRunID(id string) ContextOption {
	return func(c *executionContext) {
		c.runID = id
	}
}

// NewContext wraps ctx for graph execution.
//
//	ctx := flowgraph.NewContext(r.Context(),
//	    flowgraph.WithLogger(logger),
//	    flowgraph.WithContextRunID(runID))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   uuid.NewString(),
	}
	for _, opt := range opts {
		opt(ec)
	}
	return ec
}

// forNode derives the context handed to a node. base is the context
// carrying tracing spans, which may differ from the caller's context.
func forNode(parent Context, base context.Context, runID, nodeID string, step int) Context {
	return &executionContext{
		Context: base,
		logger:  parent.Logger().With("run_id", runID, "node_id", nodeID, "step", step),
		runID:   runID,
		nodeID:  nodeID,
		step:    step,
	}
}
