package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/schemaflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/schemaflow/pkg/flowgraph/observability"
)

// Step is emitted by Stream after each node finishes.
type Step[S any] struct {
	// Index is the 1-based execution count within the run.
	Index int
	// NodeID is the node that just ran.
	NodeID string
	// Next is where the run goes from here, END included.
	Next string
	// State is the state the node returned.
	State S
}

// Run executes the graph from the entry point until END.
//
// On error the returned state is the last state the run produced, so the
// caller can still build a response from it.
//
//	ctx := flowgraph.NewContext(context.Background())
//	final, err := compiled.Run(ctx, initial, flowgraph.WithRecursionLimit(40))
func (cg *CompiledGraph[S]) Run(ctx Context, state S, opts ...RunOption) (S, error) {
	cfg := newRunConfig(opts)
	return cg.execute(ctx, state, cg.entryPoint, &cfg, nil)
}

// Stream executes the graph like Run but yields a Step after every node.
// A failed run yields one final pair carrying the error and the last state.
// Breaking out of the loop stops the run before the next node starts.
//
//	for step, err := range compiled.Stream(ctx, initial) {
//	    if err != nil {
//	        return err
//	    }
//	    log.Printf("%s -> %s", step.NodeID, step.Next)
//	}
func (cg *CompiledGraph[S]) Stream(ctx Context, state S, opts ...RunOption) iter.Seq2[Step[S], error] {
	return func(yield func(Step[S], error) bool) {
		cfg := newRunConfig(opts)
		stopped := false
		last, err := cg.execute(ctx, state, cg.entryPoint, &cfg, func(step Step[S]) bool {
			if !yield(step, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(Step[S]{NodeID: LastNode(err), State: last}, err)
		}
	}
}

func newRunConfig(opts []RunOption) runConfig {
	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// execute is the run loop shared by Run, Stream and Resume. onStep may be
// nil; returning false from it ends the run without error.
func (cg *CompiledGraph[S]) execute(ctx Context, state S, start string, cfg *runConfig, onStep func(Step[S]) bool) (result S, runErr error) {
	if ctx == nil {
		return state, ErrNilContext
	}
	if cfg.checkpointStore != nil && cfg.runID == "" {
		return state, ErrRunIDRequired
	}

	runID := cfg.runID
	if runID == "" {
		runID = ctx.RunID()
	}

	startTime := time.Now()
	observability.LogRunStart(cfg.logger, runID, start)

	var spanCtx context.Context = ctx
	if cfg.tracingEnabled {
		var runSpan trace.Span
		spanCtx, runSpan = cfg.spans.StartRunSpan(ctx, cfg.graphName, runID)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	result, steps, runErr := cg.loop(ctx, spanCtx, runID, state, start, cfg, onStep)

	duration := time.Since(startTime)
	cfg.metrics.RecordGraphRun(ctx, runErr == nil, duration)
	if runErr != nil {
		observability.LogRunError(cfg.logger, runID, runErr, float64(duration.Milliseconds()), LastNode(runErr))
	} else {
		observability.LogRunComplete(cfg.logger, runID, float64(duration.Milliseconds()), steps)
	}
	return result, runErr
}

func (cg *CompiledGraph[S]) loop(ctx Context, spanCtx context.Context, runID string, state S, start string, cfg *runConfig, onStep func(Step[S]) bool) (S, int, error) {
	current := start
	prev := ""
	steps := 0

	for current != END {
		if steps >= cfg.recursionLimit {
			return state, steps, &RecursionLimitError{
				Limit:    cfg.recursionLimit,
				NextNode: current,
				State:    state,
			}
		}
		if ctx.Err() != nil {
			return state, steps, &CancellationError{
				NodeID: current,
				State:  state,
				Cause:  context.Cause(ctx),
			}
		}
		steps++

		nodeSpanCtx := spanCtx
		var nodeSpan trace.Span
		if cfg.tracingEnabled {
			nodeSpanCtx, nodeSpan = cfg.spans.StartNodeSpan(spanCtx, current, steps)
		}
		nodeCtx := forNode(ctx, nodeSpanCtx, runID, current, steps)

		observability.LogNodeStart(cfg.logger, current, steps)
		nodeStart := time.Now()
		next, err := cg.executeNode(nodeCtx, current, state)
		nodeDuration := time.Since(nodeStart)

		cfg.metrics.RecordNodeExecution(nodeSpanCtx, current, nodeDuration, err)
		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(nodeSpan, err)
		}
		if err != nil {
			observability.LogNodeError(cfg.logger, current, err)
			if ctx.Err() != nil {
				return next, steps, &CancellationError{
					NodeID:       current,
					State:        next,
					Cause:        context.Cause(ctx),
					WasExecuting: true,
				}
			}
			return next, steps, err
		}
		observability.LogNodeComplete(cfg.logger, current, float64(nodeDuration.Milliseconds()))
		state = next

		target, err := cg.nextNode(nodeCtx, state, current)
		if err != nil {
			return state, steps, err
		}
		observability.LogTransition(cfg.logger, current, target, cg.IsConditional(current))
		cfg.metrics.RecordTransition(nodeSpanCtx, current, target)

		if cfg.checkpointStore != nil {
			if err := cg.saveCheckpoint(ctx, cfg, current, prev, state, target); err != nil {
				return state, steps, err
			}
		}

		if onStep != nil && !onStep(Step[S]{Index: steps, NodeID: current, Next: target, State: state}) {
			return state, steps, nil
		}

		prev = current
		current = target
	}

	return state, steps, nil
}

// saveCheckpoint stores the state after nodeID. Failures only abort the
// run when configured as fatal.
func (cg *CompiledGraph[S]) saveCheckpoint(ctx context.Context, cfg *runConfig, nodeID, prevNodeID string, state S, next string) error {
	fail := func(op string, err error) error {
		if cfg.checkpointFailureFatal {
			return &CheckpointError{NodeID: nodeID, Op: op, Err: err}
		}
		observability.LogCheckpointError(cfg.logger, nodeID, op, err)
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fail("serialize", err)
	}

	cfg.sequence++
	cp := checkpoint.New(cfg.runID, nodeID, cfg.sequence, data, next).WithPrevNode(prevNodeID)
	if err := cfg.checkpointStore.Save(ctx, cp); err != nil {
		return fail("save", err)
	}

	observability.LogCheckpoint(cfg.logger, nodeID, cfg.sequence, len(data))
	cfg.metrics.RecordCheckpoint(ctx, nodeID, int64(len(data)))
	return nil
}

// executeNode runs one node, converting panics into *PanicError.
func (cg *CompiledGraph[S]) executeNode(ctx Context, nodeID string, state S) (result S, err error) {
	fn, ok := cg.nodes[nodeID]
	if !ok {
		return state, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result = state
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	result, err = fn(ctx, state)
	if err != nil {
		return result, &NodeError{NodeID: nodeID, Op: "execute", Err: err}
	}
	return result, nil
}

// nextNode picks the successor of current. Conditional edges win over
// simple edges; with several simple edges the first one added is taken.
func (cg *CompiledGraph[S]) nextNode(ctx Context, state S, current string) (string, error) {
	if router, ok := cg.conditionalEdges[current]; ok {
		next, err := cg.route(ctx, router, state, current)
		if err != nil {
			return "", err
		}
		if next == "" {
			return "", &RouterError{FromNode: current, Returned: next, Err: ErrInvalidRouterResult}
		}
		if next != END && !cg.HasNode(next) {
			return "", &RouterError{FromNode: current, Returned: next, Err: ErrRouterTargetNotFound}
		}
		return next, nil
	}

	edges := cg.edges[current]
	if len(edges) == 0 {
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    errors.New("no outgoing edge"),
		}
	}
	return edges[0], nil
}

func (cg *CompiledGraph[S]) route(ctx Context, router RouterFunc[S], state S, current string) (next string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{NodeID: current, Value: r, Stack: string(debug.Stack())}
		}
	}()
	return router(ctx, state), nil
}
