package flowgraph

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/randalmurphal/schemaflow/pkg/flowgraph/checkpoint"
)

// Resume continues a run from its latest checkpoint in store. Execution
// starts at the node the checkpointed node routed to, or at the
// checkpointed node itself with WithReplayNode. A run whose latest
// checkpoint routed to END returns the checkpointed state unchanged.
//
// New checkpoints continue the run's sequence.
//
//	final, err := compiled.Resume(ctx, store, runID,
//	    flowgraph.WithResumeRunOptions(flowgraph.WithRecursionLimit(40)))
func (cg *CompiledGraph[S]) Resume(ctx Context, store checkpoint.Store, runID string, opts ...ResumeOption) (S, error) {
	var zero S
	if ctx == nil {
		return zero, ErrNilContext
	}
	if runID == "" {
		return zero, ErrRunIDRequired
	}

	var rc resumeConfig
	for _, opt := range opts {
		opt(&rc)
	}

	cp, err := store.Latest(ctx, runID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return zero, fmt.Errorf("%w: %s", ErrNoCheckpoints, runID)
	}
	if err != nil {
		return zero, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.Version != checkpoint.Version {
		return zero, fmt.Errorf("%w: got %d, expected %d",
			ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version)
	}

	var state S
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	start := cp.NextNode
	if rc.replayNode {
		start = cp.NodeID
	}
	if start == END {
		return state, nil
	}
	if !cg.HasNode(start) {
		return zero, fmt.Errorf("%w: %s", ErrInvalidResumeNode, start)
	}

	cfg := newRunConfig(rc.runOpts)
	cfg.checkpointStore = store
	cfg.runID = runID
	cfg.sequence = cp.Sequence

	return cg.execute(ctx, state, start, &cfg, nil)
}
