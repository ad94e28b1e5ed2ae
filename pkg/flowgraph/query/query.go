// Package query answers read-only questions about graph runs.
//
// Queries never touch a running graph. They read the run's latest
// checkpoint, so the answer reflects the last completed node:
//
//	r := query.NewRegistry(store)
//	node, err := r.Execute(ctx, runID, query.QueryCurrentNode)
//
// Graph-specific queries decode the checkpointed state with Decode.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/schemaflow/pkg/flowgraph/checkpoint"
)

var (
	ErrUnknownQuery = errors.New("unknown query")
	ErrRunNotFound  = errors.New("run not found")
)

// Built-in query names.
const (
	// QueryCurrentNode is the node that produced the latest checkpoint.
	QueryCurrentNode = "current_node"
	// QueryNextNode is where the run continues, "__end__" once finished.
	QueryNextNode = "next_node"
	// QueryCheckpoint is the latest Snapshot without its state.
	QueryCheckpoint = "checkpoint"
	// QueryState is the raw checkpointed state.
	QueryState = "state"
	// QueryPath lists the executed nodes in order.
	QueryPath = "path"
)

// Snapshot is a run's latest checkpoint.
type Snapshot struct {
	RunID     string          `json:"runId"`
	NodeID    string          `json:"nodeId"`
	NextNode  string          `json:"nextNode"`
	Sequence  int             `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	State     json.RawMessage `json:"state,omitempty"`
}

// Decode unmarshals the snapshot's state into S.
func Decode[S any](snap Snapshot) (S, error) {
	var s S
	if err := json.Unmarshal(snap.State, &s); err != nil {
		return s, fmt.Errorf("decode state of run %s: %w", snap.RunID, err)
	}
	return s, nil
}

// Handler computes a query result from a snapshot. It must not have side
// effects.
type Handler func(ctx context.Context, snap Snapshot) (any, error)

// Registry holds query handlers and the store they read from.
type Registry struct {
	store checkpoint.Store

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns a registry with the built-in queries registered.
func NewRegistry(store checkpoint.Store) *Registry {
	r := &Registry{store: store, handlers: make(map[string]Handler)}
	r.handlers[QueryCurrentNode] = func(_ context.Context, snap Snapshot) (any, error) {
		return snap.NodeID, nil
	}
	r.handlers[QueryNextNode] = func(_ context.Context, snap Snapshot) (any, error) {
		return snap.NextNode, nil
	}
	r.handlers[QueryCheckpoint] = func(_ context.Context, snap Snapshot) (any, error) {
		snap.State = nil
		return snap, nil
	}
	r.handlers[QueryState] = func(_ context.Context, snap Snapshot) (any, error) {
		return snap.State, nil
	}
	r.handlers[QueryPath] = func(ctx context.Context, snap Snapshot) (any, error) {
		infos, err := store.List(ctx, snap.RunID)
		if err != nil {
			return nil, fmt.Errorf("list checkpoints: %w", err)
		}
		path := make([]string, len(infos))
		for i, info := range infos {
			path[i] = info.NodeID
		}
		return path, nil
	}
	return r
}

// Register adds a query. Built-in names cannot be replaced.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" {
		return errors.New("query name is required")
	}
	if h == nil {
		return errors.New("handler is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler for query %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Names returns every registered query, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Snapshot loads the latest checkpoint of runID.
func (r *Registry) Snapshot(ctx context.Context, runID string) (Snapshot, error) {
	cp, err := r.store.Latest(ctx, runID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return Snapshot{
		RunID:     cp.RunID,
		NodeID:    cp.NodeID,
		NextNode:  cp.NextNode,
		Sequence:  cp.Sequence,
		Timestamp: cp.Timestamp,
		State:     cp.State,
	}, nil
}

// Execute runs the named query against runID.
func (r *Registry) Execute(ctx context.Context, runID, name string) (any, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQuery, name)
	}
	snap, err := r.Snapshot(ctx, runID)
	if err != nil {
		return nil, err
	}
	return h(ctx, snap)
}
