package flowgraph

import (
	"errors"
	"fmt"
)

// Compilation errors.
var (
	ErrNoEntryPoint  = errors.New("entry point not set")
	ErrEntryNotFound = errors.New("entry point node not found")
	ErrNodeNotFound  = errors.New("node not found")
	ErrNoPathToEnd   = errors.New("no path to END from entry")
)

// Execution errors.
var (
	// ErrRecursionLimit is returned when a run exceeds its transition budget.
	ErrRecursionLimit = errors.New("recursion limit exceeded")

	ErrNilContext           = errors.New("context cannot be nil")
	ErrInvalidRouterResult  = errors.New("router returned empty string")
	ErrRouterTargetNotFound = errors.New("router returned unknown node")
)

// Checkpoint and resume errors.
var (
	ErrRunIDRequired             = errors.New("run ID required for checkpointing")
	ErrDeserializeState          = errors.New("failed to deserialize state")
	ErrNoCheckpoints             = errors.New("no checkpoints found for run")
	ErrInvalidResumeNode         = errors.New("invalid resume node")
	ErrCheckpointVersionMismatch = errors.New("checkpoint version mismatch")
)

// NodeError reports a node that returned an error.
type NodeError struct {
	NodeID string
	// Op is "execute", "lookup" or "routing".
	Op  string
	Err error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// PanicError captures a recovered node panic and its stack.
type PanicError struct {
	NodeID string
	Value  any
	Stack  string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// CancellationError reports that the run's context ended. Cause is
// context.Cause of that context. State holds the last state; type-assert
// it to the graph's state type.
type CancellationError struct {
	NodeID       string
	State        any
	Cause        error
	WasExecuting bool
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	if e.WasExecuting {
		return fmt.Sprintf("cancelled during node %s: %v", e.NodeID, e.Cause)
	}
	return fmt.Sprintf("cancelled before node %s: %v", e.NodeID, e.Cause)
}

// Unwrap returns the underlying error.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// RouterError reports an invalid router result.
type RouterError struct {
	FromNode string
	Returned string
	Err      error
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	return fmt.Sprintf("router from %s returned %q: %v", e.FromNode, e.Returned, e.Err)
}

// Unwrap returns the underlying error.
func (e *RouterError) Unwrap() error {
	return e.Err
}

// RecursionLimitError is returned when a run needs more transitions than
// its recursion limit allows. State is the state at the point of abort.
type RecursionLimitError struct {
	Limit    int
	NextNode string
	State    any
}

// Error implements the error interface.
func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("recursion limit of %d reached without hitting END (next node %s)", e.Limit, e.NextNode)
}

// Unwrap returns the underlying error.
func (e *RecursionLimitError) Unwrap() error {
	return ErrRecursionLimit
}

// CheckpointError wraps a failed checkpoint operation. Only returned when
// checkpoint failures are configured as fatal.
type CheckpointError struct {
	NodeID string
	Op     string
	Err    error
}

// Error implements the error interface.
func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s at node %s: %v", e.Op, e.NodeID, e.Err)
}

// Unwrap returns the underlying error.
func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// LastNode extracts the node an execution error refers to, if any.
func LastNode(err error) string {
	var (
		nodeErr   *NodeError
		panicErr  *PanicError
		limitErr  *RecursionLimitError
		cancelErr *CancellationError
		routerErr *RouterError
	)
	switch {
	case errors.As(err, &nodeErr):
		return nodeErr.NodeID
	case errors.As(err, &panicErr):
		return panicErr.NodeID
	case errors.As(err, &limitErr):
		return limitErr.NextNode
	case errors.As(err, &cancelErr):
		return cancelErr.NodeID
	case errors.As(err, &routerErr):
		return routerErr.FromNode
	}
	return ""
}
