package workflow

import "github.com/randalmurphal/schemaflow/pkg/flowgraph"

// DefaultMaxRetries bounds every per-node retry counter.
const DefaultMaxRetries = 3

// GetNextNodeOrEnd is the retry policy shared by every conditional edge.
// With an error recorded it re-runs node until its counter reaches
// maxRetries and then ends the run; without one it continues to next.
// Nodes increment their own counter before returning an error state.
func GetNextNodeOrEnd(s State, node, next string, maxRetries int) string {
	if s.Error == nil {
		return next
	}
	if s.RetryCount.Get(RetryKey(node)) < maxRetries {
		return node
	}
	return flowgraph.END
}
