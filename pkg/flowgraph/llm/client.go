// Package llm defines the completion client used by the workflow agents,
// with an Anthropic Messages API implementation and a scriptable mock.
package llm

import (
	"context"
)

// Client sends one completion request. Implementations must be safe for
// concurrent use.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
