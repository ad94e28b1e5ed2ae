package flowgraph

import (
	"context"
)

// Counter is a simple state for testing incrementing.
type Counter struct {
	Value int
}

// State records the path a run took.
type State struct {
	Progress []string `json:"progress"`
	Attempts int      `json:"attempts"`
	Done     bool     `json:"done"`
}

func increment(ctx Context, s Counter) (Counter, error) {
	s.Value++
	return s, nil
}

// makeTrackingNode creates a node that records its execution.
func makeTrackingNode(name string) NodeFunc[State] {
	return func(ctx Context, s State) (State, error) {
		progress := append([]string(nil), s.Progress...)
		s.Progress = append(progress, name)
		return s, nil
	}
}

func makeFailingNode(err error) NodeFunc[State] {
	return func(ctx Context, s State) (State, error) {
		return s, err
	}
}

func makePanicNode(value any) NodeFunc[State] {
	return func(ctx Context, s State) (State, error) {
		panic(value)
	}
}

func testCtx() Context {
	return NewContext(context.Background())
}

// retryGraph loops on "attempt" until Attempts reaches limit.
func retryGraph(limit int) *Graph[State] {
	return NewGraph[State]().
		AddNode("attempt", func(ctx Context, s State) (State, error) {
			s.Attempts++
			return s, nil
		}).
		AddNode("done", func(ctx Context, s State) (State, error) {
			s.Done = true
			return s, nil
		}).
		AddConditionalEdge("attempt", func(ctx Context, s State) string {
			if s.Attempts >= limit {
				return "done"
			}
			return "attempt"
		}, "attempt", "done").
		AddEdge("done", END).
		SetEntry("attempt")
}
