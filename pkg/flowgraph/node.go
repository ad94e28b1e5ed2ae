package flowgraph

// END is the terminal node identifier.
// Routers return it (or edges point at it) to stop the run.
const END = "__end__"

// NodeFunc is one unit of work in a graph.
//
// The state is passed by value and the node returns the next state value.
// A node that changes a slice or map inside the state must copy it first,
// so that the state a previous node returned stays untouched.
//
// A non-nil error aborts the run. Expected failures (an LLM call that
// failed, a SQL statement that was rejected) belong in the state instead,
// where routers can see them.
//
// Example:
//
//	func deparse(ctx flowgraph.Context, s State) (State, error) {
//	    ddl, err := schema.DeparsePostgres(s.Schema)
//	    if err != nil {
//	        s.DDL = "-- generation failed"
//	        return s, nil
//	    }
//	    s.DDL = ddl
//	    return s, nil
//	}
type NodeFunc[S any] func(ctx Context, state S) (S, error)

// RouterFunc picks the node that runs after a node with a conditional edge.
//
// It must be a pure function of the state and return either a node ID
// registered on the graph or END. An empty or unknown ID fails the run with
// a RouterError.
//
// Example:
//
//	func afterDesign(ctx flowgraph.Context, s State) string {
//	    if s.HasToolCalls() {
//	        return "invokeTool"
//	    }
//	    return "executeDDL"
//	}
type RouterFunc[S any] func(ctx Context, state S) string
