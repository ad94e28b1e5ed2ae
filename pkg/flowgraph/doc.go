/*
Package flowgraph runs typed state through a directed graph of nodes.

# Overview

A graph is a set of nodes, each a function from state to state, joined by
simple edges and by conditional edges whose router inspects the state and
names the next node. Exactly one node runs at a time. A run ends when an
edge leads to END.

	type State struct {
	    Input  string
	    Output string
	}

	func process(ctx flowgraph.Context, s State) (State, error) {
	    s.Output = "Processed: " + s.Input
	    return s, nil
	}

	compiled, err := flowgraph.NewGraph[State]().
	    AddNode("process", process).
	    AddEdge("process", flowgraph.END).
	    SetEntry("process").
	    Compile()
	if err != nil {
	    log.Fatal(err)
	}

	ctx := flowgraph.NewContext(context.Background())
	result, err := compiled.Run(ctx, State{Input: "hello"})

# Conditional Edges and Loops

Routers return a node ID or END. Loops are built by routing back to an
earlier node:

	graph.AddConditionalEdge("executeDDL", func(ctx flowgraph.Context, s State) string {
	    if s.RetryWithDesign {
	        return "designSchema"
	    }
	    return "generateUsecase"
	}, "designSchema", "generateUsecase")

Every node execution counts against the recursion limit (default 25, see
WithRecursionLimit). A run that needs more returns *RecursionLimitError
with the last state attached.

# Streaming

Stream yields a Step after every node. Breaking out of the range loop stops
the run before the next node starts:

	for step, err := range compiled.Stream(ctx, state) {
	    if err != nil {
	        return err
	    }
	    fmt.Println(step.NodeID, "->", step.Next)
	}

# Checkpointing

With a store and a run ID, a checkpoint is saved after every node and the
run can be resumed later:

	store, err := checkpoint.NewSQLiteStore("./checkpoints.db")
	if err != nil {
	    return err
	}
	defer store.Close()

	result, err := compiled.Run(ctx, state,
	    flowgraph.WithCheckpointing(store),
	    flowgraph.WithRunID(runID))

	result, err = compiled.Resume(ctx, store, runID)

# Observability

	result, err := compiled.Run(ctx, state,
	    flowgraph.WithObservabilityLogger(logger),
	    flowgraph.WithMetrics(true),
	    flowgraph.WithTracing(true))

Node loggers carry run_id, node_id and step. Metrics and spans go through
the global OpenTelemetry providers.

# Errors

Node errors are wrapped in *NodeError, panics in *PanicError, bad router
results in *RouterError and context cancellation in *CancellationError.
LastNode extracts the node an error refers to.

# Subpackages

  - checkpoint: checkpoint stores (memory, SQLite)
  - config: loosely typed configuration files
  - errors: error categories and retry with backoff
  - llm: LLM client interface, Anthropic client and mock
  - observability: logging, metrics and tracing helpers
*/
package flowgraph
