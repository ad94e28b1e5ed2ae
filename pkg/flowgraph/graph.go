package flowgraph

import (
	"fmt"
	"strings"
	"sync"
)

// Graph collects nodes and edges before compilation.
//
// A Graph is not safe for concurrent construction. Build it from one
// goroutine, call Compile, and share the resulting CompiledGraph.
//
// Example:
//
//	graph := flowgraph.NewGraph[State]().
//	    AddNode("designSchema", design).
//	    AddNode("executeDDL", executeDDL).
//	    AddConditionalEdge("designSchema", routeAfterDesign).
//	    AddEdge("executeDDL", flowgraph.END).
//	    SetEntry("designSchema")
type Graph[S any] struct {
	mu               sync.RWMutex
	nodes            map[string]NodeFunc[S]
	order            []string
	edges            map[string][]string
	conditionalEdges map[string]RouterFunc[S]
	routeTargets     map[string][]string
	entryPoint       string
}

// NewGraph returns an empty graph for state type S.
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:            make(map[string]NodeFunc[S]),
		edges:            make(map[string][]string),
		conditionalEdges: make(map[string]RouterFunc[S]),
		routeTargets:     make(map[string][]string),
	}
}

// AddNode registers a node under id.
//
// Programming mistakes panic here rather than at run time: an empty id,
// the reserved END id, ids containing whitespace, a nil fn and duplicate
// ids.
func (g *Graph[S]) AddNode(id string, fn NodeFunc[S]) *Graph[S] {
	if id == "" {
		panic("flowgraph: node ID cannot be empty")
	}
	if lower := strings.ToLower(id); lower == "end" || lower == END {
		panic("flowgraph: node ID cannot be reserved word 'END'")
	}
	if strings.ContainsAny(id, " \t\n\r") {
		panic("flowgraph: node ID cannot contain whitespace")
	}
	if fn == nil {
		panic("flowgraph: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("flowgraph: duplicate node ID: %s", id))
	}
	g.nodes[id] = fn
	g.order = append(g.order, id)
	return g
}

// AddEdge adds an unconditional edge. to may be END.
// References are checked by Compile, so edges can be added in any order.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge makes router decide what runs after from.
//
// targets optionally lists the ids the router can return. They are
// validated by Compile and used for reachability and diagrams; the router
// is still checked at run time. A conditional edge wins over simple edges
// from the same node.
func (g *Graph[S]) AddConditionalEdge(from string, router RouterFunc[S], targets ...string) *Graph[S] {
	if router == nil {
		panic("flowgraph: router function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.conditionalEdges[from] = router
	if len(targets) > 0 {
		g.routeTargets[from] = append([]string(nil), targets...)
	}
	return g
}

// SetEntry sets the first node to execute.
func (g *Graph[S]) SetEntry(id string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entryPoint = id
	return g
}
