package flowgraph

import (
	"fmt"
	"slices"
	"strings"
)

// CompiledGraph is the immutable, executable form of a Graph.
// It is safe to share between goroutines; every Run keeps its own state.
type CompiledGraph[S any] struct {
	nodes            map[string]NodeFunc[S]
	order            []string
	edges            map[string][]string
	conditionalEdges map[string]RouterFunc[S]
	routeTargets     map[string][]string
	predecessors     map[string][]string
	entryPoint       string
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph[S]) EntryPoint() string {
	return cg.entryPoint
}

// NodeIDs returns node IDs in registration order.
func (cg *CompiledGraph[S]) NodeIDs() []string {
	return slices.Clone(cg.order)
}

// HasNode reports whether id is a node of the graph.
func (cg *CompiledGraph[S]) HasNode(id string) bool {
	_, ok := cg.nodes[id]
	return ok
}

// Successors returns the simple edge targets of id.
func (cg *CompiledGraph[S]) Successors(id string) []string {
	if id == END {
		return nil
	}
	return cg.edges[id]
}

// RouteTargets returns the declared targets of the conditional edge on id.
func (cg *CompiledGraph[S]) RouteTargets(id string) []string {
	return cg.routeTargets[id]
}

// Predecessors returns the nodes with a simple edge into id.
func (cg *CompiledGraph[S]) Predecessors(id string) []string {
	return cg.predecessors[id]
}

// IsConditional reports whether id has a conditional edge.
func (cg *CompiledGraph[S]) IsConditional(id string) bool {
	_, ok := cg.conditionalEdges[id]
	return ok
}

// Mermaid renders the graph as a Mermaid flowchart. Conditional edges are
// drawn dotted; undeclared router targets are not drawn.
func (cg *CompiledGraph[S]) Mermaid() string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	fmt.Fprintf(&b, "    __start__([start]) --> %s\n", cg.entryPoint)
	for _, id := range cg.order {
		if cg.IsConditional(id) {
			for _, to := range cg.routeTargets[id] {
				fmt.Fprintf(&b, "    %s -.-> %s\n", id, mermaidID(to))
			}
			continue
		}
		for _, to := range cg.edges[id] {
			fmt.Fprintf(&b, "    %s --> %s\n", id, mermaidID(to))
		}
	}
	return b.String()
}

func mermaidID(id string) string {
	if id == END {
		return "__end__([end])"
	}
	return id
}
