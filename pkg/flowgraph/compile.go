package flowgraph

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// Compile validates the graph and freezes it into a CompiledGraph.
// All validation errors are joined into the returned error.
//
// Checks:
//  1. the entry point is set and exists
//  2. every simple edge source and target exists (targets may be END)
//  3. every conditional edge source exists, and declared route targets exist
//  4. END is reachable from the entry point
//
// Nodes that cannot be reached from the entry are logged, not rejected.
func (g *Graph[S]) Compile() (*CompiledGraph[S], error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error

	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, ok := g.nodes[g.entryPoint]; !ok {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	for _, from := range slices.Sorted(maps.Keys(g.edges)) {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		for _, to := range g.edges[from] {
			if !g.isTarget(to) {
				errs = append(errs, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, to))
			}
		}
	}

	for _, from := range slices.Sorted(maps.Keys(g.conditionalEdges)) {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("%w: conditional edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		for _, to := range g.routeTargets[from] {
			if !g.isTarget(to) {
				errs = append(errs, fmt.Errorf("%w: route target '%s' from '%s' does not exist", ErrNodeNotFound, to, from))
			}
		}
	}

	if _, ok := g.nodes[g.entryPoint]; ok && !g.reachable()[END] {
		errs = append(errs, ErrNoPathToEnd)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	g.warnUnreachableNodes()
	return g.freeze(), nil
}

func (g *Graph[S]) isTarget(id string) bool {
	if id == END {
		return true
	}
	_, ok := g.nodes[id]
	return ok
}

// successorsOf returns every id that can follow id. A conditional edge
// without declared targets may lead anywhere, including END.
func (g *Graph[S]) successorsOf(id string) []string {
	if _, ok := g.conditionalEdges[id]; ok {
		if targets, declared := g.routeTargets[id]; declared {
			return targets
		}
		return append(slices.Clone(g.order), END)
	}
	return g.edges[id]
}

// reachable returns the set of ids reachable from the entry point.
func (g *Graph[S]) reachable() map[string]bool {
	seen := map[string]bool{}
	if g.entryPoint == "" {
		return seen
	}

	queue := []string{g.entryPoint}
	seen[g.entryPoint] = true
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == END {
			continue
		}
		for _, next := range g.successorsOf(current) {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

func (g *Graph[S]) warnUnreachableNodes() {
	seen := g.reachable()
	for _, id := range g.order {
		if !seen[id] {
			slog.Warn("node is unreachable from entry", "node_id", id)
		}
	}
}

func (g *Graph[S]) freeze() *CompiledGraph[S] {
	edges := make(map[string][]string, len(g.edges))
	predecessors := make(map[string][]string)
	for from, targets := range g.edges {
		edges[from] = slices.Clone(targets)
		for _, to := range targets {
			if to != END {
				predecessors[to] = append(predecessors[to], from)
			}
		}
	}

	routeTargets := make(map[string][]string, len(g.routeTargets))
	for from, targets := range g.routeTargets {
		routeTargets[from] = slices.Clone(targets)
	}

	return &CompiledGraph[S]{
		nodes:            maps.Clone(g.nodes),
		order:            slices.Clone(g.order),
		edges:            edges,
		conditionalEdges: maps.Clone(g.conditionalEdges),
		routeTargets:     routeTargets,
		predecessors:     predecessors,
		entryPoint:       g.entryPoint,
	}
}
