// Package graph orders migration plugins by their declared dependencies.
package graph

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError reports a dependency cycle. Path starts and ends on the same node.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// Edge points from a dependency to the node that depends on it.
type Edge struct {
	From string
	To   string
}

// Node is a vertex in the dependency graph.
type Node struct {
	ID         string
	DependsOn  []string
	Dependents []string
}

// Graph is a directed graph over string IDs.
type Graph struct {
	nodes map[string]*Node
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// AddNode inserts id. Adding an existing node is a no-op.
func (g *Graph) AddNode(id string) {
	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = &Node{ID: id}
}

// AddEdge records that to depends on from.
func (g *Graph) AddEdge(from, to string) error {
	source, ok := g.nodes[from]
	if !ok {
		return fmt.Errorf("unknown dependency %q", from)
	}
	target, ok := g.nodes[to]
	if !ok {
		return fmt.Errorf("unknown dependency target %q", to)
	}
	for _, existing := range source.Dependents {
		if existing == to {
			return nil
		}
	}
	source.Dependents = append(source.Dependents, to)
	target.DependsOn = append(target.DependsOn, from)
	return nil
}

// Has reports whether id is a node of the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Dependents returns the immediate successors of id, sorted.
func (g *Graph) Dependents(id string) []string {
	node, ok := g.nodes[id]
	if !ok {
		return nil
	}
	out := append([]string(nil), node.Dependents...)
	sort.Strings(out)
	return out
}

// Ancestors returns every transitive predecessor of id, sorted.
func (g *Graph) Ancestors(id string) []string {
	return g.walk(id, func(n *Node) []string { return n.DependsOn })
}

// Descendants returns every transitive successor of id, sorted.
func (g *Graph) Descendants(id string) []string {
	return g.walk(id, func(n *Node) []string { return n.Dependents })
}

func (g *Graph) walk(id string, next func(*Node) []string) []string {
	start, ok := g.nodes[id]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	stack := append([]string(nil), next(start)...)
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[current] {
			continue
		}
		seen[current] = true
		stack = append(stack, next(g.nodes[current])...)
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// TopologicalSort returns every node with dependencies before dependents,
// using Kahn's algorithm with a lexicographic tie-break. A cycle is reported
// as a *CycleError.
func (g *Graph) TopologicalSort() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for id, node := range g.nodes {
		indegree[id] = len(node.DependsOn)
	}

	var ready []string
	for id, degree := range indegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var released []string
		for _, dependent := range g.nodes[id].Dependents {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		if len(released) > 0 {
			ready = append(ready, released...)
			sort.Strings(ready)
		}
	}

	if len(order) != len(g.nodes) {
		return nil, &CycleError{Path: g.findCycle()}
	}
	return order, nil
}

// findCycle returns the nodes of one cycle, walking dependencies depth-first.
func (g *Graph) findCycle() []string {
	visiting := make(map[string]bool, len(g.nodes))
	visited := make(map[string]bool, len(g.nodes))
	var stack []string
	var cycle []string

	var dfs func(string) bool
	dfs = func(id string) bool {
		visiting[id] = true
		stack = append(stack, id)

		deps := append([]string(nil), g.nodes[id].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if visited[dep] {
				continue
			}
			if visiting[dep] {
				idx := indexOf(stack, dep)
				cycle = append([]string{}, stack[idx:]...)
				cycle = append(cycle, dep)
				return true
			}
			if dfs(dep) {
				return true
			}
		}

		visiting[id] = false
		visited[id] = true
		stack = stack[:len(stack)-1]
		return false
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !visited[id] && dfs(id) {
			break
		}
	}
	return cycle
}

func indexOf(slice []string, target string) int {
	for i, v := range slice {
		if v == target {
			return i
		}
	}
	return -1
}
