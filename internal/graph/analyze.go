package graph

import (
	"sort"

	"github.com/dyluth/flock/pkg/catalog"
)

// Analysis is the dependency view over a set of available plugins.
type Analysis struct {
	// Meta holds After, Before, Requirements, Weight and Category per plugin.
	// Cluster and Heuristic are left empty.
	Meta map[string]catalog.Metadata

	// Order is every plugin ID sorted by descending weight, then ID.
	Order []string

	// Dangling lists dependency edges whose source is not available.
	Dangling []Edge

	// Combined is the required+optional dependency graph.
	Combined *Graph
}

// Analyze builds the required-only and required+optional dependency graphs
// over plugins, rejects cycles in either, and computes the per-plugin
// dependency metadata and topological weight.
//
// Weight is 1 + the maximum weight of the immediate successors, so every
// plugin weighs more than anything depending on it. Isolated plugins are
// boosted above all connected plugins; isolated simple configuration plugins
// are boosted further.
func Analyze(plugins []*catalog.Plugin, categories map[string]catalog.Category) (*Analysis, error) {
	required := New()
	combined := New()
	for _, p := range plugins {
		required.AddNode(p.ID)
		combined.AddNode(p.ID)
	}

	var dangling []Edge
	for _, p := range plugins {
		for _, dep := range p.Dependencies.Required {
			if !combined.Has(dep) {
				dangling = append(dangling, Edge{From: dep, To: p.ID})
				continue
			}
			if err := required.AddEdge(dep, p.ID); err != nil {
				return nil, err
			}
			if err := combined.AddEdge(dep, p.ID); err != nil {
				return nil, err
			}
		}
		for _, dep := range p.Dependencies.Optional {
			if !combined.Has(dep) {
				dangling = append(dangling, Edge{From: dep, To: p.ID})
				continue
			}
			if err := combined.AddEdge(dep, p.ID); err != nil {
				return nil, err
			}
		}
	}

	if _, err := required.TopologicalSort(); err != nil {
		return nil, err
	}
	topo, err := combined.TopologicalSort()
	if err != nil {
		return nil, err
	}

	weights := make(map[string]int, len(topo))
	maxConnected := 0
	for i := len(topo) - 1; i >= 0; i-- {
		node := combined.nodes[topo[i]]
		w := 0
		for _, succ := range node.Dependents {
			if weights[succ] > w {
				w = weights[succ]
			}
		}
		weights[node.ID] = w + 1
		if !isolated(node) && weights[node.ID] > maxConnected {
			maxConnected = weights[node.ID]
		}
	}
	for _, id := range topo {
		node := combined.nodes[id]
		if !isolated(node) {
			continue
		}
		weights[id] = maxConnected + 1
		if categories[id] == catalog.CategorySimpleConfig {
			weights[id] = maxConnected + 2
		}
	}

	meta := make(map[string]catalog.Metadata, len(plugins))
	for _, p := range plugins {
		meta[p.ID] = catalog.Metadata{
			After:        combined.Ancestors(p.ID),
			Before:       combined.Dependents(p.ID),
			Requirements: required.Ancestors(p.ID),
			Weight:       weights[p.ID],
			Category:     categories[p.ID],
		}
	}

	return &Analysis{
		Meta:     meta,
		Order:    Order(meta),
		Dangling: dangling,
		Combined: combined,
	}, nil
}

// Order returns the IDs of meta sorted by (-Weight, ID).
func Order(meta map[string]catalog.Metadata) []string {
	ids := make([]string, 0, len(meta))
	for id := range meta {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		wi, wj := meta[ids[i]].Weight, meta[ids[j]].Weight
		if wi != wj {
			return wi > wj
		}
		return ids[i] < ids[j]
	})
	return ids
}

func isolated(n *Node) bool {
	return len(n.DependsOn) == 0 && len(n.Dependents) == 0
}
