package clusterer

import (
	"fmt"

	"github.com/dyluth/flock/internal/graph"
	"github.com/dyluth/flock/internal/heuristic"
	"github.com/dyluth/flock/pkg/catalog"
)

// state is the clustering state shared by all heuristics of one Compute call.
// Claims of the running heuristic sit in pending until the heuristic finishes.
type state struct {
	plugins  map[string]*catalog.Plugin
	analysis *graph.Analysis
	assigned map[string]heuristic.Assignment
	pending  map[string]heuristic.Assignment
}

func (s *state) Plugin(id string) *catalog.Plugin {
	return s.plugins[id]
}

func (s *state) Meta(id string) catalog.Metadata {
	return s.analysis.Meta[id]
}

func (s *state) Assigned(id string) (heuristic.Assignment, bool) {
	if a, ok := s.assigned[id]; ok {
		return a, true
	}
	a, ok := s.pending[id]
	return a, ok
}

func (s *state) Successors(id string) []string {
	return s.analysis.Combined.Descendants(id)
}

// run matches h against the plugin set and commits its claims.
func (s *state) run(h *heuristic.Prioritized) []string {
	var matches []string

	switch h.Matching {
	case heuristic.Independent:
		for _, id := range s.analysis.Order {
			if h.Matches(s.plugins[id], s) {
				matches = append(matches, id)
			}
		}
		for _, id := range matches {
			s.pending[id] = s.claim(h, id)
		}
	default:
		for _, id := range s.analysis.Order {
			if _, ok := s.assigned[id]; ok {
				continue
			}
			if h.Matches(s.plugins[id], s) {
				matches = append(matches, id)
				s.pending[id] = s.claim(h, id)
			}
		}
	}

	for _, id := range matches {
		if prev, ok := s.assigned[id]; ok {
			panic(fmt.Sprintf("plugin %q claimed by %q is already in cluster %q from %q",
				id, h.ID, prev.Cluster, prev.Heuristic))
		}
		s.assigned[id] = s.pending[id]
		delete(s.pending, id)
	}
	return matches
}

func (s *state) claim(h *heuristic.Prioritized, id string) heuristic.Assignment {
	return heuristic.Assignment{
		Cluster:   h.ClusterOf(s.plugins[id], s),
		Heuristic: h.ID,
		Weight:    h.Weight,
	}
}
