// Package heuristic defines the rules that group migration plugins into
// clusters.
//
// A heuristic is a tagged variant over two axes: how it matches plugins
// (Matching) and how it names the cluster of a match (Clustering). The
// clusterer drives heuristics through Matches and ClusterOf, which dispatch on
// those tags; an unknown tag is a programming error and panics.
package heuristic

import (
	"fmt"

	"github.com/dyluth/flock/pkg/catalog"
)

// Matching selects what a heuristic may look at while matching.
type Matching int

const (
	// Independent heuristics see only static plugin attributes and metadata.
	Independent Matching = iota + 1
	// Dependent heuristics also see the clustering state so far, including
	// matches accepted earlier in their own pass.
	Dependent
	// Lifting heuristics are dependent heuristics that additionally walk the
	// full plugin graph.
	Lifting
)

func (m Matching) String() string {
	switch m {
	case Independent:
		return "independent"
	case Dependent:
		return "dependent"
	case Lifting:
		return "lifting"
	default:
		return fmt.Sprintf("matching(%d)", int(m))
	}
}

// Clustering selects how a heuristic names the cluster of a match.
type Clustering int

const (
	// SingleCluster puts every match into Heuristic.Cluster.
	SingleCluster Clustering = iota + 1
	// PerPlugin computes the cluster from the matched plugin alone.
	PerPlugin
	// FromDependencies computes the cluster from the clustering state around
	// the matched plugin.
	FromDependencies
)

func (c Clustering) String() string {
	switch c {
	case SingleCluster:
		return "single"
	case PerPlugin:
		return "per-plugin"
	case FromDependencies:
		return "from-dependencies"
	default:
		return fmt.Sprintf("clustering(%d)", int(c))
	}
}

// Assignment is a cluster claim recorded for a plugin.
type Assignment struct {
	Cluster   string
	Heuristic string
	Weight    int
}

// State is the view of the plugin set a heuristic matches against.
type State interface {
	// Plugin returns an available plugin by ID, or nil.
	Plugin(id string) *catalog.Plugin
	// Meta returns the dependency metadata of an available plugin.
	Meta(id string) catalog.Metadata
	// Assigned returns the cluster claim for id, if any.
	Assigned(id string) (Assignment, bool)
	// Successors returns every transitive dependent of id.
	Successors(id string) []string
}

// Heuristic is one clustering rule.
type Heuristic struct {
	ID         string
	Matching   Matching
	Clustering Clustering
	DependsOn  []string

	// Cluster is the label used by SingleCluster heuristics.
	Cluster string

	Match      func(p *catalog.Plugin, s State) bool
	ClusterFor func(p *catalog.Plugin, s State) string
}

// Prioritized pairs a heuristic with the weight of its clusters in the final
// order. Lower weights run first.
type Prioritized struct {
	Heuristic
	Weight int
}

// Matches reports whether h claims p.
func (h *Heuristic) Matches(p *catalog.Plugin, s State) bool {
	switch h.Matching {
	case Independent:
		return h.Match(p, staticState{s})
	case Dependent, Lifting:
		return h.Match(p, s)
	default:
		panic(fmt.Sprintf("heuristic %q: unknown matching kind %s", h.ID, h.Matching))
	}
}

// ClusterOf returns the cluster label for a plugin h has matched.
func (h *Heuristic) ClusterOf(p *catalog.Plugin, s State) string {
	var label string
	switch h.Clustering {
	case SingleCluster:
		label = h.Cluster
	case PerPlugin:
		label = h.ClusterFor(p, staticState{s})
	case FromDependencies:
		label = h.ClusterFor(p, s)
	default:
		panic(fmt.Sprintf("heuristic %q: unknown clustering kind %s", h.ID, h.Clustering))
	}
	if label == "" {
		panic(fmt.Sprintf("heuristic %q produced an empty cluster for %q", h.ID, p.ID))
	}
	return label
}

// IsDependent reports whether h must run after the heuristics it names.
func (h *Heuristic) IsDependent() bool {
	return h.Matching == Dependent || h.Matching == Lifting
}

// staticState hides the clustering state from independent rules.
type staticState struct {
	State
}

func (staticState) Assigned(string) (Assignment, bool) { return Assignment{}, false }
