// Package clusterer groups migration plugins into migrations.
//
// Compute filters the declared plugins down to the runnable set, orders them
// by dependency, and runs the configured heuristics in order. Every heuristic
// claims some of the plugins nobody has claimed yet; the first claim wins.
// The result is a total partition of the runnable plugins into clusters with
// an execution order that places every plugin after its dependencies.
//
// Invariant violations (a heuristic running before one it depends on, two
// heuristics claiming the same plugin, a plugin left without a cluster) are
// programming errors and panic. A dependency cycle is a configuration error
// and is returned as a *graph.CycleError.
package clusterer

import (
	"fmt"
	"sort"

	"github.com/dyluth/flock/internal/graph"
	"github.com/dyluth/flock/internal/heuristic"
	"github.com/dyluth/flock/internal/logger"
	"github.com/dyluth/flock/pkg/catalog"
)

// RequirementsChecker reports whether a plugin can run in this environment.
type RequirementsChecker interface {
	CheckRequirements(p *catalog.Plugin) error
}

// RowCounter counts the source rows of a plugin.
type RowCounter interface {
	SourceRowCount(p *catalog.Plugin) (int, error)
}

// Clusterer computes migration clusters.
type Clusterer struct {
	Heuristics   []heuristic.Prioritized
	Requirements RequirementsChecker
	Rows         RowCounter
	Logger       *logger.Logger
}

// New returns a Clusterer using the built-in heuristics.
func New(requirements RequirementsChecker, rows RowCounter, log *logger.Logger) *Clusterer {
	return &Clusterer{
		Heuristics:   heuristic.Default(),
		Requirements: requirements,
		Rows:         rows,
		Logger:       log.Component("clusterer"),
	}
}

// Cluster is one group of plugins run as a single migration.
type Cluster struct {
	Label     string
	Heuristic string
	Weight    int
	PluginIDs []string
}

// Result is the immutable outcome of Compute.
type Result struct {
	// Order lists every clustered plugin ID in execution order.
	Order []string
	// Meta is the side table of computed plugin metadata.
	Meta map[string]catalog.Metadata
	// Clusters are ordered by the position of their first plugin.
	Clusters []Cluster

	plugins map[string]*catalog.Plugin
}

// Plugin returns a clustered plugin by ID, or nil.
func (r *Result) Plugin(id string) *catalog.Plugin {
	return r.plugins[id]
}

// Cluster returns the cluster with the given label.
func (r *Result) Cluster(label string) (Cluster, bool) {
	for _, c := range r.Clusters {
		if c.Label == label {
			return c, true
		}
	}
	return Cluster{}, false
}

// Compute clusters plugins.
func (c *Clusterer) Compute(plugins []catalog.Plugin) (*Result, error) {
	validateHeuristics(c.Heuristics)

	available, categories := c.filter(plugins)

	analysis, err := graph.Analyze(available, categories)
	if err != nil {
		return nil, fmt.Errorf("failed to order migration plugins: %w", err)
	}
	for _, edge := range analysis.Dangling {
		c.Logger.Debugf("ignoring dependency of %s on unavailable plugin %s", edge.To, edge.From)
	}

	byID := make(map[string]*catalog.Plugin, len(available))
	for _, p := range available {
		byID[p.ID] = p
	}

	st := &state{
		plugins:  byID,
		analysis: analysis,
		assigned: make(map[string]heuristic.Assignment, len(available)),
		pending:  make(map[string]heuristic.Assignment),
	}

	matched := make([][]string, len(c.Heuristics))
	ran := make(map[string]bool, len(c.Heuristics))
	for i := range c.Heuristics {
		h := &c.Heuristics[i]
		if h.IsDependent() {
			for _, dep := range h.DependsOn {
				if !ran[dep] {
					panic(fmt.Sprintf("heuristic %q: dependency %q has not run yet", h.ID, dep))
				}
			}
		}
		matched[i] = st.run(h)
		ran[h.ID] = true
		c.Logger.Debugf("heuristic %s matched %d plugins", h.ID, len(matched[i]))
	}

	return assemble(c.Heuristics, matched, st, analysis), nil
}

// filter applies overrides, drops unrunnable and empty non-content plugins,
// and returns the remaining plugins with their categories.
func (c *Clusterer) filter(plugins []catalog.Plugin) ([]*catalog.Plugin, map[string]catalog.Category) {
	overriddenBy := make(map[string]string)
	for _, p := range plugins {
		if p.Overrides != "" {
			overriddenBy[p.Overrides] = p.ID
		}
	}

	available := make([]*catalog.Plugin, 0, len(plugins))
	categories := make(map[string]catalog.Category, len(plugins))
	for i := range plugins {
		p := plugins[i]
		if override, ok := overriddenBy[p.ID]; ok {
			c.Logger.Debugf("dropping %s: overridden by %s", p.ID, override)
			continue
		}
		p.Dependencies = catalog.Dependencies{
			Required: repoint(p.Dependencies.Required, overriddenBy),
			Optional: repoint(p.Dependencies.Optional, overriddenBy),
		}

		if c.Requirements != nil {
			if err := c.Requirements.CheckRequirements(&p); err != nil {
				c.Logger.Event("plugin_dropped", map[string]any{"plugin": p.ID, "reason": err.Error()})
				continue
			}
		}

		rows := c.rowCount(&p)
		if rows == 0 && !p.IsContentDestination() {
			c.Logger.Debugf("dropping %s: no source rows", p.ID)
			continue
		}

		categories[p.ID] = catalog.Categorize(&p, rows)
		available = append(available, &p)
	}
	return available, categories
}

// rowCount returns the source row count of p, or -1 when it is unknown.
func (c *Clusterer) rowCount(p *catalog.Plugin) int {
	if p.Source.RowCount != nil {
		return *p.Source.RowCount
	}
	if c.Rows == nil {
		return -1
	}
	n, err := c.Rows.SourceRowCount(p)
	if err != nil {
		c.Logger.Error(err, fmt.Sprintf("failed to count source rows of %s", p.ID))
		return -1
	}
	return n
}

func repoint(deps []string, overriddenBy map[string]string) []string {
	if len(deps) == 0 {
		return nil
	}
	out := make([]string, 0, len(deps))
	seen := make(map[string]bool, len(deps))
	for _, dep := range deps {
		if override, ok := overriddenBy[dep]; ok {
			dep = override
		}
		if !seen[dep] {
			seen[dep] = true
			out = append(out, dep)
		}
	}
	return out
}

func validateHeuristics(hs []heuristic.Prioritized) {
	declared := make(map[string]bool, len(hs))
	for _, h := range hs {
		if declared[h.ID] {
			panic(fmt.Sprintf("heuristic %q is declared twice", h.ID))
		}
		declared[h.ID] = true
	}
	for _, h := range hs {
		for _, dep := range h.DependsOn {
			if !declared[dep] {
				panic(fmt.Sprintf("heuristic %q depends on undeclared heuristic %q", h.ID, dep))
			}
		}
	}
}

// assemble concatenates the matches by ascending heuristic weight, keeping
// declaration order within a weight and match order within a heuristic.
func assemble(hs []heuristic.Prioritized, matched [][]string, st *state, analysis *graph.Analysis) *Result {
	idx := make([]int, len(hs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return hs[idx[a]].Weight < hs[idx[b]].Weight })

	order := make([]string, 0, len(st.plugins))
	for _, i := range idx {
		order = append(order, matched[i]...)
	}

	if len(order) != len(st.plugins) {
		panic(fmt.Sprintf("clustering left %d of %d plugins unclustered", len(st.plugins)-len(order), len(st.plugins)))
	}

	meta := make(map[string]catalog.Metadata, len(order))
	var clusters []Cluster
	position := make(map[string]int)
	for _, id := range order {
		a, ok := st.assigned[id]
		if !ok || a.Cluster == "" {
			panic(fmt.Sprintf("plugin %q has no cluster after clustering", id))
		}
		m := analysis.Meta[id]
		m.Cluster = a.Cluster
		m.Heuristic = a.Heuristic
		meta[id] = m

		pos, ok := position[a.Cluster]
		if !ok {
			pos = len(clusters)
			position[a.Cluster] = pos
			clusters = append(clusters, Cluster{Label: a.Cluster, Heuristic: a.Heuristic, Weight: a.Weight})
		}
		clusters[pos].PluginIDs = append(clusters[pos].PluginIDs, id)
	}

	return &Result{Order: order, Meta: meta, Clusters: clusters, plugins: st.plugins}
}
