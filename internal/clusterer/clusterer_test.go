package clusterer

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/flock/internal/graph"
	"github.com/dyluth/flock/internal/heuristic"
	"github.com/dyluth/flock/pkg/catalog"
)

func rows(n int) *int { return &n }

func plugin(id, label, destination string, required []string, optional ...string) catalog.Plugin {
	return catalog.Plugin{
		ID:           id,
		Label:        label,
		Source:       catalog.Source{Plugin: id, RowCount: rows(5)},
		Destination:  catalog.Destination{Plugin: destination},
		Dependencies: catalog.Dependencies{Required: required, Optional: optional},
	}
}

type rejectChecker map[string]bool

func (r rejectChecker) CheckRequirements(p *catalog.Plugin) error {
	if r[p.ID] {
		return errors.New("source module disabled")
	}
	return nil
}

// drupalSite is a small but representative plugin set.
func drupalSite() []catalog.Plugin {
	return []catalog.Plugin{
		plugin("d7_language_types", "Language types", "config", nil),
		plugin("d7_language_negotiation", "Language negotiation", "config", []string{"d7_language_types"}),
		plugin("d7_field:node", "Field storage (node)", "entity:field_storage_config", nil),
		plugin("d7_view_modes:node", "View modes (node)", "entity:entity_view_mode", nil),
		plugin("d7_user_role", "User roles", "entity:user_role", nil),
		plugin("d7_user", "User accounts", "entity:user", []string{"d7_user_role"}),
		plugin("d7_file", "Public files", "entity:file", nil),
		plugin("d7_filter_format", "Text formats", "entity:filter_format", []string{"d7_user_role"}),
		plugin("d7_node_type:article", "Content type (Article)", "entity:node_type", nil),
		plugin("d7_node_type:page", "Content type (Page)", "entity:node_type", nil),
		plugin("d7_field_instance:node:article", "Field instances (Article)", "entity:field_config",
			[]string{"d7_node_type:article", "d7_field:node"}),
		plugin("d7_field_formatter_settings:node:article", "Displays (Article)", "entity:entity_view_display",
			[]string{"d7_field_instance:node:article", "d7_view_modes:node"}),
		plugin("d7_node:article", "Nodes (Article)", "entity:node",
			[]string{"d7_node_type:article", "d7_user", "d7_filter_format"}, "d7_field_instance:node:article", "d7_file"),
		plugin("d7_node:page", "Nodes (Page)", "entity:node",
			[]string{"d7_node_type:page", "d7_user", "d7_filter_format"}),
		plugin("d7_comment:article", "Comments (Article)", "entity:comment", []string{"d7_node:article", "d7_user"}),
		plugin("d7_menu_links", "Menu links", "entity:menu_link_content", nil, "d7_node:page"),
		plugin("d7_url_alias", "URL aliases", "path_alias", nil, "d7_node:article", "d7_node:page"),
		plugin("d7_system_site", "Site settings", "config", nil),
	}
}

func assertTotalPartition(t *testing.T, input []catalog.Plugin, result *Result) {
	t.Helper()
	require.Len(t, result.Order, len(input))

	seen := make(map[string]bool)
	for _, id := range result.Order {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
		assert.NotEmpty(t, result.Meta[id].Cluster, "%s has no cluster", id)
	}
	for _, p := range input {
		assert.True(t, seen[p.ID], "%s missing from output", p.ID)
	}

	inClusters := 0
	for _, c := range result.Clusters {
		inClusters += len(c.PluginIDs)
	}
	assert.Equal(t, len(input), inClusters)
}

func assertDependencyOrder(t *testing.T, result *Result) {
	t.Helper()
	pos := make(map[string]int, len(result.Order))
	for i, id := range result.Order {
		pos[id] = i
	}
	for _, id := range result.Order {
		for _, pred := range result.Meta[id].After {
			assert.Less(t, pos[pred], pos[id], "%s must run before %s", pred, id)
		}
	}
}

func TestArticleScenario(t *testing.T) {
	t.Parallel()

	article := heuristic.Prioritized{Weight: 1, Heuristic: heuristic.Heuristic{
		ID:         "article",
		Matching:   heuristic.Independent,
		Clustering: heuristic.SingleCluster,
		Cluster:    "Article",
		Match:      func(*catalog.Plugin, heuristic.State) bool { return true },
	}}
	c := &Clusterer{Heuristics: []heuristic.Prioritized{article}}

	result, err := c.Compute([]catalog.Plugin{
		plugin("d7_field_instance:node:article", "Field instances", "entity:field_config", []string{"d7_node_type:article"}),
		plugin("d7_node_type:article", "Content type", "entity:node_type", nil),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"d7_node_type:article", "d7_field_instance:node:article"}, result.Order)
	assert.Equal(t, "Article", result.Meta["d7_node_type:article"].Cluster)
	assert.Equal(t, "Article", result.Meta["d7_field_instance:node:article"].Cluster)
	require.Len(t, result.Clusters, 1)
	assert.Equal(t, result.Order, result.Clusters[0].PluginIDs)
}

func TestDefaultHeuristicsOnDrupalSite(t *testing.T) {
	t.Parallel()

	input := drupalSite()
	result, err := New(nil, nil, nil).Compute(input)
	require.NoError(t, err)

	assertTotalPartition(t, input, result)
	assertDependencyOrder(t, result)

	expected := map[string]string{
		"d7_language_types":                        "Language settings",
		"d7_language_negotiation":                  "Language settings",
		"d7_field:node":                            "Shared structure for node",
		"d7_view_modes:node":                       "Shared structure for node",
		"d7_user":                                  "User accounts",
		"d7_file":                                  "Public files",
		"d7_node:article":                          "Article",
		"d7_node:page":                             "Page",
		"d7_comment:article":                       "Article",
		"d7_node_type:article":                     "Article",
		"d7_field_instance:node:article":           "Article",
		"d7_node_type:page":                        "Page",
		"d7_user_role":                             "Site configuration",
		"d7_filter_format":                         "Site configuration",
		"d7_system_site":                           "Site configuration",
		"d7_field_formatter_settings:node:article": "Displays (Article)",
		"d7_menu_links":                            "Menu links",
		"d7_url_alias":                             "URL aliases",
	}
	for id, cluster := range expected {
		assert.Equal(t, cluster, result.Meta[id].Cluster, id)
	}

	assert.Equal(t, heuristic.LiftedDependencies, result.Meta["d7_node_type:article"].Heuristic)
	assert.Equal(t, heuristic.Unclassified, result.Meta["d7_menu_links"].Heuristic)

	article, ok := result.Cluster("Article")
	require.True(t, ok)
	assert.Equal(t, []string{
		"d7_node_type:article", "d7_field_instance:node:article", "d7_node:article", "d7_comment:article",
	}, article.PluginIDs)
}

func TestFilteringDropsUnrunnablePlugins(t *testing.T) {
	t.Parallel()

	empty := plugin("d7_contact_settings", "Contact settings", "config", nil)
	empty.Source.RowCount = rows(0)
	emptyContent := plugin("d7_node:blog", "Nodes (Blog)", "entity:node", nil)
	emptyContent.Source.RowCount = rows(0)
	original := plugin("d7_node_type:blog", "Content type (Blog)", "entity:node_type", nil)
	override := plugin("custom_node_type:blog", "Content type (Blog)", "entity:node_type", nil)
	override.Overrides = "d7_node_type:blog"
	emptyContent.Dependencies.Required = []string{"d7_node_type:blog"}
	disabled := plugin("d7_forum", "Forums", "entity:taxonomy_term", nil)

	c := New(rejectChecker{"d7_forum": true}, nil, nil)
	result, err := c.Compute([]catalog.Plugin{empty, emptyContent, original, override, disabled})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"d7_node:blog", "custom_node_type:blog"}, result.Order)
	assert.Equal(t, []string{"custom_node_type:blog"}, result.Meta["d7_node:blog"].After)
	assert.Equal(t, catalog.CategoryNoData, result.Meta["d7_node:blog"].Category)
	assert.Nil(t, result.Plugin("d7_node_type:blog"))
	assertDependencyOrder(t, result)
}

type countRows map[string]int

func (c countRows) SourceRowCount(p *catalog.Plugin) (int, error) {
	n, ok := c[p.ID]
	if !ok {
		return 0, fmt.Errorf("no table for %s", p.ID)
	}
	return n, nil
}

func TestRowCounterIsConsultedWhenCountUnknown(t *testing.T) {
	t.Parallel()

	a := plugin("a_settings", "A", "config", nil)
	a.Source.RowCount = nil
	b := plugin("b_settings", "B", "config", nil)
	b.Source.RowCount = nil
	unknown := plugin("c_settings", "C", "config", nil)
	unknown.Source.RowCount = nil

	result, err := New(nil, countRows{"a_settings": 0, "b_settings": 1}, nil).Compute([]catalog.Plugin{a, b, unknown})
	require.NoError(t, err)
	assert.Equal(t, []string{"b_settings", "c_settings"}, result.Order)
	assert.Equal(t, catalog.CategorySimpleConfig, result.Meta["b_settings"].Category)
}

func TestCycleIsReturned(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, nil).Compute([]catalog.Plugin{
		plugin("a", "A", "entity:node", []string{"b"}),
		plugin("b", "B", "entity:node", nil, "a"),
	})
	var cycleErr *graph.CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestInvariantViolationsPanic(t *testing.T) {
	t.Parallel()

	all := func(*catalog.Plugin, heuristic.State) bool { return true }
	none := func(*catalog.Plugin, heuristic.State) bool { return false }
	single := func(id string, m heuristic.Matching, match func(*catalog.Plugin, heuristic.State) bool, deps ...string) heuristic.Prioritized {
		return heuristic.Prioritized{Heuristic: heuristic.Heuristic{
			ID: id, Matching: m, Clustering: heuristic.SingleCluster, Cluster: id, Match: match, DependsOn: deps,
		}}
	}
	input := []catalog.Plugin{plugin("a", "A", "entity:node", nil)}

	tests := []struct {
		name       string
		heuristics []heuristic.Prioritized
	}{
		{"double assignment", []heuristic.Prioritized{
			single("first", heuristic.Independent, all),
			single("second", heuristic.Independent, all),
		}},
		{"dependency not yet run", []heuristic.Prioritized{
			single("late", heuristic.Dependent, all, "early"),
			single("early", heuristic.Independent, none),
		}},
		{"undeclared dependency", []heuristic.Prioritized{
			single("dep", heuristic.Dependent, all, "missing"),
		}},
		{"duplicate id", []heuristic.Prioritized{
			single("same", heuristic.Independent, all),
			single("same", heuristic.Independent, none),
		}},
		{"unclustered plugin", []heuristic.Prioritized{
			single("nothing", heuristic.Independent, none),
		}},
		{"unknown matching kind", []heuristic.Prioritized{
			single("weird", heuristic.Matching(99), all),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Clusterer{Heuristics: tt.heuristics}
			assert.Panics(t, func() { _, _ = c.Compute(input) })
		})
	}
}

func TestDependentHeuristicSeesOwnMatches(t *testing.T) {
	t.Parallel()

	// Chain a <- b <- c. The rule accepts a plugin only if all its
	// predecessors were already accepted, so it must see its own claims.
	chain := heuristic.Prioritized{Heuristic: heuristic.Heuristic{
		ID: "chain", Matching: heuristic.Dependent, Clustering: heuristic.SingleCluster, Cluster: "Chain",
		Match: func(p *catalog.Plugin, s heuristic.State) bool {
			for _, id := range s.Meta(p.ID).After {
				if _, ok := s.Assigned(id); !ok {
					return false
				}
			}
			return true
		},
	}}
	c := &Clusterer{Heuristics: []heuristic.Prioritized{chain}}
	result, err := c.Compute([]catalog.Plugin{
		plugin("c", "C", "entity:node", []string{"b"}),
		plugin("b", "B", "entity:node", []string{"a"}),
		plugin("a", "A", "entity:node", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, result.Order)
}

func TestOutputOrderFollowsHeuristicWeight(t *testing.T) {
	t.Parallel()

	byPrefix := func(prefix string) func(*catalog.Plugin, heuristic.State) bool {
		return func(p *catalog.Plugin, _ heuristic.State) bool { return p.ID[:1] == prefix }
	}
	c := &Clusterer{Heuristics: []heuristic.Prioritized{
		{Weight: 10, Heuristic: heuristic.Heuristic{ID: "x", Matching: heuristic.Independent,
			Clustering: heuristic.SingleCluster, Cluster: "X", Match: byPrefix("x")}},
		{Weight: 5, Heuristic: heuristic.Heuristic{ID: "y", Matching: heuristic.Independent,
			Clustering: heuristic.SingleCluster, Cluster: "Y", Match: byPrefix("y")}},
		{Weight: 5, Heuristic: heuristic.Heuristic{ID: "z", Matching: heuristic.Independent,
			Clustering: heuristic.SingleCluster, Cluster: "Z", Match: byPrefix("z")}},
	}}

	result, err := c.Compute([]catalog.Plugin{
		plugin("x1", "X1", "entity:node", nil),
		plugin("z1", "Z1", "entity:node", nil),
		plugin("y1", "Y1", "entity:node", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"y1", "z1", "x1"}, result.Order)
	assert.Equal(t, []string{"Y", "Z", "X"}, []string{result.Clusters[0].Label, result.Clusters[1].Label, result.Clusters[2].Label})
}

// TestRandomGraphsKeepInvariants runs the built-in heuristics over random
// acyclic plugin sets.
func TestRandomGraphsKeepInvariants(t *testing.T) {
	t.Parallel()

	destinations := []string{
		"entity:node", "entity:user", "entity:node_type", "entity:field_config",
		"entity:field_storage_config", "entity:entity_view_mode", "config", "path_alias",
	}
	bases := []string{"d7_node", "d7_user", "d7_language_x", "d7_field", "d7_misc"}

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		n := 5 + rng.Intn(25)
		input := make([]catalog.Plugin, n)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("%s_%02d", bases[rng.Intn(len(bases))], i)
			if rng.Intn(2) == 0 {
				id += fmt.Sprintf(":bundle%d", rng.Intn(3))
			}
			var required, optional []string
			for j := 0; j < i; j++ {
				switch rng.Intn(8) {
				case 0:
					required = append(required, input[j].ID)
				case 1:
					optional = append(optional, input[j].ID)
				}
			}
			input[i] = plugin(id, fmt.Sprintf("Label (%d)", rng.Intn(4)), destinations[rng.Intn(len(destinations))], required, optional...)
		}

		result, err := New(nil, nil, nil).Compute(input)
		require.NoError(t, err, "round %d", round)
		assertTotalPartition(t, input, result)
		assertDependencyOrder(t, result)
	}
}
