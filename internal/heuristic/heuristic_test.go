package heuristic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/flock/internal/graph"
	"github.com/dyluth/flock/pkg/catalog"
)

type fakeState struct {
	plugins  map[string]*catalog.Plugin
	analysis *graph.Analysis
	assigned map[string]Assignment
}

func newFakeState(t *testing.T, plugins ...*catalog.Plugin) *fakeState {
	t.Helper()
	a, err := graph.Analyze(plugins, nil)
	require.NoError(t, err)
	s := &fakeState{
		plugins:  make(map[string]*catalog.Plugin),
		analysis: a,
		assigned: make(map[string]Assignment),
	}
	for _, p := range plugins {
		s.plugins[p.ID] = p
	}
	return s
}

func (s *fakeState) Plugin(id string) *catalog.Plugin { return s.plugins[id] }
func (s *fakeState) Meta(id string) catalog.Metadata  { return s.analysis.Meta[id] }
func (s *fakeState) Successors(id string) []string    { return s.analysis.Combined.Descendants(id) }
func (s *fakeState) Assigned(id string) (Assignment, bool) {
	a, ok := s.assigned[id]
	return a, ok
}

func plugin(id, label, destination string, required ...string) *catalog.Plugin {
	return &catalog.Plugin{
		ID:           id,
		Label:        label,
		Destination:  catalog.Destination{Plugin: destination},
		Dependencies: catalog.Dependencies{Required: required},
	}
}

func byID(t *testing.T, id string) Prioritized {
	t.Helper()
	for _, h := range Default() {
		if h.ID == id {
			return h
		}
	}
	t.Fatalf("no built-in heuristic %q", id)
	return Prioritized{}
}

func TestDispatchPanicsOnUnknownKinds(t *testing.T) {
	t.Parallel()

	p := plugin("a", "A", "config")
	s := newFakeState(t, p)

	badMatching := Heuristic{ID: "bad", Matching: Matching(42), Clustering: SingleCluster, Cluster: "x",
		Match: func(*catalog.Plugin, State) bool { return true }}
	assert.PanicsWithValue(t, `heuristic "bad": unknown matching kind matching(42)`, func() {
		badMatching.Matches(p, s)
	})

	badClustering := Heuristic{ID: "bad", Matching: Independent, Clustering: Clustering(7)}
	assert.Panics(t, func() { badClustering.ClusterOf(p, s) })

	empty := Heuristic{ID: "empty", Matching: Independent, Clustering: SingleCluster}
	assert.Panics(t, func() { empty.ClusterOf(p, s) })
}

func TestIndependentHeuristicsCannotSeeAssignments(t *testing.T) {
	t.Parallel()

	p := plugin("a", "A", "config")
	s := newFakeState(t, p)
	s.assigned["a"] = Assignment{Cluster: "X"}

	var sawAssignment bool
	h := Heuristic{ID: "probe", Matching: Independent, Clustering: SingleCluster, Cluster: "Y",
		Match: func(p *catalog.Plugin, s State) bool {
			_, sawAssignment = s.Assigned(p.ID)
			return true
		}}
	assert.True(t, h.Matches(p, s))
	assert.False(t, sawAssignment)

	h.Matching = Dependent
	h.Matches(p, s)
	assert.True(t, sawAssignment)
}

func TestLanguageSettings(t *testing.T) {
	t.Parallel()

	types := plugin("d7_language_types", "Language types", "config")
	negotiation := plugin("d7_language_negotiation_settings", "Negotiation", "config", "d7_language_types")
	mixed := plugin("d7_language_content_settings", "Content language", "config", "d7_node_type")
	nodeType := plugin("d7_node_type", "Content types", "entity:node_type")
	s := newFakeState(t, types, negotiation, mixed, nodeType)

	h := byID(t, LanguageSettings)
	assert.True(t, h.Matches(types, s))
	assert.True(t, h.Matches(negotiation, s))
	assert.False(t, h.Matches(mixed, s), "depends on a non-language plugin")
	assert.False(t, h.Matches(nodeType, s))
	assert.Equal(t, "Language settings", h.ClusterOf(types, s))
}

func TestSharedEntityStructure(t *testing.T) {
	t.Parallel()

	field := plugin("d7_field:node", "Field storage (node)", "entity:field_storage_config")
	viewModes := plugin("d7_view_modes:node", "View modes", "entity:entity_view_mode")
	plain := plugin("d7_field", "Field storage", "entity:field_storage_config")
	instance := plugin("d7_field_instance:node:article", "Field instances", "entity:field_config", "d7_field:node")
	s := newFakeState(t, field, viewModes, plain, instance)

	h := byID(t, SharedEntityStructure)
	assert.True(t, h.Matches(field, s))
	assert.True(t, h.Matches(viewModes, s))
	assert.False(t, h.Matches(instance, s))
	assert.Equal(t, "Shared structure for node", h.ClusterOf(field, s))
	assert.Equal(t, "Shared structure", h.ClusterOf(plain, s))
}

func TestContentHeuristics(t *testing.T) {
	t.Parallel()

	user := plugin("d7_user", "User accounts", "entity:user")
	article := plugin("d7_node:article", "Nodes (Article)", "entity:node", "d7_user")
	menuLinks := plugin("d7_menu_links", "Menu links", "entity:menu_link_content", "d7_node:article")
	comment := plugin("d7_comment:article", "Comments (Article)", "entity:comment", "d7_node:article")
	s := newFakeState(t, user, article, menuLinks, comment)

	shared := byID(t, SharedEntityData)
	bundles := byID(t, ContentEntityBundles)

	assert.True(t, shared.Matches(user, s))
	assert.False(t, shared.Matches(menuLinks, s), "needs bundle content")
	assert.False(t, shared.Matches(article, s))
	assert.Equal(t, "User accounts", shared.ClusterOf(user, s))

	assert.True(t, bundles.Matches(article, s))
	assert.True(t, bundles.Matches(comment, s))
	assert.False(t, bundles.Matches(user, s))
	assert.Equal(t, "Article", bundles.ClusterOf(article, s))
}

func TestLiftedDependencies(t *testing.T) {
	t.Parallel()

	nodeType := plugin("d7_node_type:article", "Content type (Article)", "entity:node_type")
	instance := plugin("d7_field_instance:node:article", "Field instance", "entity:field_config", "d7_node_type:article")
	article := plugin("d7_node:article", "Nodes (Article)", "entity:node", "d7_node_type:article", "d7_field_instance:node:article")
	format := plugin("d7_filter_format", "Text formats", "entity:filter_format")
	page := plugin("d7_node:page", "Nodes (Page)", "entity:node", "d7_filter_format")
	story := plugin("d7_node:story", "Nodes (Story)", "entity:node", "d7_filter_format")
	s := newFakeState(t, nodeType, instance, article, format, page, story)
	s.assigned["d7_node:article"] = Assignment{Cluster: "Article", Heuristic: ContentEntityBundles, Weight: weightBundles}
	s.assigned["d7_node:page"] = Assignment{Cluster: "Page", Heuristic: ContentEntityBundles, Weight: weightBundles}
	s.assigned["d7_node:story"] = Assignment{Cluster: "Story", Heuristic: ContentEntityBundles, Weight: weightBundles}

	h := byID(t, LiftedDependencies)
	require.Equal(t, Lifting, h.Matching)
	assert.True(t, h.Matches(nodeType, s))
	assert.Equal(t, "Article", h.ClusterOf(nodeType, s))
	assert.True(t, h.Matches(instance, s))
	assert.False(t, h.Matches(format, s), "shared by two clusters")
}

func TestSiteConfiguration(t *testing.T) {
	t.Parallel()

	site := plugin("d7_system_site", "Site settings", "config")
	display := plugin("d7_field_formatter_settings", "Displays", "entity:entity_view_display", "d7_field_instance")
	instance := plugin("d7_field_instance", "Instances", "entity:field_config")
	alias := plugin("d7_url_alias", "URL aliases", "path_alias", "d7_node:page")
	page := plugin("d7_node:page", "Nodes (Page)", "entity:node")
	s := newFakeState(t, site, display, instance, alias, page)
	s.assigned["d7_field_instance"] = Assignment{Cluster: "Article", Heuristic: LiftedDependencies, Weight: weightLifted}

	h := byID(t, SiteConfiguration)
	assert.True(t, h.Matches(site, s))
	assert.False(t, h.Matches(display, s), "depends on a lifted plugin")
	assert.False(t, h.Matches(alias, s), "depends on content")
	assert.Equal(t, "Site configuration", h.ClusterOf(site, s))
}

func TestDefaultOrderAndDependencies(t *testing.T) {
	t.Parallel()

	hs := Default()
	ids := make([]string, len(hs))
	seen := make(map[string]bool)
	for i, h := range hs {
		ids[i] = h.ID
		for _, dep := range h.DependsOn {
			assert.True(t, seen[dep], "%s depends on %s which is declared later", h.ID, dep)
		}
		seen[h.ID] = true
	}
	assert.Equal(t, []string{
		LanguageSettings, SharedEntityStructure, SharedEntityData, ContentEntityBundles,
		LiftedDependencies, SiteConfiguration, Unclassified,
	}, ids)
}
