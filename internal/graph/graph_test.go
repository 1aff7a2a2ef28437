package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/flock/pkg/catalog"
)

func plugin(id, destination string, required []string, optional ...string) *catalog.Plugin {
	return &catalog.Plugin{
		ID:           id,
		Label:        id,
		Destination:  catalog.Destination{Plugin: destination},
		Dependencies: catalog.Dependencies{Required: required, Optional: optional},
	}
}

func TestTopologicalSortIsStable(t *testing.T) {
	t.Parallel()

	g := New()
	for _, id := range []string{"c", "b", "a", "d"} {
		g.AddNode(id)
	}
	require.NoError(t, g.AddEdge("a", "d"))
	require.NoError(t, g.AddEdge("c", "d"))

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestTopologicalSortDetectsCycle(t *testing.T) {
	t.Parallel()

	g := New()
	for _, id := range []string{"a", "b", "c"} {
		g.AddNode(id)
	}
	require.NoError(t, g.AddEdge("c", "a"))
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))

	_, err := g.TopologicalSort()
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.Len(t, cycleErr.Path, 4)
	assert.Equal(t, cycleErr.Path[0], cycleErr.Path[3])
	assert.Contains(t, err.Error(), "dependency cycle detected")
}

func TestAddEdgeUnknownNode(t *testing.T) {
	t.Parallel()

	g := New()
	g.AddNode("a")
	assert.Error(t, g.AddEdge("a", "missing"))
	assert.Error(t, g.AddEdge("missing", "a"))
}

func TestAncestorsAndDescendants(t *testing.T) {
	t.Parallel()

	g := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		g.AddNode(id)
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("a", "c"))

	assert.Equal(t, []string{"a", "b"}, g.Ancestors("c"))
	assert.Equal(t, []string{"b", "c"}, g.Descendants("a"))
	assert.Equal(t, []string{"b", "c"}, g.Dependents("a"))
	assert.Empty(t, g.Ancestors("d"))
	assert.Nil(t, g.Ancestors("missing"))
}

func TestAnalyzeWeightsAndMetadata(t *testing.T) {
	t.Parallel()

	plugins := []*catalog.Plugin{
		plugin("d7_node:article", "entity:node", []string{"d7_node_type:article"}, "d7_field_instance:node:article"),
		plugin("d7_field_instance:node:article", "entity:field_config", []string{"d7_node_type:article", "d7_field"}),
		plugin("d7_node_type:article", "entity:node_type", nil),
		plugin("d7_field", "entity:field_storage_config", nil),
	}

	a, err := Analyze(plugins, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, a.Meta["d7_node:article"].Weight)
	assert.Equal(t, 2, a.Meta["d7_field_instance:node:article"].Weight)
	assert.Equal(t, 3, a.Meta["d7_node_type:article"].Weight)
	assert.Equal(t, 3, a.Meta["d7_field"].Weight)

	assert.Equal(t, []string{"d7_field", "d7_field_instance:node:article", "d7_node_type:article"}, a.Meta["d7_node:article"].After)
	assert.Equal(t, []string{"d7_node_type:article"}, a.Meta["d7_node:article"].Requirements)
	assert.Equal(t, []string{"d7_field_instance:node:article", "d7_node:article"}, a.Meta["d7_node_type:article"].Before)

	assert.Equal(t, []string{"d7_field", "d7_node_type:article", "d7_field_instance:node:article", "d7_node:article"}, a.Order)
}

func TestAnalyzeBoostsIsolatedPlugins(t *testing.T) {
	t.Parallel()

	plugins := []*catalog.Plugin{
		plugin("b", "entity:node", []string{"a"}),
		plugin("a", "entity:node_type", nil),
		plugin("z_isolated", "url_alias", nil),
		plugin("y_settings", "config", nil),
	}
	categories := map[string]catalog.Category{
		"y_settings": catalog.CategorySimpleConfig,
		"z_isolated": catalog.CategoryOther,
	}

	a, err := Analyze(plugins, categories)
	require.NoError(t, err)

	assert.Equal(t, []string{"y_settings", "z_isolated", "a", "b"}, a.Order)
	assert.Equal(t, 4, a.Meta["y_settings"].Weight)
	assert.Equal(t, 3, a.Meta["z_isolated"].Weight)
	assert.Equal(t, catalog.CategorySimpleConfig, a.Meta["y_settings"].Category)
}

func TestAnalyzeDropsDanglingEdges(t *testing.T) {
	t.Parallel()

	plugins := []*catalog.Plugin{
		plugin("b", "entity:node", []string{"a", "gone"}),
		plugin("a", "entity:node_type", nil),
	}

	a, err := Analyze(plugins, nil)
	require.NoError(t, err)
	assert.Equal(t, []Edge{{From: "gone", To: "b"}}, a.Dangling)
	assert.Equal(t, []string{"a"}, a.Meta["b"].After)
}

func TestAnalyzeRejectsCycles(t *testing.T) {
	t.Parallel()

	t.Run("required", func(t *testing.T) {
		_, err := Analyze([]*catalog.Plugin{
			plugin("a", "config", []string{"b"}),
			plugin("b", "config", []string{"a"}),
		}, nil)
		var cycleErr *CycleError
		require.ErrorAs(t, err, &cycleErr)
	})

	t.Run("optional only", func(t *testing.T) {
		_, err := Analyze([]*catalog.Plugin{
			plugin("a", "config", []string{"b"}),
			plugin("b", "config", nil, "a"),
		}, nil)
		var cycleErr *CycleError
		require.ErrorAs(t, err, &cycleErr)
	})
}

func TestOrderPlacesDependenciesFirst(t *testing.T) {
	t.Parallel()

	// a <- b <- c, a <- c, d <- c
	plugins := []*catalog.Plugin{
		plugin("c", "entity:node", []string{"b", "d"}, "a"),
		plugin("b", "entity:node", []string{"a"}),
		plugin("a", "entity:node", nil),
		plugin("d", "entity:node", nil),
	}

	a, err := Analyze(plugins, nil)
	require.NoError(t, err)

	pos := make(map[string]int)
	for i, id := range a.Order {
		pos[id] = i
	}
	for id, meta := range a.Meta {
		for _, pred := range meta.After {
			assert.Less(t, pos[pred], pos[id], "%s must precede %s", pred, id)
		}
	}
}
