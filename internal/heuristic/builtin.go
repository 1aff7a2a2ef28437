package heuristic

import (
	"fmt"
	"strings"

	"github.com/dyluth/flock/pkg/catalog"
)

// Built-in heuristic IDs.
const (
	LanguageSettings      = "language_settings"
	SharedEntityStructure = "shared_entity_structure"
	SharedEntityData      = "shared_entity_data"
	ContentEntityBundles  = "content_entity_bundles"
	LiftedDependencies    = "lifted_dependencies"
	SiteConfiguration     = "site_configuration"
	Unclassified          = "unclassified"
)

// Built-in weights. Anything a plugin depends on ends up under an equal or
// lower weight; the guards in each rule keep it that way.
const (
	weightLanguage   = 0
	weightStructure  = 1
	weightSite       = 5
	weightLifted     = 9
	weightSharedData = 10
	weightBundles    = 20
	weightRest       = 100
)

// Default returns the built-in heuristics in matching order.
func Default() []Prioritized {
	return []Prioritized{
		{Weight: weightLanguage, Heuristic: Heuristic{
			ID:         LanguageSettings,
			Matching:   Independent,
			Clustering: SingleCluster,
			Cluster:    "Language settings",
			Match:      matchLanguage,
		}},
		{Weight: weightStructure, Heuristic: Heuristic{
			ID:         SharedEntityStructure,
			Matching:   Independent,
			Clustering: PerPlugin,
			Match:      matchStructure,
			ClusterFor: structureCluster,
		}},
		{Weight: weightSharedData, Heuristic: Heuristic{
			ID:         SharedEntityData,
			Matching:   Independent,
			Clustering: PerPlugin,
			Match:      matchSharedData,
			ClusterFor: func(p *catalog.Plugin, _ State) string { return p.Label },
		}},
		{Weight: weightBundles, Heuristic: Heuristic{
			ID:         ContentEntityBundles,
			Matching:   Independent,
			Clustering: PerPlugin,
			Match:      matchBundle,
			ClusterFor: func(p *catalog.Plugin, _ State) string { return p.BundleLabel() },
		}},
		{Weight: weightLifted, Heuristic: Heuristic{
			ID:         LiftedDependencies,
			Matching:   Lifting,
			Clustering: FromDependencies,
			DependsOn:  []string{SharedEntityData, ContentEntityBundles},
			Match: func(p *catalog.Plugin, s State) bool {
				_, ok := liftTarget(p, s)
				return ok
			},
			ClusterFor: func(p *catalog.Plugin, s State) string {
				label, _ := liftTarget(p, s)
				return label
			},
		}},
		{Weight: weightSite, Heuristic: Heuristic{
			ID:         SiteConfiguration,
			Matching:   Dependent,
			Clustering: SingleCluster,
			DependsOn:  []string{LiftedDependencies},
			Cluster:    "Site configuration",
			Match:      matchSiteConfiguration,
		}},
		{Weight: weightRest, Heuristic: Heuristic{
			ID:         Unclassified,
			Matching:   Dependent,
			Clustering: PerPlugin,
			DependsOn:  []string{SiteConfiguration},
			Match:      func(*catalog.Plugin, State) bool { return true },
			ClusterFor: func(p *catalog.Plugin, _ State) string { return p.Label },
		}},
	}
}

func isContent(p *catalog.Plugin) bool {
	return p != nil && p.IsContentDestination()
}

func mentionsLanguage(p *catalog.Plugin) bool {
	return strings.Contains(p.BaseID(), "language")
}

func isLanguageLike(p *catalog.Plugin) bool {
	return p != nil && !isContent(p) && mentionsLanguage(p)
}

func isStructureLike(p *catalog.Plugin) bool {
	if p == nil || mentionsLanguage(p) {
		return false
	}
	switch p.DestinationEntityType() {
	case "field_storage_config", "entity_view_mode":
		return true
	}
	return false
}

// isClean reports a non-content plugin with no content predecessors.
func isClean(p *catalog.Plugin, s State) bool {
	if p == nil || isContent(p) {
		return false
	}
	for _, id := range s.Meta(p.ID).After {
		if isContent(s.Plugin(id)) {
			return false
		}
	}
	return true
}

func hasBundle(p *catalog.Plugin) bool {
	return p.Derivative() != ""
}

// matchLanguage claims language plugins that only depend on other language
// plugins.
func matchLanguage(p *catalog.Plugin, s State) bool {
	if !isLanguageLike(p) {
		return false
	}
	for _, id := range s.Meta(p.ID).After {
		if !isLanguageLike(s.Plugin(id)) {
			return false
		}
	}
	return true
}

// matchStructure claims field storage and view mode plugins whose
// predecessors are themselves structure or language settings.
func matchStructure(p *catalog.Plugin, s State) bool {
	if !isStructureLike(p) {
		return false
	}
	for _, id := range s.Meta(p.ID).After {
		dep := s.Plugin(id)
		if isStructureLike(dep) {
			continue
		}
		if dep != nil && matchLanguage(dep, s) {
			continue
		}
		return false
	}
	return true
}

func structureCluster(p *catalog.Plugin, _ State) string {
	entityType, _, _ := strings.Cut(p.Derivative(), ":")
	if entityType == "" {
		return "Shared structure"
	}
	return fmt.Sprintf("Shared structure for %s", entityType)
}

// matchSharedData claims content plugins that are not split per bundle
// (users, files, menu links) as long as they do not need bundle content.
func matchSharedData(p *catalog.Plugin, s State) bool {
	if !isContent(p) || hasBundle(p) {
		return false
	}
	for _, id := range s.Meta(p.ID).After {
		dep := s.Plugin(id)
		if isContent(dep) && !hasBundle(dep) {
			continue
		}
		if !isClean(dep, s) {
			return false
		}
	}
	return true
}

// matchBundle claims per-bundle content plugins.
func matchBundle(p *catalog.Plugin, s State) bool {
	if !isContent(p) || !hasBundle(p) {
		return false
	}
	for _, id := range s.Meta(p.ID).After {
		dep := s.Plugin(id)
		if isClean(dep, s) {
			continue
		}
		if !isContent(dep) {
			return false
		}
		if hasBundle(dep) {
			continue
		}
		for _, inner := range s.Meta(id).After {
			if d := s.Plugin(inner); isContent(d) && hasBundle(d) {
				return false
			}
		}
	}
	return true
}

// liftTarget finds the single cluster that the clustered dependents of a
// clean plugin belong to.
func liftTarget(p *catalog.Plugin, s State) (string, bool) {
	if !isClean(p, s) {
		return "", false
	}
	var label string
	for _, id := range s.Successors(p.ID) {
		a, ok := s.Assigned(id)
		if !ok {
			continue
		}
		if label != "" && a.Cluster != label {
			return "", false
		}
		label = a.Cluster
	}
	return label, label != ""
}

// matchSiteConfiguration claims the remaining clean plugins whose
// predecessors all run no later than site configuration.
func matchSiteConfiguration(p *catalog.Plugin, s State) bool {
	if !isClean(p, s) {
		return false
	}
	for _, id := range s.Meta(p.ID).After {
		a, ok := s.Assigned(id)
		if !ok || a.Weight > weightSite {
			return false
		}
	}
	return true
}
