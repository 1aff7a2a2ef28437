// Package catalog defines migration plugin definitions as they are consumed
// by the clusterer and the batch machinery. A plugin moves one narrow slice of
// data (one source shape into one destination type) and declares the plugins
// it depends on.
//
// Plugins are immutable once loaded. Everything computed about a plugin
// (dependency closure, cluster, category) lives in a Metadata side table
// keyed by plugin ID, never on the Plugin itself.
package catalog

import (
	"fmt"
	"strings"
)

// Plugin is a single migration plugin definition.
type Plugin struct {
	ID           string            `yaml:"id" json:"id"`
	Label        string            `yaml:"label" json:"label"`
	Tags         []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	Source       Source            `yaml:"source" json:"source"`
	Destination  Destination       `yaml:"destination" json:"destination"`
	Process      map[string]string `yaml:"process,omitempty" json:"process,omitempty"`      // destination field -> source field
	Lookups      map[string]string `yaml:"lookups,omitempty" json:"lookups,omitempty"`      // destination field -> plugin ID whose id-map resolves it
	Dependencies Dependencies      `yaml:"migration_dependencies" json:"migration_dependencies"`
	Overrides    string            `yaml:"overrides,omitempty" json:"overrides,omitempty"` // ID of the original plugin this override supersedes
}

// Source describes where a plugin reads rows from.
type Source struct {
	Plugin   string   `yaml:"plugin" json:"plugin"`
	Table    string   `yaml:"table,omitempty" json:"table,omitempty"`
	IDs      []string `yaml:"ids,omitempty" json:"ids,omitempty"`
	RowCount *int     `yaml:"row_count,omitempty" json:"row_count,omitempty"` // nil = ask the runtime
}

// Destination describes where a plugin writes rows to.
type Destination struct {
	Plugin   string   `yaml:"plugin" json:"plugin"` // e.g. "entity:node", "config"
	Table    string   `yaml:"table,omitempty" json:"table,omitempty"`
	IDs      []string `yaml:"ids,omitempty" json:"ids,omitempty"`
	Required []string `yaml:"required,omitempty" json:"required,omitempty"` // fields validated after save
}

// Dependencies are the declared migration dependencies of a plugin.
type Dependencies struct {
	Required []string `yaml:"required,omitempty" json:"required,omitempty"`
	Optional []string `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// Category classifies a plugin for operators.
type Category string

const (
	CategoryContent      Category = "Content"
	CategoryConfigEntity Category = "Configuration entity"
	CategorySimpleConfig Category = "Simple configuration"
	CategoryOther        Category = "Other"
	CategoryNoData       Category = "No data"
)

// Metadata is everything the clusterer computes about a single plugin.
type Metadata struct {
	After        []string `json:"after"`        // transitive required+optional predecessors
	Before       []string `json:"before"`       // immediate successors
	Requirements []string `json:"requirements"` // transitive required-only predecessors
	Weight       int      `json:"weight"`
	Category     Category `json:"category"`
	Cluster      string   `json:"cluster"`
	Heuristic    string   `json:"heuristic"`
}

// configEntityTypes lists destination entity types that hold configuration
// rather than content. Anything else behind "entity:" is content.
var configEntityTypes = map[string]bool{
	"base_field_override":        true,
	"block":                      true,
	"block_content_type":         true,
	"comment_type":               true,
	"configurable_language":      true,
	"contact_form":               true,
	"date_format":                true,
	"entity_form_display":        true,
	"entity_form_mode":           true,
	"entity_view_display":        true,
	"entity_view_mode":           true,
	"field_config":               true,
	"field_storage_config":       true,
	"filter_format":              true,
	"image_style":                true,
	"language_content_settings":  true,
	"menu":                       true,
	"node_type":                  true,
	"search_page":                true,
	"shortcut_set":               true,
	"taxonomy_vocabulary":        true,
	"user_role":                  true,
	"view":                       true,
	"rdf_mapping":                true,
	"media_type":                 true,
	"responsive_image_style":     true,
	"pathauto_pattern":           true,
	"editor":                     true,
	"action":                     true,
	"system_menu_block":          true,
	"language_negotiation":       true,
	"tour":                       true,
	"workflow":                   true,
	"metatag_defaults":           true,
	"paragraphs_type":            true,
	"crop_type":                  true,
	"field_group":                true,
	"entity_browser":             true,
	"webform":                    true,
	"simple_sitemap":             true,
	"redirect_type":              true,
	"block_content_type_default": true,
}

// BaseID returns the part of the ID before the first derivative separator.
func (p *Plugin) BaseID() string {
	base, _, _ := strings.Cut(p.ID, ":")
	return base
}

// Derivative returns the derivative part of the ID ("node:article" for
// "d7_field_instance:node:article"), or "" for non-derived plugins.
func (p *Plugin) Derivative() string {
	_, derivative, _ := strings.Cut(p.ID, ":")
	return derivative
}

// DestinationEntityType returns "node" for destination "entity:node", or ""
// when the destination is not an entity destination.
func (p *Plugin) DestinationEntityType() string {
	kind, entityType, ok := strings.Cut(p.Destination.Plugin, ":")
	if !ok || kind != "entity" && kind != "entity_complete" {
		return ""
	}
	return entityType
}

// IsContentDestination reports whether the plugin writes content entities.
func (p *Plugin) IsContentDestination() bool {
	entityType := p.DestinationEntityType()
	return entityType != "" && !configEntityTypes[entityType]
}

// IsConfigEntityDestination reports whether the plugin writes configuration
// entities.
func (p *Plugin) IsConfigEntityDestination() bool {
	entityType := p.DestinationEntityType()
	return entityType != "" && configEntityTypes[entityType]
}

// IsSimpleConfigDestination reports whether the plugin writes simple
// configuration objects.
func (p *Plugin) IsSimpleConfigDestination() bool {
	return p.Destination.Plugin == "config"
}

// BundleLabel extracts the bundle label from a derived label such as
// "Nodes (Article)". Labels without a parenthesised suffix are returned as-is.
func (p *Plugin) BundleLabel() string {
	label := strings.TrimSpace(p.Label)
	open := strings.LastIndex(label, "(")
	if open < 0 || !strings.HasSuffix(label, ")") {
		return label
	}
	inner := strings.TrimSpace(label[open+1 : len(label)-1])
	if inner == "" {
		return label
	}
	return inner
}

// HasTag reports whether the plugin carries the given tag.
func (p *Plugin) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// AllDependencies returns required dependencies followed by optional ones.
func (p *Plugin) AllDependencies() []string {
	deps := make([]string, 0, len(p.Dependencies.Required)+len(p.Dependencies.Optional))
	deps = append(deps, p.Dependencies.Required...)
	deps = append(deps, p.Dependencies.Optional...)
	return deps
}

// Categorize classifies a plugin given its source row count.
func Categorize(p *Plugin, rowCount int) Category {
	switch {
	case rowCount == 0:
		return CategoryNoData
	case p.IsContentDestination():
		return CategoryContent
	case p.IsConfigEntityDestination():
		return CategoryConfigEntity
	case p.IsSimpleConfigDestination():
		return CategorySimpleConfig
	default:
		return CategoryOther
	}
}

// Validate checks a single plugin definition.
func (p *Plugin) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plugin id cannot be empty")
	}
	if strings.TrimSpace(p.Label) == "" {
		return fmt.Errorf("plugin '%s': label is required", p.ID)
	}
	if p.Destination.Plugin == "" {
		return fmt.Errorf("plugin '%s': destination.plugin is required", p.ID)
	}
	if p.Source.RowCount != nil && *p.Source.RowCount < 0 {
		return fmt.Errorf("plugin '%s': source.row_count must be >= 0", p.ID)
	}
	for _, dep := range p.AllDependencies() {
		if dep == p.ID {
			return fmt.Errorf("plugin '%s': cannot depend on itself", p.ID)
		}
		if dep == "" {
			return fmt.Errorf("plugin '%s': empty dependency id", p.ID)
		}
	}
	if p.Overrides == p.ID {
		return fmt.Errorf("plugin '%s': cannot override itself", p.ID)
	}
	return nil
}
