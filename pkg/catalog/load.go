package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a plugin definition file.
type File struct {
	Plugins []Plugin `yaml:"plugins"`
}

// Load reads every *.yml and *.yaml file in dir and returns the validated
// plugin definitions sorted by ID.
func Load(dir string) ([]Plugin, error) {
	var paths []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to list plugin definitions: %w", err)
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no plugin definitions found in %s", dir)
	}
	sort.Strings(paths)

	var plugins []Plugin
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		parsed, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		plugins = append(plugins, parsed...)
	}

	if err := ValidateSet(plugins); err != nil {
		return nil, err
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].ID < plugins[j].ID })
	return plugins, nil
}

// Parse decodes a single definition file.
func Parse(data []byte) ([]Plugin, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	for i := range f.Plugins {
		if err := f.Plugins[i].Validate(); err != nil {
			return nil, err
		}
	}
	return f.Plugins, nil
}

// ValidateSet checks cross-plugin constraints: unique IDs and overrides that
// point at a known plugin.
func ValidateSet(plugins []Plugin) error {
	seen := make(map[string]bool, len(plugins))
	for _, p := range plugins {
		if seen[p.ID] {
			return fmt.Errorf("duplicate plugin id '%s'", p.ID)
		}
		seen[p.ID] = true
	}
	overridden := make(map[string]string)
	for _, p := range plugins {
		if p.Overrides == "" {
			continue
		}
		if !seen[p.Overrides] {
			return fmt.Errorf("plugin '%s' overrides unknown plugin '%s'", p.ID, p.Overrides)
		}
		if other, ok := overridden[p.Overrides]; ok {
			return fmt.Errorf("plugin '%s' is overridden by both '%s' and '%s'", p.Overrides, other, p.ID)
		}
		overridden[p.Overrides] = p.ID
	}
	return nil
}

// Index returns plugins keyed by ID.
func Index(plugins []Plugin) map[string]*Plugin {
	idx := make(map[string]*Plugin, len(plugins))
	for i := range plugins {
		idx[plugins[i].ID] = &plugins[i]
	}
	return idx
}
