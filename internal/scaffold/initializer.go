// Package scaffold creates a starter flock project: flock.yml and an
// example plugin definition file.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/flock/internal/config"
	"github.com/dyluth/flock/pkg/catalog"
)

//go:embed templates/*
var templatesFS embed.FS

// Paths created by Initialize, relative to the project directory.
const (
	ConfigFile  = "flock.yml"
	PluginsDir  = "plugins"
	ExampleFile = "example.yml"
)

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes the starter files into dir. With force, an existing
// flock.yml and plugins/ directory are removed first.
func Initialize(dir string, force bool) error {
	if force {
		if err := removeExisting(dir); err != nil {
			return err
		}
	} else if err := CheckExisting(dir); err != nil {
		return err
	}

	files, err := templateFiles(dir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(dir, PluginsDir), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", PluginsDir, err)
	}

	for _, f := range files {
		if err := os.WriteFile(f.Path, f.Content, f.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
	}

	return validateCreatedFiles(dir)
}

func removeExisting(dir string) error {
	if err := os.Remove(filepath.Join(dir, ConfigFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", ConfigFile, err)
	}
	if err := os.RemoveAll(filepath.Join(dir, PluginsDir)); err != nil {
		return fmt.Errorf("failed to remove %s/ directory: %w", PluginsDir, err)
	}
	return nil
}

func templateFiles(dir string) ([]FileInfo, error) {
	cfg, err := templatesFS.ReadFile("templates/flock.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read flock.yml template: %w", err)
	}
	plugins, err := templatesFS.ReadFile("templates/plugins.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read plugins template: %w", err)
	}
	return []FileInfo{
		{Path: filepath.Join(dir, ConfigFile), Content: cfg, Permissions: 0644},
		{Path: filepath.Join(dir, PluginsDir, ExampleFile), Content: plugins, Permissions: 0644},
	}, nil
}

// validateCreatedFiles loads what was written the way `flock` will.
func validateCreatedFiles(dir string) error {
	if _, err := config.Load(filepath.Join(dir, ConfigFile)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", ConfigFile, err)
	}
	if _, err := catalog.Load(filepath.Join(dir, PluginsDir)); err != nil {
		return fmt.Errorf("created plugin definitions are invalid: %w", err)
	}
	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess() {
	fmt.Println("\n✅ Successfully initialized flock project!")
	fmt.Println("\nCreated:")
	fmt.Printf("  ✓ %s\n", ConfigFile)
	fmt.Printf("  ✓ %s/%s\n", PluginsDir, ExampleFile)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Point source.dsn and destination.dsn at your databases")
	fmt.Println("  2. Describe your plugins in plugins/")
	fmt.Println("  3. Run 'flock store up' for a local Redis, then 'flock migrations'")
}
