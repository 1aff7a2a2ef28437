package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CheckExisting returns an error naming any starter file already in dir.
func CheckExisting(dir string) error {
	var existing []string

	if _, err := os.Stat(filepath.Join(dir, ConfigFile)); err == nil {
		existing = append(existing, ConfigFile)
	}
	if info, err := os.Stat(filepath.Join(dir, PluginsDir)); err == nil && info.IsDir() {
		existing = append(existing, PluginsDir+"/")
	}

	if len(existing) == 0 {
		return nil
	}
	return fmt.Errorf("project already initialized\n\nFound existing: %s\n\nUse 'flock init --force' to reinitialize (this will overwrite existing configuration)",
		strings.Join(existing, ", "))
}
