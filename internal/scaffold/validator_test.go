package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckExisting(t *testing.T) {
	t.Run("empty directory", func(t *testing.T) {
		assert.NoError(t, CheckExisting(t.TempDir()))
	})

	t.Run("config only", func(t *testing.T) {
		dir := t.TempDir()
		os.WriteFile(filepath.Join(dir, ConfigFile), []byte("x"), 0644)
		err := CheckExisting(dir)
		assert.ErrorContains(t, err, "Found existing: flock.yml\n")
	})

	t.Run("config and plugins", func(t *testing.T) {
		dir := t.TempDir()
		os.WriteFile(filepath.Join(dir, ConfigFile), []byte("x"), 0644)
		os.Mkdir(filepath.Join(dir, PluginsDir), 0755)
		err := CheckExisting(dir)
		assert.ErrorContains(t, err, "flock.yml, plugins/")
	})

	t.Run("plugins file is not a directory", func(t *testing.T) {
		dir := t.TempDir()
		os.WriteFile(filepath.Join(dir, PluginsDir), []byte("x"), 0644)
		assert.NoError(t, CheckExisting(dir))
	})
}
