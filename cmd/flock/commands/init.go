package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/flock/internal/scaffold"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new flock project",
	Long: `Initialize a new flock project in the current directory.

Creates:
  • flock.yml - Instance configuration
  • plugins/example.yml - Example plugin definitions

Use --force to reinitialize an existing project (WARNING: destroys existing configuration).`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Force reinitialization (removes existing flock.yml and plugins/)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := scaffold.Initialize(".", forceInit); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	scaffold.PrintSuccess()
	return nil
}
