package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dyluth/flock/internal/config"
	dockerpkg "github.com/dyluth/flock/internal/docker"
	"github.com/dyluth/flock/internal/instance"
	"github.com/dyluth/flock/internal/printer"
)

var storeImage string

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage a local Redis store in Docker",
	Long: `Manage a local Redis container holding the batch lock, batch records and
migration metadata for an instance.

The instance name comes from --instance, FLOCK_INSTANCE or flock.yml, in
that order, and defaults to "default".`,
}

var storeUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the local store",
	Args:  cobra.NoArgs,
	RunE:  runStoreUp,
}

var storeDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop and remove the local store",
	Long:  "Stop and remove the local store. Batch records and migration metadata are lost.",
	Args:  cobra.NoArgs,
	RunE:  runStoreDown,
}

var storeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local store",
	Args:  cobra.NoArgs,
	RunE:  runStoreStatus,
}

func init() {
	storeUpCmd.Flags().StringVar(&storeImage, "image", dockerpkg.DefaultStoreImage, "Redis image")
	storeCmd.AddCommand(storeUpCmd, storeDownCmd, storeStatusCmd)
	rootCmd.AddCommand(storeCmd)
}

// storeInstance resolves the instance name without requiring flock.yml.
func storeInstance() (string, error) {
	if v := viper.GetString("instance"); v != "" {
		return v, instance.ValidateName(v)
	}
	if cfg, err := config.Load(viper.GetString("config")); err == nil {
		return cfg.Instance, nil
	}
	return config.DefaultInstance, nil
}

func runStoreUp(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name, err := storeInstance()
	if err != nil {
		return printer.Error("invalid instance name", err.Error(), nil)
	}

	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	printer.Step("Starting store for instance %s...\n", name)
	store, err := instance.Up(ctx, cli, name, storeImage)
	if err != nil {
		return printer.Error("failed to start store", err.Error(), []string{
			fmt.Sprintf("Remove the old store first:\n  flock store down --instance %s", name),
		})
	}

	printer.Success("Started %s on port %d\n", dockerpkg.StoreContainerName(name), store.Port)
	printer.Info("\nSet this in flock.yml:\n  redis:\n    addr: %s\n", store.Addr())
	return nil
}

func runStoreDown(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name, err := storeInstance()
	if err != nil {
		return printer.Error("invalid instance name", err.Error(), nil)
	}

	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	removed, err := instance.Down(ctx, cli, name)
	if err != nil {
		return err
	}
	if removed == 0 {
		return printer.Error(
			fmt.Sprintf("instance '%s' has no store", name),
			"No containers found for this instance.",
			[]string{"Check the instance name with --instance"},
		)
	}
	printer.Success("Removed store for instance %s\n", name)
	return nil
}

func runStoreStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name, err := storeInstance()
	if err != nil {
		return printer.Error("invalid instance name", err.Error(), nil)
	}

	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	containers, err := instance.Containers(ctx, cli, name)
	if err != nil {
		return err
	}
	status := instance.DetermineStatus(containers)

	store, err := instance.Find(ctx, cli, name)
	if errors.Is(err, instance.ErrNoStore) {
		printer.Info("%s: %s\n", name, status)
		return nil
	}
	if err != nil {
		return err
	}
	printer.Info("%s: %s at %s\n", name, status, store.Addr())
	if !status.Usable() {
		printer.Warning("the store is not running; restart it with 'flock store down' then 'flock store up'\n")
	}
	return nil
}
