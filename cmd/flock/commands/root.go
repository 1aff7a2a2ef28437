package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dyluth/flock/internal/app"
	"github.com/dyluth/flock/internal/config"
	"github.com/dyluth/flock/internal/logger"
	"github.com/dyluth/flock/internal/printer"
)

var (
	version string
	commit  string
	date    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "flock",
	Short: "Flock - clustered, resumable data migrations",
	Long: `Flock groups migration plugins into ordered migrations and runs them
as resumable batches.

Plugins are clustered by dependency and destination type, so related data
moves together. A single batch may run at a time: the batch lock lives in
Redis and is shared by the CLI and the HTTP API, and any batch can be stopped
at the next row with 'flock stop'.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command. Errors are already printed.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	cobra.OnInitialize(initEnv)

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "flock.yml", "Path to flock.yml")
	flags.String("instance", "", "Instance name (overrides flock.yml)")
	flags.String("redis-addr", "", "Redis address (overrides flock.yml)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.Bool("json", false, "Output JSON")

	for _, name := range []string{"config", "instance", "redis-addr", "log-level", "json"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

// initEnv lets FLOCK_* environment variables stand in for flags,
// e.g. FLOCK_REDIS_ADDR for --redis-addr.
func initEnv() {
	viper.SetEnvPrefix("FLOCK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads flock.yml and applies flag and environment overrides.
func loadConfig() (*config.FlockConfig, error) {
	path := viper.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, printer.Error(
				"flock.yml not found",
				fmt.Sprintf("No configuration file at %s.", path),
				[]string{
					"Create one with 'flock init'",
					"Point at an existing file with --config or FLOCK_CONFIG",
				},
			)
		}
		return nil, printer.Error("invalid configuration", err.Error(), nil)
	}

	if v := viper.GetString("instance"); v != "" {
		cfg.Instance = v
	}
	if v := viper.GetString("redis-addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, printer.Error("invalid configuration", err.Error(), nil)
	}
	return cfg, nil
}

func newLogger(cfg *config.FlockConfig) (*logger.Logger, error) {
	log, err := logger.New(logger.Options{
		Level:         cfg.Log.Level,
		HumanReadable: cfg.Log.Human,
		Writer:        os.Stderr,
	})
	if err != nil {
		return nil, printer.Error("invalid log level", err.Error(), []string{"Use one of: debug, info, warn, error"})
	}
	return log, nil
}

// openApp loads configuration and opens the instance it describes.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"failed to open instance",
			err.Error(),
			map[string]string{
				"Instance": cfg.Instance,
				"Redis":    cfg.Redis.Addr,
				"Plugins":  cfg.Plugins.Dir,
			},
			[]string{
				"Start a local store:\n  flock store up",
				"Check the paths and DSNs in " + viper.GetString("config"),
			},
		)
	}
	return a, nil
}

func jsonOutput() bool {
	return viper.GetBool("json")
}
