package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dyluth/flock/internal/filter"
	"github.com/dyluth/flock/internal/printer"
	"github.com/dyluth/flock/internal/resolver"
	"github.com/dyluth/flock/internal/watch"
	"github.com/dyluth/flock/pkg/blackboard"
)

var (
	watchBatchID      string
	watchType         string
	watchOutputFormat string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream batch progress",
	Long: `Stream batch events as they are published: starts, progress after every
poll, and how each batch ended.

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Follow every batch
  flock watch

  # Follow one batch until it ends
  flock watch --batch 3f6c2a

  # Export events as JSON
  flock watch --output=json > events.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchBatchID, "batch", "", "Only show this batch and exit when it ends")
	watchCmd.Flags().StringVar(&watchType, "type", "", "Only show event types matching this glob, e.g. 'fail*'")
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, err := watch.ParseOutputFormat(watchOutputFormat)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, json"})
	}

	crit := filter.Criteria{TypeGlob: watchType}
	if err := crit.Validate(); err != nil {
		return printer.Error("invalid --type", err.Error(), []string{"Event types: started, progress, finished, failed, interrupted"})
	}

	// Watching needs only the store, not the databases or plugins.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	client, err := blackboard.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	}, cfg.Instance)
	if err != nil {
		return fmt.Errorf("failed to create blackboard client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", cfg.Redis.Addr),
			map[string]string{"Instance": cfg.Instance},
			[]string{"Start a local store:\n  flock store up"},
		)
	}

	if watchBatchID != "" {
		if crit.BatchID, err = resolver.ResolveBatchID(ctx, client, watchBatchID); err != nil {
			var amb *resolver.AmbiguousError
			if errors.As(err, &amb) {
				return printer.Error("ambiguous batch ID", err.Error(), amb.Suggestions())
			}
			return printer.Error("unknown batch", err.Error(), []string{"List recent batches:\n  flock status"})
		}
	}

	return watch.StreamBatches(ctx, client, crit, format, printer.Stdout())
}

