package cmd

import (
	"time"

	"github.com/code-sleuth/roeum-go/internal/manager/interfaces"
	"github.com/code-sleuth/roeum-go/internal/manager/services"

	"github.com/spf13/cobra"
)

var (
	enqueueWatch       bool
	enqueueConcurrency int
	enqueueDryRun      bool
	enqueueTimeout     time.Duration
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [source]",
	Short: "Chunk documents and add them to the embedding queue",
	Long: `Read scraper output, chunk every document and upsert one pending queue row
per chunk. Re-running over the same documents does not duplicate rows.

With --watch the source is a spool directory: existing *.jsonl files are
processed, then new files are picked up until the command is interrupted.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger()
		ctx, cancel := signalContext()
		defer cancel()

		source := args[0]
		var producer *services.Producer
		if !enqueueDryRun {
			database, repo, err := openQueue(ctx)
			if err != nil {
				logger.Fatal().Err(err).Msg("Failed to open embedding queue")
			}
			defer closeDB(logger, database)
			producer = services.NewProducer(repo)
		}

		engine, err := newEngine(logger, producer)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to build processing engine")
		}

		concurrency := enqueueConcurrency
		if !cmd.Flags().Changed("concurrency") {
			concurrency = cfg.EngineConcurrency
		}
		st := detectSourceType(source)
		if enqueueWatch {
			st = "spool"
		}

		stats, err := engine.ProcessSource(ctx, st, source, &interfaces.ProcessingOptions{
			Concurrency: concurrency,
			DryRun:      enqueueDryRun,
			Timeout:     enqueueTimeout,
		})
		if err != nil {
			logger.Fatal().Err(err).Str("source", source).Msg("Enqueue failed")
		}

		printStats(cmd, stats)
	},
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
	enqueueCmd.Flags().StringVarP(&sourceType, "type", "t", "", "Source type (jsonl, http, spool); detected when empty")
	enqueueCmd.Flags().BoolVarP(&enqueueWatch, "watch", "w", false, "Watch a spool directory for new files")
	enqueueCmd.Flags().IntVar(&enqueueConcurrency, "concurrency", 0, "Documents processed in parallel (default ENGINE_CONCURRENCY)")
	enqueueCmd.Flags().IntVar(&perPage, "per-page", 0, "Records per page for HTTP sources")
	enqueueCmd.Flags().IntVar(&maxPages, "max-pages", 0, "Page limit for HTTP sources")
	enqueueCmd.Flags().BoolVar(&enqueueDryRun, "dry-run", false, "Chunk without writing to the queue")
	enqueueCmd.Flags().DurationVar(&enqueueTimeout, "timeout", 0, "Abort the run after this long (0 disables)")
}
