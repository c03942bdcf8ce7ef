package cmd

import (
	"github.com/code-sleuth/roeum-go/internal/manager/embedders"
	"github.com/code-sleuth/roeum-go/internal/manager/services"

	"github.com/spf13/cobra"
)

var (
	workerCount int
	workerOnce  bool
	workerBatch int
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run embedding workers against the queue",
	Long: `Claim pending queue rows, embed them with the configured backend
(EMBED_BACKEND) and store the vectors. Workers poll until interrupted; with
--once they exit as soon as no pending rows are left.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		logger := newLogger()
		ctx, cancel := signalContext()
		defer cancel()

		embedder, err := embedders.New(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Str("backend", cfg.EmbedBackend).Msg("Failed to create embedder")
		}

		database, repo, err := openQueue(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open embedding queue")
		}
		defer closeDB(logger, database)

		opts := services.WorkerOptionsFromConfig(cfg)
		if cmd.Flags().Changed("batch") {
			opts.Batch = workerBatch
		}
		worker, err := services.NewWorker(repo, embedder, opts)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create worker")
		}

		if workerOnce {
			if err := worker.Prepare(ctx); err != nil {
				logger.Fatal().Err(err).Msg("Worker cannot start")
			}
			total := 0
			for ctx.Err() == nil {
				n, err := worker.RunOnce(ctx)
				if err != nil {
					logger.Fatal().Err(err).Int("processed", total).Msg("Worker batch failed")
				}
				if n == 0 {
					break
				}
				total += n
			}
			logger.Info().Int("processed", total).Msg("Queue drained")
			return
		}

		logger.Info().
			Int("workers", workerCount).
			Str("backend", cfg.EmbedBackend).
			Str("model", embedder.GetModelName()).
			Msg("Starting workers")
		if err := services.RunWorkers(ctx, worker, workerCount); err != nil {
			logger.Fatal().Err(err).Msg("Workers stopped with error")
		}
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().IntVarP(&workerCount, "workers", "n", 1, "Number of concurrent workers")
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "Exit when no pending rows are left")
	workerCmd.Flags().IntVar(&workerBatch, "batch", 0, "Rows claimed per batch (default WORKER_BATCH)")
}
