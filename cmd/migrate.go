package cmd

import (
	"github.com/spf13/cobra"
)

var migrateDim int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the queue schema",
	Long: `Create the embedding_queue and queue_meta tables and apply pending schema
upgrades. With --dim (or EMBED_DIM) the result table is created with that vector
dimension; otherwise the first worker fixes it.`,
	Run: func(cmd *cobra.Command, _ []string) {
		logger := newLogger()
		ctx, cancel := signalContext()
		defer cancel()

		database, repo, err := openQueue(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to prepare queue schema")
		}
		defer closeDB(logger, database)

		dim := migrateDim
		if !cmd.Flags().Changed("dim") {
			dim = cfg.EmbedDim
		}
		if dim > 0 {
			if err := repo.EnsureDimension(ctx, dim); err != nil {
				logger.Fatal().Err(err).Int("dim", dim).Msg("Failed to fix embedding dimension")
			}
		}

		logger.Info().Str("dialect", string(repo.Dialect())).Int("dim", dim).Msg("Database migration completed successfully!")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().IntVar(&migrateDim, "dim", 0, "Vector dimension of the result table")
}
