package cmd

import (
	"context"

	"github.com/code-sleuth/roeum-go/internal/manager/repository"

	"github.com/spf13/cobra"
)

var (
	embeddingsLimit  int
	embeddingsOffset int
)

var embeddingsCmd = &cobra.Command{
	Use:   "embeddings",
	Short: "Read stored embeddings",
}

var embeddingsGetCmd = &cobra.Command{
	Use:   "get [queue_id]",
	Short: "Show the vector stored for a queue row",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return withQueue(func(ctx context.Context, repo *repository.QueueRepository) error {
			result, err := repo.GetEmbedding(ctx, ids[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}

var embeddingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored embeddings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withQueue(func(ctx context.Context, repo *repository.QueueRepository) error {
			total, err := repo.CountEmbeddings(ctx)
			if err != nil {
				return err
			}
			results, err := repo.ListEmbeddings(ctx, embeddingsLimit, embeddingsOffset)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"total":      total,
				"embeddings": results,
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(embeddingsCmd)
	embeddingsCmd.AddCommand(embeddingsGetCmd, embeddingsListCmd)

	embeddingsListCmd.Flags().IntVarP(&embeddingsLimit, "limit", "l", 20, "Maximum number of vectors")
	embeddingsListCmd.Flags().IntVar(&embeddingsOffset, "offset", 0, "Vectors to skip")
}
