package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/code-sleuth/roeum-go/internal/manager/models"
	"github.com/code-sleuth/roeum-go/internal/manager/repository"

	"github.com/spf13/cobra"
)

var (
	queueStatus    string
	queueLimit     int
	queueOffset    int
	queueOlderThan time.Duration
	queueMaxClaims int
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and repair the embedding queue",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count queue rows per status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withQueue(func(ctx context.Context, repo *repository.QueueRepository) error {
			stats, err := repo.Stats(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		})
	},
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue rows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		status := models.QueueStatus(queueStatus)
		return withQueue(func(ctx context.Context, repo *repository.QueueRepository) error {
			entries, err := repo.List(ctx, status, queueLimit, queueOffset)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		})
	},
}

var queueGetCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show one queue row",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return withQueue(func(ctx context.Context, repo *repository.QueueRepository) error {
			entry, err := repo.Get(ctx, ids[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entry)
		})
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry [id...]",
	Short: "Return error rows to pending",
	Long:  `Return the given error rows to pending. Without ids every error row is retried.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return withQueue(func(ctx context.Context, repo *repository.QueueRepository) error {
			n, err := repo.RetryErrors(ctx, ids...)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"retried": n})
		})
	},
}

var queueReclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Return rows stuck in working to pending",
	Long: `Return rows claimed longer than --older-than ago to pending. Rows already
claimed --max-claims times move to error instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		olderThan := cfg.WorkerReclaimAfter
		if cmd.Flags().Changed("older-than") {
			olderThan = queueOlderThan
		}
		maxClaims := cfg.WorkerMaxClaims
		if cmd.Flags().Changed("max-claims") {
			maxClaims = queueMaxClaims
		}
		return withQueue(func(ctx context.Context, repo *repository.QueueRepository) error {
			reclaimed, failed, err := repo.ReclaimStale(ctx, olderThan, maxClaims)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"reclaimed": reclaimed, "failed": failed})
		})
	},
}

// withQueue opens the queue for a single command and closes it afterwards.
func withQueue(fn func(ctx context.Context, repo *repository.QueueRepository) error) error {
	logger := newLogger()
	ctx, cancel := signalContext()
	defer cancel()

	database, repo, err := openQueue(ctx)
	if err != nil {
		return err
	}
	defer closeDB(logger, database)
	return fn(ctx, repo)
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid queue id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueStatsCmd, queueListCmd, queueGetCmd, queueRetryCmd, queueReclaimCmd)

	queueListCmd.Flags().StringVarP(&queueStatus, "status", "s", "", "Only rows with this status (pending, working, done, error)")
	queueListCmd.Flags().IntVarP(&queueLimit, "limit", "l", 50, "Maximum number of rows")
	queueListCmd.Flags().IntVar(&queueOffset, "offset", 0, "Rows to skip")

	queueReclaimCmd.Flags().DurationVar(&queueOlderThan, "older-than", 0, "Claim age before a row is reclaimed (default WORKER_RECLAIM_AFTER)")
	queueReclaimCmd.Flags().IntVar(&queueMaxClaims, "max-claims", 0, "Claims after which a row moves to error (default WORKER_MAX_CLAIMS)")
}
