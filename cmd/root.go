package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/code-sleuth/roeum-go/internal/manager/config"
	"github.com/code-sleuth/roeum-go/internal/manager/repository"
	"github.com/code-sleuth/roeum-go/pkg/db"
	"github.com/code-sleuth/roeum-go/pkg/util"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "roeum",
	Short: "Chunk Korean legal documents and embed them through a durable queue",
	Long: `roeum turns scraped statutes and court rulings into hierarchically addressed
chunks, queues them in PostgreSQL, SQLite or libSQL, and runs embedding workers
that drain the queue into a vector table.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger := util.NewLogger(zerolog.ErrorLevel)
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "TOML config file (environment variables override it)")
}

func initEnv() {
	logger := util.NewLogger(util.LevelFromEnv("LOG_LEVEL", zerolog.ErrorLevel))
	if err := godotenv.Load(); err != nil {
		logger.Debug().Err(err).Msg("No .env file loaded")
	}
}

func loadConfig(_ *cobra.Command, _ []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	// Components read LOG_LEVEL themselves.
	if os.Getenv("LOG_LEVEL") == "" && cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
	return nil
}

func newLogger() zerolog.Logger {
	return util.NewLogger(util.ParseLevel(cfg.LogLevel, zerolog.InfoLevel))
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openQueue connects to the configured database and ensures the queue schema.
func openQueue(ctx context.Context) (*db.DB, *repository.QueueRepository, error) {
	if cfg.DBDSN == "" {
		return nil, nil, db.ErrDatabaseURLRequired
	}
	database, err := db.Open(cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	repo := repository.NewQueueRepository(database)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = database.Close()
		return nil, nil, err
	}
	return database, repo, nil
}

func closeDB(logger zerolog.Logger, database *db.DB) {
	if err := database.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close database connection")
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
