package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/code-sleuth/roeum-go/internal/manager/interfaces"

	"github.com/spf13/cobra"
)

var (
	chunkOutDir      string
	chunkConcurrency int
)

var chunkCmd = &cobra.Command{
	Use:   "chunk [source]",
	Short: "Chunk documents to JSONL files without touching the queue",
	Long: `Read scraper output and write documents.jsonl (one header per document) and
chunks.jsonl (one chunk per line) into --out-dir. No database is needed.

Source may be a JSONL file, "-" for stdin, an HTTP export endpoint or a spool
directory.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger()
		ctx, cancel := signalContext()
		defer cancel()

		source := args[0]
		engine, err := newEngine(logger, nil)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to build processing engine")
		}

		if err := os.MkdirAll(chunkOutDir, 0o755); err != nil {
			logger.Fatal().Err(err).Str("out_dir", chunkOutDir).Msg("Failed to create output directory")
		}
		docsOut, err := newJSONLWriter(filepath.Join(chunkOutDir, "documents.jsonl"))
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open documents.jsonl")
		}
		chunksOut, err := newJSONLWriter(filepath.Join(chunkOutDir, "chunks.jsonl"))
		if err != nil {
			_ = docsOut.Close()
			logger.Fatal().Err(err).Msg("Failed to open chunks.jsonl")
		}

		options := &interfaces.ProcessingOptions{
			Concurrency: chunkConcurrency,
			DryRun:      true,
			OnResult: func(result *interfaces.TransformResult) error {
				if err := docsOut.Write(result.Header); err != nil {
					return err
				}
				for _, c := range result.Chunks {
					if err := chunksOut.Write(c); err != nil {
						return err
					}
				}
				return nil
			},
		}

		stats, runErr := engine.ProcessSource(ctx, detectSourceType(source), source, options)
		for _, w := range []*jsonlWriter{docsOut, chunksOut} {
			if err := w.Close(); err != nil {
				logger.Error().Err(err).Str("path", w.path).Msg("Failed to flush output")
				runErr = err
			}
		}
		if runErr != nil {
			logger.Fatal().Err(runErr).Str("source", source).Msg("Chunking failed")
		}

		printStats(cmd, stats)
	},
}

// jsonlWriter appends one JSON value per line to a buffered file.
type jsonlWriter struct {
	path string
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

func newJSONLWriter(path string) (*jsonlWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(f)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &jsonlWriter{path: path, file: f, buf: buf, enc: enc}, nil
}

func (w *jsonlWriter) Write(v any) error {
	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	return nil
}

func (w *jsonlWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}

func printStats(cmd *cobra.Command, stats *interfaces.ProcessingStats) {
	if stats == nil {
		return
	}
	_ = printJSON(cmd.OutOrStdout(), map[string]int{
		"documents": stats.Documents,
		"skipped":   stats.Skipped,
		"failed":    stats.Failed,
		"chunks":    stats.Chunks,
		"dropped":   stats.Dropped,
		"enqueued":  stats.Enqueued,
	})
}

func init() {
	rootCmd.AddCommand(chunkCmd)
	chunkCmd.Flags().StringVarP(&chunkOutDir, "out-dir", "o", ".", "Directory for documents.jsonl and chunks.jsonl")
	chunkCmd.Flags().IntVar(&chunkConcurrency, "concurrency", 1, "Documents transformed in parallel (1 keeps input order)")
	chunkCmd.Flags().StringVarP(&sourceType, "type", "t", "", "Source type (jsonl, http, spool); detected when empty")
	chunkCmd.Flags().IntVar(&perPage, "per-page", 0, "Records per page for HTTP sources")
	chunkCmd.Flags().IntVar(&maxPages, "max-pages", 0, "Page limit for HTTP sources")
}
