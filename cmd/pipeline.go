package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/code-sleuth/roeum-go/internal/manager/chunkers"
	"github.com/code-sleuth/roeum-go/internal/manager/importers"
	"github.com/code-sleuth/roeum-go/internal/manager/services"
	"github.com/code-sleuth/roeum-go/internal/manager/transformers"

	"github.com/rs/zerolog"
)

// importer tuning shared by chunk and enqueue
var (
	sourceType string
	perPage    int
	maxPages   int
)

// newEngine wires the importers and the statute and ruling transformers.
func newEngine(logger zerolog.Logger, producer *services.Producer) (*services.ProcessingEngine, error) {
	engine := services.NewProcessingEngine(producer)

	httpImporter := importers.NewHTTPImporter()
	if perPage > 0 {
		httpImporter.SetPerPage(perPage)
	}
	if maxPages > 0 {
		httpImporter.SetMaxPages(maxPages)
	}
	if err := engine.RegisterImporter(importers.NewJSONLImporter()); err != nil {
		return nil, fmt.Errorf("failed to register JSONL importer: %w", err)
	}
	if err := engine.RegisterImporter(httpImporter); err != nil {
		return nil, fmt.Errorf("failed to register HTTP importer: %w", err)
	}
	if err := engine.RegisterImporter(importers.NewSpoolImporter()); err != nil {
		return nil, fmt.Errorf("failed to register spool importer: %w", err)
	}

	tokens, err := chunkers.NewTokenCounterFor(cfg.Tokenizer)
	if err != nil {
		// Token estimates fall back to rune counts.
		logger.Warn().Err(err).Str("tokenizer", cfg.Tokenizer).Msg("Tokenizer unavailable")
		tokens = nil
	}

	statuteChunker, err := chunkers.NewSentenceChunker(cfg.ChunkTargetSize, cfg.ChunkMaxSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("failed to create statute chunker: %w", err)
	}
	if err := engine.RegisterTransformer(transformers.NewStatuteTransformer(statuteChunker, tokens)); err != nil {
		return nil, fmt.Errorf("failed to register statute transformer: %w", err)
	}

	rulingChunker, err := chunkers.NewOverlapChunker(cfg.RulingMaxSize, cfg.RulingOverlap)
	if err != nil {
		return nil, fmt.Errorf("failed to create ruling chunker: %w", err)
	}
	if err := engine.RegisterTransformer(transformers.NewRulingTransformer(rulingChunker, tokens)); err != nil {
		return nil, fmt.Errorf("failed to register ruling transformer: %w", err)
	}

	return engine, nil
}

// detectSourceType guesses the importer from the shape of source.
func detectSourceType(source string) string {
	switch {
	case sourceType != "":
		return sourceType
	case source == importers.StdinSource:
		return "jsonl"
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return "http"
	}
	if info, err := os.Stat(source); err == nil && info.IsDir() {
		return "spool"
	}
	return "jsonl"
}
