package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/code-sleuth/roeum-go/internal/manager/interfaces"
	"github.com/code-sleuth/roeum-go/internal/manager/models"
	"github.com/code-sleuth/roeum-go/pkg/util"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
)

const defaultConcurrency = 4

var (
	// Registration errors.
	ErrImporterAlreadyRegistered    = errors.New("importer already registered for source type")
	ErrTransformerAlreadyRegistered = errors.New("transformer already registered for document kind")

	// Processing errors.
	ErrNoImporterRegistered    = errors.New("no importer registered for source type")
	ErrNoTransformerRegistered = errors.New("no transformer registered for document kind")
	ErrNoImporterCanHandle     = errors.New("no importer can handle source")
	ErrNilDocument             = errors.New("document is nil")
)

// ProcessingEngine imports raw documents, transforms them into chunks and
// hands the chunks to the producer.
type ProcessingEngine struct {
	importers    map[string]interfaces.Importer
	transformers map[models.DocumentKind]interfaces.Transformer
	producer     *Producer
	logger       zerolog.Logger
	mu           sync.RWMutex
	resultMu     sync.Mutex
}

var _ interfaces.ProcessingEngine = (*ProcessingEngine)(nil)

// NewProcessingEngine creates a new processing engine. A nil producer makes
// every run a dry run.
func NewProcessingEngine(producer *Producer) *ProcessingEngine {
	return &ProcessingEngine{
		importers:    make(map[string]interfaces.Importer),
		transformers: make(map[models.DocumentKind]interfaces.Transformer),
		producer:     producer,
		logger:       util.NewLogger(util.LevelFromEnv("LOG_LEVEL", zerolog.ErrorLevel)),
	}
}

// RegisterImporter adds a new importer to the engine.
func (e *ProcessingEngine) RegisterImporter(importer interfaces.Importer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sourceType := importer.GetSourceType()
	if _, exists := e.importers[sourceType]; exists {
		e.logger.Error().Str("source_type", sourceType).Msg("Importer already registered")
		return ErrImporterAlreadyRegistered
	}

	e.importers[sourceType] = importer
	e.logger.Debug().Str("source_type", sourceType).Msg("Registered importer")
	return nil
}

// RegisterTransformer adds a new transformer to the engine.
func (e *ProcessingEngine) RegisterTransformer(transformer interfaces.Transformer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	kind := transformer.GetDocumentKind()
	if _, exists := e.transformers[kind]; exists {
		e.logger.Error().Str("kind", string(kind)).Msg("Transformer already registered")
		return ErrTransformerAlreadyRegistered
	}

	e.transformers[kind] = transformer
	e.logger.Debug().Str("kind", string(kind)).Msg("Registered transformer")
	return nil
}

// ProcessSource imports every document from source and processes them on a
// pool of options.Concurrency goroutines. An empty sourceType picks the
// first importer, by name, that accepts the source. Failed documents are
// counted and logged; only import errors fail the run.
func (e *ProcessingEngine) ProcessSource(
	ctx context.Context,
	sourceType, source string,
	options *interfaces.ProcessingOptions,
) (*interfaces.ProcessingStats, error) {
	if options == nil {
		options = &interfaces.ProcessingOptions{}
	}

	importer, err := e.importerFor(sourceType, source)
	if err != nil {
		e.logger.Error().Err(err).Str("source", source).Str("source_type", sourceType).Msg("Failed to select importer")
		return nil, err
	}

	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	concurrency := options.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		e.logger.Error().Err(err).Int("concurrency", concurrency).Msg("Failed to create worker pool")
		return nil, err
	}
	defer pool.Release()

	e.logger.Info().
		Str("source", source).
		Str("source_type", importer.GetSourceType()).
		Int("concurrency", concurrency).
		Msg("Starting import")

	docs := make(chan *models.RawDocument, concurrency)
	var (
		importResult *interfaces.ImportResult
		importErr    error
	)
	go func() {
		defer close(docs)
		importResult, importErr = importer.Import(ctx, source, docs)
	}()

	stats := &interfaces.ProcessingStats{}
	var (
		wg      sync.WaitGroup
		statsMu sync.Mutex
	)
	for doc := range docs {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			result, enqueued, err := e.ProcessDocument(ctx, doc, options)
			doc.Done(err)

			statsMu.Lock()
			defer statsMu.Unlock()
			stats.Documents++
			if err != nil {
				stats.Failed++
				return
			}
			stats.Chunks += len(result.Chunks)
			stats.Dropped += result.Dropped
			stats.Enqueued += enqueued
		}
		// Submit blocks while the pool is full, which throttles the importer.
		if err := pool.Submit(task); err != nil {
			wg.Done()
			doc.Done(err)
			e.logger.Error().Err(err).Str("source_url", doc.SourceURL).Msg("Failed to submit document")
			statsMu.Lock()
			stats.Documents++
			stats.Failed++
			statsMu.Unlock()
		}
	}
	wg.Wait()

	if importResult != nil {
		stats.Skipped = importResult.Skipped
	}
	if importErr != nil {
		e.logger.Error().Err(importErr).Str("source", source).Msg("Import failed")
		return stats, importErr
	}

	e.logger.Info().
		Str("source", source).
		Int("documents", stats.Documents).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Int("chunks", stats.Chunks).
		Int("enqueued", stats.Enqueued).
		Msg("Import finished")

	return stats, nil
}

// ProcessDocument transforms doc and enqueues its chunks. It returns the
// transform result and the number of queue rows written.
func (e *ProcessingEngine) ProcessDocument(
	ctx context.Context,
	doc *models.RawDocument,
	options *interfaces.ProcessingOptions,
) (*interfaces.TransformResult, int, error) {
	if doc == nil {
		return nil, 0, ErrNilDocument
	}
	if options == nil {
		options = &interfaces.ProcessingOptions{}
	}

	transformer, err := e.transformerFor(doc)
	if err != nil {
		e.logger.Error().Err(err).Str("source_url", doc.SourceURL).Str("kind", string(doc.Kind)).Msg("No transformer for document")
		return nil, 0, err
	}

	result, err := transformer.Transform(ctx, doc)
	if err != nil {
		e.logger.Error().Err(err).Str("source_url", doc.SourceURL).Msg("Transformation failed")
		return nil, 0, err
	}

	if options.OnResult != nil {
		e.resultMu.Lock()
		err := options.OnResult(result)
		e.resultMu.Unlock()
		if err != nil {
			e.logger.Error().Err(err).Str("doc_id", result.Header.DocID).Msg("Result handler failed")
			return nil, 0, err
		}
	}

	if options.DryRun || e.producer == nil {
		return result, 0, nil
	}

	return result, e.producer.Enqueue(ctx, result.Header, result.Chunks), nil
}

func (e *ProcessingEngine) importerFor(sourceType, source string) (interfaces.Importer, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if sourceType != "" {
		importer, exists := e.importers[sourceType]
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrNoImporterRegistered, sourceType)
		}
		return importer, nil
	}

	types := make([]string, 0, len(e.importers))
	for t := range e.importers {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		if err := e.importers[t].ValidateSource(source); err == nil {
			return e.importers[t], nil
		}
	}
	return nil, ErrNoImporterCanHandle
}

func (e *ProcessingEngine) transformerFor(doc *models.RawDocument) (interfaces.Transformer, error) {
	kind := doc.Kind
	if kind == "" {
		kind = models.KindStatute
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	transformer, exists := e.transformers[kind]
	if !exists || !transformer.CanTransform(doc) {
		return nil, fmt.Errorf("%w: %q", ErrNoTransformerRegistered, kind)
	}
	return transformer, nil
}
