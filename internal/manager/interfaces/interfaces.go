package interfaces

import (
	"context"
	"time"

	"github.com/code-sleuth/roeum-go/internal/manager/models"
)

// ImportResult summarizes one importer run.
type ImportResult struct {
	Source    string
	Documents int
	Skipped   int
}

// TransformResult is a document header with its ordered chunks.
type TransformResult struct {
	Header  *models.DocumentHeader
	Chunks  []*models.Chunk
	Dropped int
}

// Importer reads raw documents produced by the scraper.
type Importer interface {
	// Import streams documents from source to out until the source is
	// exhausted or ctx is done
	Import(ctx context.Context, source string, out chan<- *models.RawDocument) (*ImportResult, error)

	// GetSourceType returns the type of source this importer handles
	GetSourceType() string

	// ValidateSource checks if the source is usable by this importer
	ValidateSource(source string) error
}

// Segmenter splits normalized text into structural spans.
type Segmenter interface {
	Segment(text string) []models.StructuralSpan
}

// Chunker breaks leaf text into size-bounded pieces.
type Chunker interface {
	// Chunk splits text into chunks
	Chunk(text string) ([]string, error)

	// GetChunkingStrategy returns the strategy name used by this chunker
	GetChunkingStrategy() string
}

// Transformer turns a raw document into a header and chunks.
type Transformer interface {
	// Transform converts a raw document into addressed chunks
	Transform(ctx context.Context, doc *models.RawDocument) (*TransformResult, error)

	// GetDocumentKind returns the kind of document this transformer handles
	GetDocumentKind() models.DocumentKind

	// CanTransform checks if this transformer can handle the given document
	CanTransform(doc *models.RawDocument) bool
}

// Embedder turns texts into fixed-dimension vectors.
type Embedder interface {
	// GenerateEmbeddings returns one vector per input text, in order
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)

	// GetModelName returns the name of the embedding model
	GetModelName() string

	// GetDimension returns the dimension of the embedding vectors
	GetDimension() int
}

// QueueProducerStore is the part of the queue the producer writes to.
type QueueProducerStore interface {
	EnsureSchema(ctx context.Context) error
	EnqueueChunks(ctx context.Context, header *models.DocumentHeader, chunks []*models.Chunk) (int, error)
}

// QueueConsumerStore is the part of the queue the worker pool uses.
type QueueConsumerStore interface {
	// EnsureDimension records dim on first use and rejects any other
	// dimension afterwards
	EnsureDimension(ctx context.Context, dim int) error

	// Claim moves up to limit pending rows to working for workerID
	Claim(ctx context.Context, workerID string, limit int) ([]*models.QueueEntry, error)

	// CommitResults upserts vectors and marks rows done, skipping rows no
	// longer owned by workerID
	CommitResults(ctx context.Context, workerID string, results []*models.EmbeddingResult) (int, error)

	// MarkError moves owned rows to error with a message
	MarkError(ctx context.Context, workerID string, ids []int64, message string) error

	// ReleaseClaims returns owned rows to pending
	ReleaseClaims(ctx context.Context, workerID string, ids []int64) error

	// ReclaimStale returns rows stuck in working longer than olderThan to
	// pending, or to error once they reached maxClaims
	ReclaimStale(ctx context.Context, olderThan time.Duration, maxClaims int) (reclaimed, failed int, err error)
}

// ProcessingOptions contains configuration for processing pipelines.
type ProcessingOptions struct {
	Concurrency int
	DryRun      bool
	Timeout     time.Duration

	// OnResult, when set, receives every transform result. Calls are
	// serialized.
	OnResult func(result *TransformResult) error
}

// ProcessingEngine orchestrates import, transform and enqueue.
type ProcessingEngine interface {
	// ProcessSource imports every document from source and processes it
	ProcessSource(ctx context.Context, sourceType, source string, options *ProcessingOptions) (*ProcessingStats, error)

	// ProcessDocument transforms one document and enqueues its chunks
	ProcessDocument(ctx context.Context, doc *models.RawDocument, options *ProcessingOptions) (*TransformResult, int, error)

	// RegisterImporter adds a new importer to the engine
	RegisterImporter(importer Importer) error

	// RegisterTransformer adds a new transformer to the engine
	RegisterTransformer(transformer Transformer) error
}

// ProcessingStats summarizes a ProcessSource run.
type ProcessingStats struct {
	Documents int
	Skipped   int
	Failed    int
	Chunks    int
	Dropped   int
	Enqueued  int
}
