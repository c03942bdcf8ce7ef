package services

import (
	"context"
	"sync"

	"github.com/code-sleuth/roeum-go/internal/manager/interfaces"
	"github.com/code-sleuth/roeum-go/internal/manager/models"
	"github.com/code-sleuth/roeum-go/pkg/util"

	"github.com/rs/zerolog"
)

// Producer writes document chunks to the embedding queue.
type Producer struct {
	store  interfaces.QueueProducerStore
	logger zerolog.Logger

	mu      sync.Mutex
	ensured bool
}

// NewProducer creates a producer. A nil store makes every Enqueue a logged
// no-op.
func NewProducer(store interfaces.QueueProducerStore) *Producer {
	return &Producer{
		store:  store,
		logger: util.NewLogger(util.LevelFromEnv("LOG_LEVEL", zerolog.ErrorLevel)),
	}
}

// Enqueue upserts one pending row per chunk and returns the number of rows
// written. It never fails: an unreachable store is logged and yields 0, so
// chunking keeps going when the queue is down.
func (p *Producer) Enqueue(ctx context.Context, header *models.DocumentHeader, chunks []*models.Chunk) int {
	if header == nil || len(chunks) == 0 {
		return 0
	}
	if p.store == nil {
		p.logger.Warn().Str("doc_id", header.DocID).Msg("queue store not configured, chunks not enqueued")
		return 0
	}

	if err := p.ensureSchema(ctx); err != nil {
		p.logger.Error().Err(err).Str("doc_id", header.DocID).Msg("queue unavailable, chunks not enqueued")
		return 0
	}

	n, err := p.store.EnqueueChunks(ctx, header, chunks)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("doc_id", header.DocID).
			Str("source_url", header.SourceURL).
			Int("chunks", len(chunks)).
			Msg("failed to enqueue chunks")
		return 0
	}

	p.logger.Info().
		Str("doc_id", header.DocID).
		Int("chunks", len(chunks)).
		Int("enqueued", n).
		Msg("enqueued chunks")

	return n
}

// ensureSchema runs the store's schema check until it first succeeds.
func (p *Producer) ensureSchema(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ensured {
		return nil
	}
	if err := p.store.EnsureSchema(ctx); err != nil {
		return err
	}
	p.ensured = true
	return nil
}
