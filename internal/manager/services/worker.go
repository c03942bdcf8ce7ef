package services

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/code-sleuth/roeum-go/internal/manager/config"
	"github.com/code-sleuth/roeum-go/internal/manager/embedders"
	"github.com/code-sleuth/roeum-go/internal/manager/interfaces"
	"github.com/code-sleuth/roeum-go/internal/manager/models"
	"github.com/code-sleuth/roeum-go/internal/manager/repository"
	"github.com/code-sleuth/roeum-go/pkg/util"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Backoff between failed embedding attempts: 1.5s doubling up to 30s, plus
// up to a second of jitter.
const (
	backoffBase   = 1500 * time.Millisecond
	backoffCap    = 30 * time.Second
	backoffJitter = time.Second
)

var (
	ErrEmbeddingFailed = errors.New("embedding failed")
	ErrCommitFailed    = errors.New("commit failed")
	ErrNoEmbedder      = errors.New("worker has no embedder")
	ErrNoStore         = errors.New("worker has no queue store")
)

// WorkerOptions tunes a worker loop.
type WorkerOptions struct {
	Batch        int
	Poll         time.Duration
	MaxAttempts  int
	ReclaimAfter time.Duration
	MaxClaims    int
	Concurrency  int
	EmbedBatch   int
	RPS          float64
	CacheSize    int
}

// WorkerOptionsFromConfig maps the WORKER_* and EMBED_* settings.
func WorkerOptionsFromConfig(cfg *config.Config) WorkerOptions {
	return WorkerOptions{
		Batch:        cfg.WorkerBatch,
		Poll:         cfg.WorkerPoll,
		MaxAttempts:  cfg.WorkerMaxAttempts,
		ReclaimAfter: cfg.WorkerReclaimAfter,
		MaxClaims:    cfg.WorkerMaxClaims,
		Concurrency:  cfg.WorkerConcurrency,
		EmbedBatch:   cfg.EmbedBatch,
		RPS:          cfg.EmbedRPS,
		CacheSize:    cfg.EmbedCacheSize,
	}
}

func (o *WorkerOptions) defaults() {
	if o.Batch <= 0 {
		o.Batch = 64
	}
	if o.Poll <= 0 {
		o.Poll = 2 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 6
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.EmbedBatch <= 0 {
		o.EmbedBatch = o.Batch
	}
}

// Worker claims pending queue rows, embeds them and commits the vectors.
// Workers made by Clone share the rate limiter and the embedding cache.
type Worker struct {
	id       string
	store    interfaces.QueueConsumerStore
	embedder interfaces.Embedder
	dim      int
	opts     WorkerOptions
	limiter  *rate.Limiter
	cache    *lru.Cache[[32]byte, []float32]
	logger   zerolog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewWorker creates a worker with a fresh UUID.
func NewWorker(store interfaces.QueueConsumerStore, embedder interfaces.Embedder, opts WorkerOptions) (*Worker, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	if embedder == nil {
		return nil, ErrNoEmbedder
	}
	opts.defaults()

	w := &Worker{
		id:       uuid.New().String(),
		store:    store,
		embedder: embedder,
		dim:      embedder.GetDimension(),
		opts:     opts,
		logger:   util.NewLogger(util.LevelFromEnv("LOG_LEVEL", zerolog.ErrorLevel)),
		sleep:    sleepContext,
		jitter:   func() time.Duration { return rand.N(backoffJitter) },
	}
	if opts.RPS > 0 {
		burst := int(opts.RPS)
		if burst < 1 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[[32]byte, []float32](opts.CacheSize)
		if err != nil {
			return nil, err
		}
		w.cache = cache
	}
	return w, nil
}

// Clone returns a worker with a new id sharing everything else.
func (w *Worker) Clone() *Worker {
	c := *w
	c.id = uuid.New().String()
	return &c
}

// ID returns the worker id stored on claimed rows.
func (w *Worker) ID() string {
	return w.id
}

// Prepare pins the embedder's dimension in the store. A store already
// holding another dimension is a fatal configuration error.
func (w *Worker) Prepare(ctx context.Context) error {
	if w.dim <= 0 {
		return embedders.ErrDimensionUnknown
	}
	if err := w.store.EnsureDimension(ctx, w.dim); err != nil {
		w.logger.Error().Err(err).Int("dim", w.dim).Msg("embedding dimension rejected by store")
		return err
	}
	return nil
}

// Run polls the queue until ctx is done. Only fatal errors end the loop;
// store and backend failures are logged and retried on the next poll.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Prepare(ctx); err != nil {
		return err
	}

	w.logger.Info().
		Str("worker_id", w.id).
		Str("model", w.embedder.GetModelName()).
		Int("dim", w.dim).
		Int("batch", w.opts.Batch).
		Msg("worker started")

	for {
		if ctx.Err() != nil {
			w.logger.Info().Str("worker_id", w.id).Msg("worker stopped")
			return nil
		}

		n, err := w.RunOnce(ctx)
		switch {
		case err != nil && isFatal(err):
			return err
		case err != nil && ctx.Err() != nil:
			continue
		case err != nil:
			w.logger.Error().Err(err).Str("worker_id", w.id).Msg("batch failed")
		case n > 0:
			continue
		}

		w.reclaim(ctx)
		if err := w.sleep(ctx, w.opts.Poll); err != nil {
			continue
		}
	}
}

// RunOnce processes a single batch and returns the number of rows claimed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	entries, err := w.store.Claim(ctx, w.id, w.opts.Batch)
	if err != nil {
		w.logger.Error().Err(err).Str("worker_id", w.id).Msg("failed to claim rows")
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	ids := make([]int64, len(entries))
	texts := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		texts[i] = e.ChunkText
	}

	vectors, err := w.embedWithRetry(ctx, texts)
	if err != nil {
		switch {
		case isFatal(err) || ctx.Err() != nil:
			w.release(ctx, ids)
			return len(entries), err
		default:
			msg := err.Error()
			if mErr := w.store.MarkError(context.WithoutCancel(ctx), w.id, ids, msg); mErr != nil {
				w.logger.Error().Err(mErr).Ints64("ids", ids).Msg("failed to mark rows as error")
				return len(entries), mErr
			}
			w.logger.Error().Err(err).Str("worker_id", w.id).Ints64("ids", ids).Msg("rows moved to error")
			return len(entries), nil
		}
	}

	model := w.embedder.GetModelName()
	results := make([]*models.EmbeddingResult, len(entries))
	for i, e := range entries {
		results[i] = &models.EmbeddingResult{
			QueueID: e.ID,
			ChunkNo: e.ChunkNo,
			Model:   model,
			Vector:  vectors[i],
		}
	}

	committed, err := w.commitWithRetry(ctx, results)
	if err != nil {
		switch {
		case isFatal(err) || ctx.Err() != nil:
			w.release(ctx, ids)
			return len(entries), err
		default:
			if mErr := w.store.MarkError(context.WithoutCancel(ctx), w.id, ids, err.Error()); mErr != nil {
				w.logger.Error().Err(mErr).Ints64("ids", ids).Msg("failed to mark rows as error")
				return len(entries), mErr
			}
			w.logger.Error().Err(err).Str("worker_id", w.id).Ints64("ids", ids).Msg("rows moved to error")
			return len(entries), nil
		}
	}

	w.logger.Info().
		Str("worker_id", w.id).
		Int("claimed", len(entries)).
		Int("committed", committed).
		Int64("last_id", ids[len(ids)-1]).
		Msg("batch done")

	return len(entries), nil
}

// embedWithRetry embeds texts, backing off between transient failures.
func (w *Worker) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	for attempt := 1; ; attempt++ {
		vectors, err := w.embed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		if isFatal(err) || ctx.Err() != nil {
			return nil, err
		}
		if attempt >= w.opts.MaxAttempts {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrEmbeddingFailed, attempt, err)
		}

		delay := backoffDelay(attempt) + w.jitter()
		w.logger.Warn().
			Err(err).
			Str("worker_id", w.id).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("embedding backend failed")
		if err := w.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// commitWithRetry stores results, backing off between transient store
// failures. Commits are idempotent, so a retry after a lost reply is safe.
func (w *Worker) commitWithRetry(ctx context.Context, results []*models.EmbeddingResult) (int, error) {
	for attempt := 1; ; attempt++ {
		committed, err := w.store.CommitResults(ctx, w.id, results)
		if err == nil {
			return committed, nil
		}
		if isFatal(err) || ctx.Err() != nil {
			return 0, err
		}
		if attempt >= w.opts.MaxAttempts {
			return 0, fmt.Errorf("%w after %d attempts: %w", ErrCommitFailed, attempt, err)
		}

		delay := backoffDelay(attempt) + w.jitter()
		w.logger.Warn().
			Err(err).
			Str("worker_id", w.id).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("failed to commit results")
		if err := w.sleep(ctx, delay); err != nil {
			return 0, err
		}
	}
}

// embed returns one normalized vector per text. Cached texts skip the
// backend; the rest go out in sub-batches of EmbedBatch, at most
// Concurrency at a time.
func (w *Worker) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	// Identical texts are embedded once.
	pending := map[[32]byte][]int{}
	var order [][32]byte
	for i, t := range texts {
		key := sha256.Sum256([]byte(t))
		if v, ok := w.cached(key); ok {
			out[i] = v
			continue
		}
		if _, seen := pending[key]; !seen {
			order = append(order, key)
		}
		pending[key] = append(pending[key], i)
	}
	if len(order) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Concurrency)

	for start := 0; start < len(order); start += w.opts.EmbedBatch {
		keys := order[start:min(start+w.opts.EmbedBatch, len(order))]
		g.Go(func() error {
			batch := make([]string, len(keys))
			for j, k := range keys {
				batch[j] = texts[pending[k][0]]
			}

			if w.limiter != nil {
				if err := w.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			vectors, err := w.embedder.GenerateEmbeddings(gctx, batch)
			if err != nil {
				return err
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("%w: got %d for %d texts", embedders.ErrResponseLength, len(vectors), len(batch))
			}

			for j, v := range vectors {
				if len(v) != w.dim {
					return fmt.Errorf("%w: got %d, want %d", embedders.ErrDimensionMismatch, len(v), w.dim)
				}
				v = embedders.L2Normalize(v)
				if w.cache != nil {
					w.cache.Add(keys[j], v)
				}
				for _, i := range pending[keys[j]] {
					out[i] = v
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (w *Worker) cached(key [32]byte) ([]float32, bool) {
	if w.cache == nil {
		return nil, false
	}
	return w.cache.Get(key)
}

// release hands rows back to pending so another worker can take them.
func (w *Worker) release(ctx context.Context, ids []int64) {
	if err := w.store.ReleaseClaims(context.WithoutCancel(ctx), w.id, ids); err != nil {
		w.logger.Error().Err(err).Str("worker_id", w.id).Ints64("ids", ids).Msg("failed to release claims")
		return
	}
	w.logger.Warn().Str("worker_id", w.id).Ints64("ids", ids).Msg("claims released")
}

// reclaim returns abandoned working rows to the queue.
func (w *Worker) reclaim(ctx context.Context) {
	if w.opts.ReclaimAfter <= 0 {
		return
	}
	reclaimed, failed, err := w.store.ReclaimStale(ctx, w.opts.ReclaimAfter, w.opts.MaxClaims)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Str("worker_id", w.id).Msg("failed to reclaim stale rows")
		}
		return
	}
	if reclaimed > 0 || failed > 0 {
		w.logger.Info().
			Str("worker_id", w.id).
			Int("reclaimed", reclaimed).
			Int("failed", failed).
			Msg("reclaimed stale rows")
	}
}

// RunWorkers runs n workers cloned from w until ctx is done or one of them
// hits a fatal error, which stops the rest.
func RunWorkers(ctx context.Context, w *Worker, n int) error {
	if n <= 1 {
		return w.Run(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		worker := w
		if i > 0 {
			worker = w.Clone()
		}
		g.Go(func() error {
			return worker.Run(gctx)
		})
	}
	return g.Wait()
}

func backoffDelay(attempt int) time.Duration {
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}

// isFatal reports configuration errors that retrying cannot fix.
func isFatal(err error) bool {
	return errors.Is(err, embedders.ErrDimensionMismatch) ||
		errors.Is(err, embedders.ErrDimensionUnknown) ||
		errors.Is(err, repository.ErrDimensionMismatch) ||
		errors.Is(err, repository.ErrDimensionUnset)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
