package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/code-sleuth/roeum-go/internal/manager/models"
	"github.com/code-sleuth/roeum-go/pkg/db"
	"github.com/code-sleuth/roeum-go/pkg/util"

	"github.com/rs/zerolog"
)

var (
	ErrEntryNotFound     = errors.New("queue entry not found")
	ErrEmbeddingNotFound = errors.New("embedding not found")
	ErrInvalidStatus     = errors.New("invalid queue status")
	ErrDimensionUnset    = errors.New("embedding dimension has not been fixed")
)

const queueColumns = `id, source_url, title, subtitle1, chunk_no, chunk, chunk_id, logical_key,
	status, error, worker_id, attempts, claimed_at, created_at, updated_at`

// QueueRepository holds all SQL for the embedding queue and result tables.
type QueueRepository struct {
	db     *db.DB
	logger zerolog.Logger
	now    func() time.Time

	mu  sync.RWMutex
	dim int
}

// NewQueueRepository creates a repository on an open connection.
func NewQueueRepository(database *db.DB) *QueueRepository {
	return &QueueRepository{
		db:     database,
		logger: util.NewLogger(util.LevelFromEnv("LOG_LEVEL", zerolog.ErrorLevel)),
		now:    time.Now,
	}
}

// Dialect reports the SQL dialect of the underlying connection.
func (r *QueueRepository) Dialect() db.Dialect {
	return r.db.Dialect
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.QueueEntry, error) {
	var (
		e         models.QueueEntry
		status    string
		errMsg    sql.NullString
		workerID  sql.NullString
		claimedAt dbTime
		createdAt dbTime
		updatedAt dbTime
	)
	err := row.Scan(&e.ID, &e.SourceURL, &e.Title, &e.Subtitle, &e.ChunkNo, &e.ChunkText,
		&e.ChunkID, &e.LogicalKey, &status, &errMsg, &workerID, &e.Attempts,
		&claimedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.Status = models.QueueStatus(status)
	e.Error = nullString(errMsg)
	e.WorkerID = nullString(workerID)
	e.ClaimedAt = claimedAt.ptr()
	e.CreatedAt = createdAt.Time
	e.UpdatedAt = updatedAt.Time
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*models.QueueEntry, error) {
	defer rows.Close()
	var entries []*models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// EnqueueChunks writes one pending row per chunk in a single transaction and
// returns how many rows were inserted or re-queued. A chunk whose chunk_id
// already sits at (source_url, chunk_no) is left alone; a changed chunk_id
// rewrites the row and puts it back to pending. Rows past the last chunk of
// the document are removed.
func (r *QueueRepository) EnqueueChunks(ctx context.Context, header *models.DocumentHeader, chunks []*models.Chunk) (int, error) {
	if header == nil || len(chunks) == 0 {
		return 0, nil
	}

	upsert := r.rebind(`INSERT INTO embedding_queue
		(source_url, title, subtitle1, chunk_no, chunk, chunk_id, logical_key, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?)
		ON CONFLICT (source_url, chunk_no) DO UPDATE SET
			title = excluded.title,
			subtitle1 = excluded.subtitle1,
			chunk = excluded.chunk,
			chunk_id = excluded.chunk_id,
			logical_key = excluded.logical_key,
			status = 'pending',
			error = NULL,
			worker_id = NULL,
			claimed_at = NULL,
			attempts = 0,
			updated_at = excluded.updated_at
		WHERE embedding_queue.chunk_id <> excluded.chunk_id`)
	trim := r.rebind(`DELETE FROM embedding_queue WHERE source_url = ? AND chunk_no > ?`)

	now := r.ts(r.now())
	written := 0
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsert)
		if err != nil {
			return err
		}
		defer stmt.Close()

		last := 0
		for _, c := range chunks {
			res, err := stmt.ExecContext(ctx, header.SourceURL, header.Title, header.Subtitle,
				c.ChunkNo, c.Text, c.ChunkID, c.LogicalKey, now, now)
			if err != nil {
				return fmt.Errorf("enqueue chunk %d: %w", c.ChunkNo, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			written += int(n)
			last = max(last, c.ChunkNo)
		}

		if _, err := tx.ExecContext(ctx, trim, header.SourceURL, last); err != nil {
			return fmt.Errorf("trim stale chunks: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error().Err(err).Str("source_url", header.SourceURL).Msg("failed to enqueue chunks")
		return 0, err
	}

	return written, nil
}

// Claim moves up to limit pending rows, oldest first, to working for
// workerID. Rows locked by another transaction are skipped on PostgreSQL;
// SQLite serializes writers so the single UPDATE is exclusive.
func (r *QueueRepository) Claim(ctx context.Context, workerID string, limit int) ([]*models.QueueEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	var (
		entries []*models.QueueEntry
		err     error
	)
	if r.db.Dialect == db.DialectPostgres {
		entries, err = r.claimLocked(ctx, workerID, limit)
	} else {
		entries, err = r.claimReturning(ctx, workerID, limit)
	}
	if err != nil {
		r.logger.Error().Err(err).Str("worker_id", workerID).Msg("failed to claim queue rows")
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (r *QueueRepository) claimLocked(ctx context.Context, workerID string, limit int) ([]*models.QueueEntry, error) {
	var entries []*models.QueueEntry
	now := r.now().UTC()

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, r.rebind(`SELECT `+queueColumns+` FROM embedding_queue
			WHERE status = 'pending' ORDER BY id LIMIT ? FOR UPDATE SKIP LOCKED`), limit)
		if err != nil {
			return err
		}
		if entries, err = scanEntries(rows); err != nil || len(entries) == 0 {
			return err
		}

		ids := make([]int64, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		args := append([]any{workerID, r.ts(now), r.ts(now)}, int64Args(ids)...)
		_, err = tx.ExecContext(ctx, r.rebind(`UPDATE embedding_queue
			SET status = 'working', worker_id = ?, claimed_at = ?, updated_at = ?, attempts = attempts + 1
			WHERE id IN (`+placeholders(len(ids))+`)`), args...)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		e.Status = models.StatusWorking
		e.WorkerID = &workerID
		e.ClaimedAt = &now
		e.UpdatedAt = now
		e.Attempts++
	}
	return entries, nil
}

func (r *QueueRepository) claimReturning(ctx context.Context, workerID string, limit int) ([]*models.QueueEntry, error) {
	now := r.ts(r.now())
	rows, err := r.db.QueryContext(ctx, `UPDATE embedding_queue
		SET status = 'working', worker_id = ?, claimed_at = ?, updated_at = ?, attempts = attempts + 1
		WHERE id IN (SELECT id FROM embedding_queue WHERE status = 'pending' ORDER BY id LIMIT ?)
		RETURNING `+queueColumns, workerID, now, now, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// CommitResults upserts one result per queue row and marks the row done.
// Rows no longer owned by workerID are skipped, which covers rows reclaimed
// or re-queued while the batch was embedding. Returns the committed count.
func (r *QueueRepository) CommitResults(ctx context.Context, workerID string, results []*models.EmbeddingResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	r.mu.RLock()
	dim := r.dim
	r.mu.RUnlock()
	if dim == 0 {
		return 0, ErrDimensionUnset
	}
	for _, res := range results {
		if len(res.Vector) != dim {
			r.logger.Error().Int64("queue_id", res.QueueID).Int("got", len(res.Vector)).Int("want", dim).Msg("vector dimension mismatch")
			return 0, fmt.Errorf("%w: queue row %d has %d values, table has %d", ErrDimensionMismatch, res.QueueID, len(res.Vector), dim)
		}
	}

	markDone := r.rebind(`UPDATE embedding_queue SET status = 'done', error = NULL, updated_at = ?
		WHERE id = ? AND worker_id = ? AND status IN ('working', 'done')`)
	upsert := r.rebind(`INSERT INTO embeddings (queue_id, chunk_no, model, vector, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (queue_id) DO UPDATE SET
			chunk_no = excluded.chunk_no,
			model = excluded.model,
			vector = excluded.vector,
			updated_at = excluded.updated_at`)

	now := r.ts(r.now())
	committed := 0
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		for _, res := range results {
			done, err := tx.ExecContext(ctx, markDone, now, res.QueueID, workerID)
			if err != nil {
				return fmt.Errorf("mark row %d done: %w", res.QueueID, err)
			}
			n, err := done.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				r.logger.Warn().Int64("queue_id", res.QueueID).Str("worker_id", workerID).Msg("row no longer owned, skipping commit")
				continue
			}
			if _, err := tx.ExecContext(ctx, upsert, res.QueueID, res.ChunkNo, res.Model,
				r.vectorArg(res.Vector), now, now); err != nil {
				return fmt.Errorf("store embedding for row %d: %w", res.QueueID, err)
			}
			committed++
		}
		return nil
	})
	if err != nil {
		r.logger.Error().Err(err).Str("worker_id", workerID).Msg("failed to commit results")
		return 0, err
	}

	return committed, nil
}

// MarkError moves working rows owned by workerID to error.
func (r *QueueRepository) MarkError(ctx context.Context, workerID string, ids []int64, message string) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]any{message, r.ts(r.now()), workerID}, int64Args(ids)...)
	_, err := r.db.ExecContext(ctx, r.rebind(`UPDATE embedding_queue
		SET status = 'error', error = ?, updated_at = ?
		WHERE worker_id = ? AND status = 'working' AND id IN (`+placeholders(len(ids))+`)`), args...)
	if err != nil {
		r.logger.Error().Err(err).Ints64("ids", ids).Msg("failed to mark rows as error")
	}
	return err
}

// ReleaseClaims puts working rows owned by workerID back to pending without
// counting the claim.
func (r *QueueRepository) ReleaseClaims(ctx context.Context, workerID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]any{r.ts(r.now()), workerID}, int64Args(ids)...)
	_, err := r.db.ExecContext(ctx, r.rebind(`UPDATE embedding_queue
		SET status = 'pending', worker_id = NULL, claimed_at = NULL, updated_at = ?,
			attempts = CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END
		WHERE worker_id = ? AND status = 'working' AND id IN (`+placeholders(len(ids))+`)`), args...)
	if err != nil {
		r.logger.Error().Err(err).Ints64("ids", ids).Msg("failed to release claims")
	}
	return err
}

// ReclaimStale returns rows stuck in working for longer than olderThan to
// pending. Rows already claimed maxClaims times go to error instead; a
// maxClaims of 0 never gives up on a row.
func (r *QueueRepository) ReclaimStale(ctx context.Context, olderThan time.Duration, maxClaims int) (int, int, error) {
	if olderThan <= 0 {
		return 0, 0, nil
	}
	now := r.now()
	cutoff := r.ts(now.Add(-olderThan))
	stamp := r.ts(now)

	var reclaimed, failed int
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if maxClaims > 0 {
			msg := fmt.Sprintf("claim expired after %d attempts", maxClaims)
			res, err := tx.ExecContext(ctx, r.rebind(`UPDATE embedding_queue
				SET status = 'error', error = ?, worker_id = NULL, updated_at = ?
				WHERE status = 'working' AND claimed_at < ? AND attempts >= ?`), msg, stamp, cutoff, maxClaims)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			failed = int(n)
		}

		res, err := tx.ExecContext(ctx, r.rebind(`UPDATE embedding_queue
			SET status = 'pending', worker_id = NULL, claimed_at = NULL, updated_at = ?
			WHERE status = 'working' AND claimed_at < ?`), stamp, cutoff)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		reclaimed = int(n)
		return nil
	})
	if err != nil {
		r.logger.Error().Err(err).Dur("older_than", olderThan).Msg("failed to reclaim stale rows")
		return 0, 0, err
	}

	if reclaimed > 0 || failed > 0 {
		r.logger.Info().Int("reclaimed", reclaimed).Int("failed", failed).Msg("reclaimed stale rows")
	}
	return reclaimed, failed, nil
}

// RetryErrors puts error rows back to pending with a fresh attempt count.
// With no ids every error row is retried.
func (r *QueueRepository) RetryErrors(ctx context.Context, ids ...int64) (int, error) {
	query := `UPDATE embedding_queue
		SET status = 'pending', error = NULL, worker_id = NULL, claimed_at = NULL, attempts = 0, updated_at = ?
		WHERE status = 'error'`
	args := []any{r.ts(r.now())}
	if len(ids) > 0 {
		query += ` AND id IN (` + placeholders(len(ids)) + `)`
		args = append(args, int64Args(ids)...)
	}

	res, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to retry error rows")
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Stats counts rows per status.
func (r *QueueRepository) Stats(ctx context.Context) (*models.QueueStats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM embedding_queue GROUP BY status`)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to count queue rows")
		return nil, err
	}
	defer rows.Close()

	stats := &models.QueueStats{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch models.QueueStatus(status) {
		case models.StatusPending:
			stats.Pending = n
		case models.StatusWorking:
			stats.Working = n
		case models.StatusDone:
			stats.Done = n
		case models.StatusError:
			stats.Error = n
		}
		stats.Total += n
	}
	return stats, rows.Err()
}

// List returns queue rows ordered by id. An empty status lists every row.
func (r *QueueRepository) List(ctx context.Context, status models.QueueStatus, limit, offset int) ([]*models.QueueEntry, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + queueColumns + ` FROM embedding_queue`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list queue rows")
		return nil, err
	}
	return scanEntries(rows)
}

// Get returns one queue row.
func (r *QueueRepository) Get(ctx context.Context, id int64) (*models.QueueEntry, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+queueColumns+` FROM embedding_queue WHERE id = ?`), id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		r.logger.Error().Err(err).Int64("id", id).Msg("failed to get queue row")
		return nil, err
	}
	return e, nil
}
