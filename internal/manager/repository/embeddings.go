package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/code-sleuth/roeum-go/internal/manager/models"
)

const embeddingColumns = `queue_id, chunk_no, model, vector, created_at, updated_at`

func (r *QueueRepository) scanEmbedding(row rowScanner) (*models.EmbeddingResult, error) {
	var (
		res       models.EmbeddingResult
		vec       = vectorColumn{dialect: r.db.Dialect}
		createdAt dbTime
		updatedAt dbTime
	)
	if err := row.Scan(&res.QueueID, &res.ChunkNo, &res.Model, &vec, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	res.Vector = vec.Vector
	res.CreatedAt = createdAt.Time
	res.UpdatedAt = updatedAt.Time
	return &res, nil
}

// GetEmbedding returns the stored vector of a queue row.
func (r *QueueRepository) GetEmbedding(ctx context.Context, queueID int64) (*models.EmbeddingResult, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+embeddingColumns+` FROM embeddings WHERE queue_id = ?`), queueID)
	res, err := r.scanEmbedding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmbeddingNotFound
	}
	if err != nil {
		r.logger.Error().Err(err).Int64("queue_id", queueID).Msg("failed to get embedding")
		return nil, err
	}
	return res, nil
}

// ListEmbeddings returns stored vectors ordered by queue id.
func (r *QueueRepository) ListEmbeddings(ctx context.Context, limit, offset int) ([]*models.EmbeddingResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT `+embeddingColumns+` FROM embeddings
		ORDER BY queue_id LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list embeddings")
		return nil, err
	}
	defer rows.Close()

	var results []*models.EmbeddingResult
	for rows.Next() {
		res, err := r.scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// CountEmbeddings returns the number of stored vectors.
func (r *QueueRepository) CountEmbeddings(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n); err != nil {
		r.logger.Error().Err(err).Msg("failed to count embeddings")
		return 0, err
	}
	return n, nil
}
