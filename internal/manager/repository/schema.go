package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/code-sleuth/roeum-go/pkg/db"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the newest queue schema this build knows.
const SchemaVersion = "1.0.0"

const (
	metaSchemaVersion = "schema_version"
	metaDimension     = "dimension"
)

var (
	ErrDimensionMismatch = errors.New("embedding dimension does not match the result table")
	ErrInvalidDimension  = errors.New("embedding dimension must be positive")
	ErrSchemaTooNew      = errors.New("database schema is newer than this binary")
)

type migration struct {
	version  string
	postgres []string
	sqlite   []string
}

func (m migration) statements(d db.Dialect) []string {
	if d == db.DialectPostgres {
		return m.postgres
	}
	return m.sqlite
}

var migrations = []migration{
	{
		version: "1.0.0",
		postgres: []string{
			`CREATE TABLE IF NOT EXISTS embedding_queue (
				id          BIGSERIAL PRIMARY KEY,
				source_url  TEXT        NOT NULL,
				title       TEXT        NOT NULL DEFAULT '',
				subtitle1   TEXT        NOT NULL DEFAULT '',
				chunk_no    INT         NOT NULL,
				chunk       TEXT        NOT NULL,
				chunk_id    TEXT        NOT NULL DEFAULT '',
				logical_key TEXT        NOT NULL DEFAULT '',
				status      TEXT        NOT NULL DEFAULT 'pending',
				error       TEXT,
				worker_id   TEXT,
				attempts    INT         NOT NULL DEFAULT 0,
				claimed_at  TIMESTAMPTZ,
				created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (source_url, chunk_no)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_embedding_queue_status ON embedding_queue (status)`,
			`CREATE INDEX IF NOT EXISTS idx_embedding_queue_claimed ON embedding_queue (status, claimed_at)`,
		},
		sqlite: []string{
			`CREATE TABLE IF NOT EXISTS embedding_queue (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				source_url  TEXT    NOT NULL,
				title       TEXT    NOT NULL DEFAULT '',
				subtitle1   TEXT    NOT NULL DEFAULT '',
				chunk_no    INTEGER NOT NULL,
				chunk       TEXT    NOT NULL,
				chunk_id    TEXT    NOT NULL DEFAULT '',
				logical_key TEXT    NOT NULL DEFAULT '',
				status      TEXT    NOT NULL DEFAULT 'pending',
				error       TEXT,
				worker_id   TEXT,
				attempts    INTEGER NOT NULL DEFAULT 0,
				claimed_at  TEXT,
				created_at  TEXT    NOT NULL,
				updated_at  TEXT    NOT NULL,
				UNIQUE (source_url, chunk_no)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_embedding_queue_status ON embedding_queue (status)`,
			`CREATE INDEX IF NOT EXISTS idx_embedding_queue_claimed ON embedding_queue (status, claimed_at)`,
		},
	},
}

const metaTable = `CREATE TABLE IF NOT EXISTS queue_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

func embeddingsTable(d db.Dialect, dim int) []string {
	if d == db.DialectPostgres {
		return []string{
			`CREATE EXTENSION IF NOT EXISTS vector`,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embeddings (
				id         BIGSERIAL PRIMARY KEY,
				queue_id   BIGINT      NOT NULL UNIQUE REFERENCES embedding_queue (id) ON DELETE CASCADE,
				chunk_no   INT         NOT NULL,
				model      TEXT        NOT NULL DEFAULT '',
				vector     vector(%d)  NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, dim),
		}
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS embeddings (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			queue_id   INTEGER NOT NULL UNIQUE REFERENCES embedding_queue (id) ON DELETE CASCADE,
			chunk_no   INTEGER NOT NULL,
			model      TEXT    NOT NULL DEFAULT '',
			vector     BLOB    NOT NULL,
			created_at TEXT    NOT NULL,
			updated_at TEXT    NOT NULL
		)`,
	}
}

// EnsureSchema creates the queue and meta tables and applies pending
// migrations. Safe to call from every process on start.
func (r *QueueRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, metaTable); err != nil {
		r.logger.Error().Err(err).Msg("failed to create queue_meta")
		return err
	}

	current := semver.MustParse("0.0.0")
	stored, err := r.meta(ctx, metaSchemaVersion)
	if err != nil {
		return err
	}
	if stored != "" {
		current, err = semver.NewVersion(stored)
		if err != nil {
			return fmt.Errorf("invalid stored schema version %s: %w", stored, err)
		}
	}

	if current.GreaterThan(semver.MustParse(SchemaVersion)) {
		r.logger.Error().Str("stored", stored).Str("supported", SchemaVersion).Msg("schema too new")
		return fmt.Errorf("%w: %s > %s", ErrSchemaTooNew, stored, SchemaVersion)
	}

	for _, m := range migrations {
		v, err := semver.NewVersion(m.version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", m.version, err)
		}
		if !current.LessThan(v) {
			continue
		}
		for _, stmt := range m.statements(r.db.Dialect) {
			if _, err := r.db.ExecContext(ctx, stmt); err != nil {
				r.logger.Error().Err(err).Str("version", m.version).Msg("failed to apply migration")
				return fmt.Errorf("failed to apply migration %s: %w", m.version, err)
			}
		}
		if err := r.setMeta(ctx, metaSchemaVersion, m.version); err != nil {
			return err
		}
		current = v
		r.logger.Info().Str("version", m.version).Msg("applied queue migration")
	}

	return nil
}

// EnsureDimension fixes the vector dimension of the result table on first
// use and rejects any other dimension afterwards.
func (r *QueueRepository) EnsureDimension(ctx context.Context, dim int) error {
	if dim <= 0 {
		return ErrInvalidDimension
	}

	stored, err := r.Dimension(ctx)
	if err != nil {
		return err
	}
	if stored == 0 {
		for _, stmt := range embeddingsTable(r.db.Dialect, dim) {
			if _, err := r.db.ExecContext(ctx, stmt); err != nil {
				r.logger.Error().Err(err).Int("dimension", dim).Msg("failed to create embeddings table")
				return err
			}
		}
		// Another process may have fixed the dimension concurrently; the
		// first writer wins and the re-read below decides.
		query := r.rebind(`INSERT INTO queue_meta (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`)
		if _, err := r.db.ExecContext(ctx, query, metaDimension, strconv.Itoa(dim)); err != nil {
			r.logger.Error().Err(err).Msg("failed to record dimension")
			return err
		}
		if stored, err = r.Dimension(ctx); err != nil {
			return err
		}
	}

	if stored != dim {
		r.logger.Error().Int("table", stored).Int("embedder", dim).Msg("embedding dimension mismatch")
		return fmt.Errorf("%w: table has %d, embedder produces %d", ErrDimensionMismatch, stored, dim)
	}

	r.mu.Lock()
	r.dim = dim
	r.mu.Unlock()
	return nil
}

// Dimension returns the fixed vector dimension, or 0 if none is set yet.
func (r *QueueRepository) Dimension(ctx context.Context) (int, error) {
	v, err := r.meta(ctx, metaDimension)
	if err != nil || v == "" {
		return 0, err
	}
	dim, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid stored dimension %q: %w", v, err)
	}
	return dim, nil
}

func (r *QueueRepository) meta(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT value FROM queue_meta WHERE key = ?`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("failed to read queue_meta")
		return "", err
	}
	return value, nil
}

func (r *QueueRepository) setMeta(ctx context.Context, key, value string) error {
	query := r.rebind(`INSERT INTO queue_meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`)
	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("failed to write queue_meta")
		return err
	}
	return nil
}
