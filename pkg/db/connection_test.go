package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectFor(t *testing.T) {
	tests := []struct {
		name        string
		dsn         string
		expected    Dialect
		expectError bool
	}{
		{name: "postgres url", dsn: "postgres://u:p@localhost:5432/law", expected: DialectPostgres},
		{name: "postgresql url", dsn: "postgresql://localhost/law", expected: DialectPostgres},
		{name: "turso", dsn: "libsql://law-db.turso.io", expected: DialectLibSQL},
		{name: "local sqld", dsn: "http://127.0.0.1:8080", expected: DialectLibSQL},
		{name: "file uri", dsn: "file:queue.db", expected: DialectSQLite},
		{name: "sqlite scheme", dsn: "sqlite:///tmp/queue.db", expected: DialectSQLite},
		{name: "bare path", dsn: "/var/lib/roeum/queue.db", expected: DialectSQLite},
		{name: "empty", dsn: "", expectError: true},
		{name: "unknown scheme", dsn: "mysql://localhost/law", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DialectFor(tt.dsn)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDSNFromEnv(t *testing.T) {
	t.Run("DB_DSN wins", func(t *testing.T) {
		t.Setenv("DB_DSN", "file:queue.db")
		t.Setenv("PGHOST", "db")
		t.Setenv("PGDATABASE", "law")
		assert.Equal(t, "file:queue.db", DSNFromEnv())
	})

	t.Run("assembled from PG parts", func(t *testing.T) {
		t.Setenv("DB_DSN", "")
		t.Setenv("PGUSER", "law")
		t.Setenv("PGPASSWORD", "s3cret")
		t.Setenv("PGHOST", "db")
		t.Setenv("PGPORT", "")
		t.Setenv("PGDATABASE", "roeum")
		assert.Equal(t, "postgres://law:s3cret@db:5432/roeum", DSNFromEnv())
	})

	t.Run("nothing set", func(t *testing.T) {
		t.Setenv("DB_DSN", "")
		t.Setenv("PGHOST", "")
		t.Setenv("PGDATABASE", "")
		assert.Empty(t, DSNFromEnv())
	})
}

func TestOpen_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	database, err := Open(path)
	require.NoError(t, err)
	defer database.Close()

	assert.Equal(t, DialectSQLite, database.Dialect)

	var mode string
	require.NoError(t, database.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpen_LibSQLRequiresToken(t *testing.T) {
	t.Setenv("TURSO_AUTH_TOKEN", "")
	_, err := Open("libsql://example.turso.io")
	assert.ErrorIs(t, err, ErrAuthTokenRequired)
}
