package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/code-sleuth/roeum-go/pkg/util"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/rs/zerolog"
	"github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

var (
	ErrDatabaseURLRequired = errors.New("DB_DSN or PGHOST/PGDATABASE environment variables are required")
	ErrAuthTokenRequired   = errors.New("TURSO_AUTH_TOKEN environment variable is required for libsql:// databases")
	ErrUnsupportedScheme   = errors.New("unsupported database DSN scheme")
)

// Dialect names the SQL flavour spoken by a connection.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
	DialectLibSQL   Dialect = "libsql"
)

const pingTimeout = 10 * time.Second

// DB wraps *sql.DB with the dialect it was opened for.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// NewConnection opens the database named by DB_DSN, or by the PG* variables
// when DB_DSN is unset.
func NewConnection() (*DB, error) {
	return Open(DSNFromEnv())
}

// DSNFromEnv returns DB_DSN, or a postgres URL assembled from PGUSER,
// PGPASSWORD, PGHOST, PGPORT and PGDATABASE. Empty when neither is set.
func DSNFromEnv() string {
	if dsn := strings.TrimSpace(os.Getenv("DB_DSN")); dsn != "" {
		return dsn
	}
	host := os.Getenv("PGHOST")
	name := os.Getenv("PGDATABASE")
	if host == "" || name == "" {
		return ""
	}
	port := os.Getenv("PGPORT")
	if port == "" {
		port = "5432"
	}
	u := &url.URL{
		Scheme: "postgres",
		Host:   host + ":" + port,
		Path:   "/" + name,
	}
	if user := os.Getenv("PGUSER"); user != "" {
		if pass := os.Getenv("PGPASSWORD"); pass != "" {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}
	return u.String()
}

// DialectFor reports which dialect a DSN selects.
func DialectFor(dsn string) (Dialect, error) {
	lower := strings.ToLower(dsn)
	switch {
	case lower == "":
		return "", ErrDatabaseURLRequired
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DialectPostgres, nil
	case strings.HasPrefix(lower, "libsql://"), strings.HasPrefix(lower, "https://"),
		strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "wss://"), strings.HasPrefix(lower, "ws://"):
		return DialectLibSQL, nil
	case strings.HasPrefix(lower, "sqlite://"), strings.HasPrefix(lower, "file:"),
		lower == ":memory:", !strings.Contains(lower, "://"):
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, strings.SplitN(dsn, "://", 2)[0])
	}
}

// Open connects to dsn, choosing the driver from its scheme.
func Open(dsn string) (*DB, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)

	dialect, err := DialectFor(dsn)
	if err != nil {
		logger.Error().Err(err).Msg("cannot determine database dialect")
		return nil, err
	}

	var database *sql.DB
	switch dialect {
	case DialectPostgres:
		database, err = sql.Open("pgx", dsn)
	case DialectLibSQL:
		database, err = openLibSQL(dsn)
	case DialectSQLite:
		database, err = openSQLite(dsn)
	}
	if err != nil {
		logger.Err(err).Str("dialect", string(dialect)).Msg("failed to open database")
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := database.PingContext(ctx); err != nil {
		logger.Err(err).Str("dialect", string(dialect)).Msg("failed to ping database")
		_ = database.Close()
		return nil, err
	}

	return &DB{DB: database, Dialect: dialect}, nil
}

func openLibSQL(dsn string) (*sql.DB, error) {
	authToken := os.Getenv("TURSO_AUTH_TOKEN")
	if strings.HasPrefix(strings.ToLower(dsn), "libsql://") && authToken == "" {
		return nil, ErrAuthTokenRequired
	}

	var opts []libsql.Option
	if authToken != "" {
		opts = append(opts, libsql.WithAuthToken(authToken))
	}
	connector, err := libsql.NewConnector(dsn, opts...)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}

func openSQLite(dsn string) (*sql.DB, error) {
	path := strings.TrimPrefix(dsn, "sqlite://")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	if !strings.Contains(path, "_pragma=") {
		path += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	database, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer at a time.
	database.SetMaxOpenConns(1)
	return database, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
