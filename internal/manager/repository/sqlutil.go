package repository

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/code-sleuth/roeum-go/pkg/db"

	"github.com/pgvector/pgvector-go"
)

var ErrInvalidVectorBlob = errors.New("vector blob length is not a multiple of 4")

// timeLayout is fixed width so SQLite text timestamps compare in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (r *QueueRepository) rebind(query string) string {
	if r.db.Dialect != db.DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// placeholders returns "?, ?, ?" for n values.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// ts converts t into the value stored in timestamp columns.
func (r *QueueRepository) ts(t time.Time) any {
	t = t.UTC()
	if r.db.Dialect == db.DialectPostgres {
		return t
	}
	return t.Format(timeLayout)
}

// dbTime scans TIMESTAMPTZ values as well as the text form used on SQLite.
type dbTime struct {
	Time  time.Time
	Valid bool
}

var textTimeLayouts = []string{
	timeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	case int64:
		t.Time, t.Valid = time.Unix(v, 0).UTC(), true
		return nil
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range textTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", s)
}

func (t dbTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// vectorArg converts a vector into the value stored in the vector column.
func (r *QueueRepository) vectorArg(v []float32) any {
	if r.db.Dialect == db.DialectPostgres {
		return pgvector.NewVector(v)
	}
	return EncodeVector(v)
}

// EncodeVector packs v as little-endian float32 values.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, ErrInvalidVectorBlob
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// vectorColumn scans either a pgvector value or a float32 blob.
type vectorColumn struct {
	dialect db.Dialect
	Vector  []float32
}

func (c *vectorColumn) Scan(src any) error {
	if c.dialect == db.DialectPostgres {
		var v pgvector.Vector
		if err := v.Scan(src); err != nil {
			return err
		}
		c.Vector = v.Slice()
		return nil
	}
	switch b := src.(type) {
	case []byte:
		v, err := DecodeVector(b)
		if err != nil {
			return err
		}
		c.Vector = v
		return nil
	case nil:
		c.Vector = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into vector", src)
	}
}

// withTx runs fn in a transaction, committing when fn returns nil.
func (r *QueueRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to begin transaction")
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Error().Err(rbErr).Msg("failed to roll back transaction")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("failed to commit transaction")
		return err
	}
	return nil
}
