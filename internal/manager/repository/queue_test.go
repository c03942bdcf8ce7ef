package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/code-sleuth/roeum-go/internal/manager/models"
	"github.com/code-sleuth/roeum-go/internal/manager/testutil"
	"github.com/code-sleuth/roeum-go/pkg/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *QueueRepository {
	t.Helper()
	repo := NewQueueRepository(testutil.SetupTestDB(t))
	require.NoError(t, repo.EnsureSchema(context.Background()))
	return repo
}

func testDocument(url string, texts ...string) (*models.DocumentHeader, []*models.Chunk) {
	header := &models.DocumentHeader{DocID: "law_001", SourceURL: url, Title: "근로기준법", Subtitle: "법률 제1호"}
	chunks := make([]*models.Chunk, len(texts))
	for i, text := range texts {
		key := fmt.Sprintf("doc:law_001:0:ch0:art%d:para0:item0", i+1)
		chunks[i] = &models.Chunk{
			ChunkNo:    i + 1,
			Text:       text,
			LogicalKey: key,
			ChunkID:    key + ":" + fmt.Sprintf("%08x", len(text)*31+i),
		}
	}
	return header, chunks
}

func ids(entries []*models.QueueEntry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestQueueRepository_EnsureSchema(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.EnsureSchema(ctx), "second run must be a no-op")

	version, err := repo.meta(ctx, metaSchemaVersion)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	require.NoError(t, repo.setMeta(ctx, metaSchemaVersion, "9.0.0"))
	assert.ErrorIs(t, repo.EnsureSchema(ctx), ErrSchemaTooNew)
}

func TestQueueRepository_EnqueueChunks(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	header, chunks := testDocument("https://law.example.kr/1", "첫째 조문.", "둘째 조문.", "셋째 조문.")

	n, err := repo.EnqueueChunks(ctx, header, chunks)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	t.Run("unchanged rerun adds nothing", func(t *testing.T) {
		n, err := repo.EnqueueChunks(ctx, header, chunks)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, 3, testutil.GetRecordCount(t, repo.db, "embedding_queue"))
	})

	t.Run("changed chunk is requeued", func(t *testing.T) {
		claimed, err := repo.Claim(ctx, "worker-a", 10)
		require.NoError(t, err)
		require.Len(t, claimed, 3)

		edited := *chunks[1]
		edited.Text = "둘째 조문을 고쳤다."
		edited.ChunkID = edited.LogicalKey + ":deadbeef"
		n, err := repo.EnqueueChunks(ctx, header, []*models.Chunk{chunks[0], &edited, chunks[2]})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		e, err := repo.Get(ctx, claimed[1].ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, e.Status)
		assert.Equal(t, "둘째 조문을 고쳤다.", e.ChunkText)
		assert.Equal(t, edited.ChunkID, e.ChunkID)
		assert.Nil(t, e.WorkerID)
		assert.Equal(t, 0, e.Attempts)

		other, err := repo.Get(ctx, claimed[0].ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusWorking, other.Status)
	})

	t.Run("shorter document drops trailing rows", func(t *testing.T) {
		_, err := repo.EnqueueChunks(ctx, header, chunks[:2])
		require.NoError(t, err)
		assert.Equal(t, 2, testutil.GetRecordCount(t, repo.db, "embedding_queue"))
	})

	t.Run("empty input", func(t *testing.T) {
		n, err := repo.EnqueueChunks(ctx, header, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestQueueRepository_ClaimFewerThanBatch(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	header, chunks := testDocument("https://law.example.kr/2", "가 조문.", "나 조문.", "다 조문.")
	_, err := repo.EnqueueChunks(ctx, header, chunks)
	require.NoError(t, err)

	claimed, err := repo.Claim(ctx, "worker-a", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	for i, e := range claimed {
		assert.Equal(t, models.StatusWorking, e.Status)
		require.NotNil(t, e.WorkerID)
		assert.Equal(t, "worker-a", *e.WorkerID)
		assert.NotNil(t, e.ClaimedAt)
		assert.Equal(t, 1, e.Attempts)
		assert.Equal(t, i+1, e.ChunkNo)
		assert.Equal(t, "근로기준법", e.Title)
		assert.Equal(t, "법률 제1호", e.Subtitle)
	}
	assert.Equal(t, 3, testutil.StatusCount(t, repo.db, "working"))

	again, err := repo.Claim(ctx, "worker-b", 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestQueueRepository_ClaimIsExclusive(t *testing.T) {
	assertClaimsExclusive(t, newTestRepository(t), 60, 8)
}

// assertClaimsExclusive enqueues rows and drains them with concurrent
// claimers, failing if any row is handed out twice.
func assertClaimsExclusive(t *testing.T, repo *QueueRepository, rows, workers int) {
	t.Helper()
	ctx := context.Background()

	texts := make([]string, rows)
	for i := range texts {
		texts[i] = fmt.Sprintf("%d번째 조문이다.", i)
	}
	header, chunks := testDocument("https://law.example.kr/3", texts...)
	_, err := repo.EnqueueChunks(ctx, header, chunks)
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		owner = map[int64]string{}
		wg    sync.WaitGroup
		errs  = make(chan error, rows)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			for {
				claimed, err := repo.Claim(ctx, workerID, 4)
				if err != nil {
					errs <- err
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, e := range claimed {
					if prev, ok := owner[e.ID]; ok {
						errs <- fmt.Errorf("row %d claimed by %s and %s", e.ID, prev, workerID)
					}
					owner[e.ID] = workerID
				}
				mu.Unlock()
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Len(t, owner, rows)
	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, rows, stats.Working)
}

func TestQueueRepository_CommitResults(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	header, chunks := testDocument("https://law.example.kr/4", "하나.", "둘이다.")
	_, err := repo.EnqueueChunks(ctx, header, chunks)
	require.NoError(t, err)

	claimed, err := repo.Claim(ctx, "worker-a", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	_, err = repo.CommitResults(ctx, "worker-a", []*models.EmbeddingResult{{QueueID: claimed[0].ID, Vector: []float32{1, 0, 0}}})
	assert.ErrorIs(t, err, ErrDimensionUnset)

	require.NoError(t, repo.EnsureDimension(ctx, 3))

	results := []*models.EmbeddingResult{
		{QueueID: claimed[0].ID, ChunkNo: 1, Model: "stub", Vector: []float32{1, 0, 0}},
		{QueueID: claimed[1].ID, ChunkNo: 2, Model: "stub", Vector: []float32{0, 1, 0}},
	}
	n, err := repo.CommitResults(ctx, "worker-a", results)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, testutil.StatusCount(t, repo.db, "done"))

	t.Run("recommit converges on the latest vector", func(t *testing.T) {
		latest := []*models.EmbeddingResult{{QueueID: claimed[0].ID, ChunkNo: 1, Model: "stub", Vector: []float32{0, 0, 1}}}
		_, err := repo.CommitResults(ctx, "worker-a", latest)
		require.NoError(t, err)
		_, err = repo.CommitResults(ctx, "worker-a", latest)
		require.NoError(t, err)

		count, err := repo.CountEmbeddings(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		got, err := repo.GetEmbedding(ctx, claimed[0].ID)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 0, 1}, got.Vector)
		assert.Equal(t, "stub", got.Model)
		assert.Equal(t, 1, got.ChunkNo)
	})

	t.Run("wrong dimension", func(t *testing.T) {
		_, err := repo.CommitResults(ctx, "worker-a", []*models.EmbeddingResult{{QueueID: claimed[0].ID, Vector: []float32{1}}})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("list embeddings", func(t *testing.T) {
		list, err := repo.ListEmbeddings(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, claimed[0].ID, list[0].QueueID)
		assert.Equal(t, []float32{0, 1, 0}, list[1].Vector)
	})

	_, err = repo.GetEmbedding(ctx, 9999)
	assert.ErrorIs(t, err, ErrEmbeddingNotFound)
}

func TestQueueRepository_CommitSkipsRowsNotOwned(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	require.NoError(t, repo.EnsureDimension(ctx, 2))

	header, chunks := testDocument("https://law.example.kr/5", "원래 본문.", "다른 본문.")
	_, err := repo.EnqueueChunks(ctx, header, chunks)
	require.NoError(t, err)

	claimed, err := repo.Claim(ctx, "worker-a", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	edited := *chunks[0]
	edited.Text = "고친 본문."
	edited.ChunkID = edited.LogicalKey + ":cafef00d"
	_, err = repo.EnqueueChunks(ctx, header, []*models.Chunk{&edited, chunks[1]})
	require.NoError(t, err)

	n, err := repo.CommitResults(ctx, "worker-a", []*models.EmbeddingResult{
		{QueueID: claimed[0].ID, Vector: []float32{1, 0}},
		{QueueID: claimed[1].ID, Vector: []float32{0, 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	requeued, err := repo.Get(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, requeued.Status)
	assert.False(t, testutil.RecordExists(t, repo.db, "embeddings", "queue_id", claimed[0].ID))

	n, err = repo.CommitResults(ctx, "worker-b", []*models.EmbeddingResult{{QueueID: claimed[1].ID, Vector: []float32{1, 1}}})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueueRepository_EnsureDimension(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	dim, err := repo.Dimension(ctx)
	require.NoError(t, err)
	assert.Zero(t, dim)

	assert.ErrorIs(t, repo.EnsureDimension(ctx, 0), ErrInvalidDimension)
	require.NoError(t, repo.EnsureDimension(ctx, 8))
	require.NoError(t, repo.EnsureDimension(ctx, 8))
	assert.ErrorIs(t, repo.EnsureDimension(ctx, 16), ErrDimensionMismatch)

	// A second process sees the same fixed dimension.
	other := NewQueueRepository(repo.db)
	assert.ErrorIs(t, other.EnsureDimension(ctx, 4), ErrDimensionMismatch)
	dim, err = other.Dimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, dim)
}

func TestQueueRepository_ErrorsAndRetry(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	header, chunks := testDocument("https://law.example.kr/6", "첫 번째.", "두 번째.", "세 번째.")
	_, err := repo.EnqueueChunks(ctx, header, chunks)
	require.NoError(t, err)

	claimed, err := repo.Claim(ctx, "worker-a", 10)
	require.NoError(t, err)

	require.NoError(t, repo.MarkError(ctx, "worker-a", ids(claimed[:2]), "backend unavailable"))
	require.NoError(t, repo.ReleaseClaims(ctx, "worker-a", ids(claimed[2:])))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &models.QueueStats{Pending: 1, Error: 2, Total: 3}, stats)

	failed, err := repo.Get(ctx, claimed[0].ID)
	require.NoError(t, err)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "backend unavailable", *failed.Error)

	released, err := repo.Get(ctx, claimed[2].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, released.Attempts)
	assert.Nil(t, released.ClaimedAt)

	errored, err := repo.List(ctx, models.StatusError, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, ids(claimed[:2]), ids(errored))

	n, err := repo.RetryErrors(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = repo.RetryErrors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, testutil.StatusCount(t, repo.db, "pending"))
}

func TestQueueRepository_ReclaimStale(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return start }

	header, chunks := testDocument("https://law.example.kr/7", "오래된 작업.", "새 작업.")
	_, err := repo.EnqueueChunks(ctx, header, chunks)
	require.NoError(t, err)

	_, err = repo.Claim(ctx, "crashed", 1)
	require.NoError(t, err)

	repo.now = func() time.Time { return start.Add(9 * time.Minute) }
	_, err = repo.Claim(ctx, "alive", 1)
	require.NoError(t, err)

	repo.now = func() time.Time { return start.Add(15 * time.Minute) }
	reclaimed, failed, err := repo.ReclaimStale(ctx, 10*time.Minute, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)
	assert.Equal(t, 0, failed)

	pending, err := repo.List(ctx, models.StatusPending, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].ChunkNo)
	assert.Equal(t, 1, pending[0].Attempts)

	t.Run("rows at the claim cap fail", func(t *testing.T) {
		repo.now = func() time.Time { return start.Add(20 * time.Minute) }
		_, err := repo.Claim(ctx, "crashed-again", 1)
		require.NoError(t, err)

		repo.now = func() time.Time { return start.Add(time.Hour) }
		reclaimed, failed, err := repo.ReclaimStale(ctx, 10*time.Minute, 2)
		require.NoError(t, err)
		assert.Equal(t, 1, failed, "row claimed twice hits the cap")
		assert.Equal(t, 1, reclaimed, "row claimed once goes back to pending")
	})

	t.Run("disabled", func(t *testing.T) {
		reclaimed, failed, err := repo.ReclaimStale(ctx, 0, 5)
		require.NoError(t, err)
		assert.Zero(t, reclaimed+failed)
	})
}

func TestQueueRepository_ListAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	header, chunks := testDocument("https://law.example.kr/8", "가.", "나다.", "라마바.")
	_, err := repo.EnqueueChunks(ctx, header, chunks)
	require.NoError(t, err)

	all, err := repo.List(ctx, "", 2, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Less(t, all[0].ID, all[1].ID)

	rest, err := repo.List(ctx, "", 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, 3, rest[0].ChunkNo)

	_, err = repo.List(ctx, "stuck", 10, 0)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	e, err := repo.Get(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "https://law.example.kr/8", e.SourceURL)
	assert.Equal(t, chunks[0].LogicalKey, e.LogicalKey)
	assert.False(t, e.CreatedAt.IsZero())

	_, err = repo.Get(ctx, 424242)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestRebind(t *testing.T) {
	pg := &QueueRepository{db: &db.DB{Dialect: db.DialectPostgres}}
	lite := &QueueRepository{db: &db.DB{Dialect: db.DialectSQLite}}

	query := "UPDATE t SET a = ? WHERE id IN (" + placeholders(3) + ")"
	assert.Equal(t, "UPDATE t SET a = $1 WHERE id IN ($2, $3, $4)", pg.rebind(query))
	assert.Equal(t, "UPDATE t SET a = ? WHERE id IN (?, ?, ?)", lite.rebind(query))
	assert.Empty(t, placeholders(0))
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0.5, -1.25, 3}
	blob := EncodeVector(v)
	assert.Len(t, blob, 12)

	decoded, err := DecodeVector(blob)
	require.NoError(t, err)
	assert.Equal(t, v, decoded)

	_, err = DecodeVector([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidVectorBlob)
}

func TestDBTimeScan(t *testing.T) {
	want := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		src  any
	}{
		{name: "time value", src: want},
		{name: "fixed layout text", src: want.Format(timeLayout)},
		{name: "rfc3339 bytes", src: []byte(want.Format(time.RFC3339))},
		{name: "unix seconds", src: want.Unix()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got dbTime
			require.NoError(t, got.Scan(tt.src))
			assert.True(t, got.Valid)
			assert.True(t, want.Equal(got.Time))
		})
	}

	var null dbTime
	require.NoError(t, null.Scan(nil))
	assert.Nil(t, null.ptr())

	var bad dbTime
	assert.Error(t, bad.Scan("yesterday"))
}
