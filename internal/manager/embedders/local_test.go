package embedders

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/code-sleuth/roeum-go/internal/manager/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllamaServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := ollamaEmbedResponse{Model: req.Model}
		for i := range req.Input {
			v := make([]float32, dim)
			v[0] = float32(i + 1)
			resp.Embeddings = append(resp.Embeddings, v)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestOllamaEmbedder(t *testing.T) {
	server := newOllamaServer(t, 768)
	defer server.Close()

	embedder, err := NewOllamaEmbedderWithClient("nomic-embed-text:latest", server.URL+"/", 0, server.Client())
	require.NoError(t, err)
	assert.Equal(t, 768, embedder.GetDimension(), "known model sizes ignore the tag")
	assert.Equal(t, "nomic-embed-text:latest", embedder.GetModelName())

	vectors, err := embedder.GenerateEmbeddings(context.Background(), []string{"가", "나"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, float32(2), vectors[1][0])
}

func TestOllamaEmbedder_Probe(t *testing.T) {
	server := newOllamaServer(t, 256)
	defer server.Close()

	embedder, err := NewOllamaEmbedderWithClient("custom-model", server.URL, 0, server.Client())
	require.NoError(t, err)
	assert.Zero(t, embedder.GetDimension())

	_, err = embedder.GenerateEmbeddings(context.Background(), []string{"가"})
	assert.ErrorIs(t, err, ErrDimensionUnknown)

	require.NoError(t, embedder.Probe(context.Background()))
	assert.Equal(t, 256, embedder.GetDimension())
}

func TestOllamaEmbedder_ConfiguredDimensionMismatch(t *testing.T) {
	server := newOllamaServer(t, 384)
	defer server.Close()

	embedder, err := NewOllamaEmbedderWithClient("all-minilm", server.URL, 512, server.Client())
	require.NoError(t, err)

	_, err = embedder.GenerateEmbeddings(context.Background(), []string{"가"})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestNewOllamaEmbedder_Validation(t *testing.T) {
	_, err := NewOllamaEmbedder("", "http://localhost:11434", 0)
	assert.ErrorIs(t, err, ErrUnsupportedModel)

	_, err = NewOllamaEmbedder("bge-m3", " ", 0)
	assert.ErrorIs(t, err, ErrEmbeddingServerMissing)
}

func TestCompatEmbedder(t *testing.T) {
	server := newOpenAIServer(t, 1024, nil, nil)
	defer server.Close()
	t.Setenv("COMPAT_API_KEY", "test-api-key")

	embedder, err := NewCompatEmbedderWithClient(server.URL, "bge-m3", 0, server.Client())
	require.NoError(t, err)

	require.NoError(t, embedder.Probe(context.Background()))
	assert.Equal(t, 1024, embedder.GetDimension())
	assert.Equal(t, "bge-m3", embedder.GetModelName())

	vectors, err := embedder.GenerateEmbeddings(context.Background(), []string{"제1조 목적", "제2조 정의"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 1024)
}

func TestNewCompatEmbedder_Validation(t *testing.T) {
	_, err := NewCompatEmbedder("", "bge-m3", 0)
	assert.ErrorIs(t, err, ErrEmbeddingServerMissing)

	_, err = NewCompatEmbedder("http://localhost:8000/v1", "", 0)
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestStubEmbedder(t *testing.T) {
	stub := NewStubEmbedder(0)
	assert.Equal(t, DefaultStubDimension, stub.GetDimension())
	assert.Equal(t, "stub", stub.GetModelName())

	small := NewStubEmbedder(16)
	first, err := small.GenerateEmbeddings(context.Background(), []string{"같은 문장", "다른 문장"})
	require.NoError(t, err)
	second, err := small.GenerateEmbeddings(context.Background(), []string{"같은 문장"})
	require.NoError(t, err)

	assert.Equal(t, first[0], second[0], "same text gives the same vector")
	assert.NotEqual(t, first[0], first[1])

	for _, v := range first {
		require.Len(t, v, 16)
		var sum float64
		for _, f := range v {
			assert.GreaterOrEqual(t, f, float32(-1))
			assert.LessOrEqual(t, f, float32(1))
			sum += float64(f) * float64(f)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
	}

	_, err = small.GenerateEmbeddings(context.Background(), []string{" "})
	assert.ErrorIs(t, err, ErrContentEmpty)
}

func TestL2Normalize(t *testing.T) {
	v := L2Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := L2Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("stub", func(t *testing.T) {
		e, err := New(ctx, &config.Config{EmbedBackend: config.BackendStub, EmbedDim: 32})
		require.NoError(t, err)
		assert.Equal(t, 32, e.GetDimension())
	})

	t.Run("local probes unknown models", func(t *testing.T) {
		server := newOllamaServer(t, 128)
		defer server.Close()

		e, err := NewWithClient(ctx, &config.Config{
			EmbedBackend:    config.BackendLocal,
			LocalEmbedModel: "my-model",
			OllamaHost:      server.URL,
		}, server.Client())
		require.NoError(t, err)
		assert.Equal(t, 128, e.GetDimension())
	})

	t.Run("openai with shortened dimension", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "test-api-key")
		e, err := New(ctx, &config.Config{
			EmbedBackend: config.BackendOpenAI,
			OpenAIModel:  "text-embedding-3-large",
			EmbedDim:     1024,
		})
		require.NoError(t, err)
		assert.Equal(t, 1024, e.GetDimension())
	})

	t.Run("together rejects other dimensions", func(t *testing.T) {
		t.Setenv("TOGETHER_API_KEY", "test-api-key")
		_, err := New(ctx, &config.Config{
			EmbedBackend:  config.BackendTogether,
			TogetherModel: "BAAI/bge-base-en-v1.5",
			EmbedDim:      1024,
		})
		assert.ErrorIs(t, err, ErrUnsupportedDimension)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := New(ctx, &config.Config{EmbedBackend: "gpu"})
		assert.ErrorIs(t, err, ErrUnknownBackend)
	})
}
