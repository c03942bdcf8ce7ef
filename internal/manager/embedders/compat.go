package embedders

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/code-sleuth/roeum-go/pkg/util"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// CompatEmbedder talks to any OpenAI-compatible embedding server (vLLM,
// text-embeddings-inference, LocalAI) through langchaingo.
type CompatEmbedder struct {
	embedder  embeddings.Embedder
	model     string
	dimension int
	logger    zerolog.Logger
}

// NewCompatEmbedder creates an embedder for model served at baseURL.
func NewCompatEmbedder(baseURL, model string, dim int) (*CompatEmbedder, error) {
	return NewCompatEmbedderWithClient(baseURL, model, dim, nil)
}

// NewCompatEmbedderWithClient creates a compat embedder with a custom HTTP
// client. COMPAT_API_KEY is sent when set; local servers usually need none.
func NewCompatEmbedderWithClient(baseURL, model string, dim int, httpClient *http.Client) (*CompatEmbedder, error) {
	logger := util.NewLogger(util.LevelFromEnv("LOG_LEVEL", zerolog.ErrorLevel))
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrEmbeddingServerMissing
	}
	if strings.TrimSpace(model) == "" {
		return nil, ErrUnsupportedModel
	}

	token := os.Getenv("COMPAT_API_KEY")
	if token == "" {
		token = "none"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
		openai.WithHTTPClient(httpClient),
	)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create compat client")
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		logger.Error().Err(err).Msg("failed to create compat embedder")
		return nil, err
	}

	return &CompatEmbedder{
		embedder:  embedder,
		model:     model,
		dimension: dim,
		logger:    logger,
	}, nil
}

// Probe embeds a short text to learn the dimension when it is unknown.
func (c *CompatEmbedder) Probe(ctx context.Context) error {
	if c.dimension > 0 {
		return nil
	}
	vectors, err := c.embedder.EmbedDocuments(ctx, []string{"dim-probe"})
	if err != nil {
		c.logger.Error().Err(err).Msg("dimension probe failed")
		return err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return ErrNoEmbeddingData
	}
	c.dimension = len(vectors[0])
	c.logger.Info().Str("model", c.model).Int("dimension", c.dimension).Msg("probed embedding dimension")
	return nil
}

// GenerateEmbeddings embeds texts, returning vectors in input order.
func (c *CompatEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.dimension == 0 {
		return nil, ErrDimensionUnknown
	}
	input, err := cleanTexts(texts)
	if err != nil {
		return nil, err
	}

	vectors, err := c.embedder.EmbedDocuments(ctx, input)
	if err != nil {
		c.logger.Error().Err(err).Int("count", len(input)).Msg("failed to generate embeddings")
		return nil, fmt.Errorf("%w: %w", ErrAPIRequestFailed, err)
	}
	if len(vectors) != len(input) {
		return nil, fmt.Errorf("%w: sent %d, got %d", ErrResponseLength, len(input), len(vectors))
	}
	if err := checkDimension(vectors, c.dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

// GetModelName returns the name of the embedding model.
func (c *CompatEmbedder) GetModelName() string {
	return c.model
}

// GetDimension returns the dimension of the embedding vectors.
func (c *CompatEmbedder) GetDimension() int {
	return c.dimension
}
