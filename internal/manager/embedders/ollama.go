package embedders

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/code-sleuth/roeum-go/pkg/util"

	"github.com/rs/zerolog"
)

// Native sizes of common Ollama embedding models. Other models need
// EMBED_DIM or a probe.
var ollamaModels = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"bge-m3":                 1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaEmbedder runs a local embedding model served by Ollama.
type OllamaEmbedder struct {
	model      string
	dimension  int
	httpClient *http.Client
	apiURL     string
	logger     zerolog.Logger
}

// NewOllamaEmbedder creates an embedder for model on the Ollama server at host.
func NewOllamaEmbedder(model, host string, dim int) (*OllamaEmbedder, error) {
	return NewOllamaEmbedderWithClient(model, host, dim, nil)
}

// NewOllamaEmbedderWithClient creates an Ollama embedder with a custom HTTP client.
// A dim of 0 uses the model's known size, or leaves it to Probe.
func NewOllamaEmbedderWithClient(model, host string, dim int, httpClient *http.Client) (*OllamaEmbedder, error) {
	logger := util.NewLogger(util.LevelFromEnv("LOG_LEVEL", zerolog.ErrorLevel))
	if strings.TrimSpace(model) == "" {
		logger.Error().Err(ErrUnsupportedModel).Msg("empty local model name")
		return nil, ErrUnsupportedModel
	}
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return nil, ErrEmbeddingServerMissing
	}

	if dim == 0 {
		dim = ollamaModels[strings.SplitN(model, ":", 2)[0]]
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &OllamaEmbedder{
		model:      model,
		dimension:  dim,
		httpClient: httpClient,
		apiURL:     host + "/api/embed",
		logger:     logger,
	}, nil
}

// Probe embeds a short text to learn the model's dimension when it is unknown.
func (o *OllamaEmbedder) Probe(ctx context.Context) error {
	if o.dimension > 0 {
		return nil
	}
	vectors, err := o.embed(ctx, []string{"dim-probe"})
	if err != nil {
		return err
	}
	o.dimension = len(vectors[0])
	o.logger.Info().Str("model", o.model).Int("dimension", o.dimension).Msg("probed embedding dimension")
	return nil
}

// GenerateEmbeddings embeds texts in one request, returning vectors in input order.
func (o *OllamaEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if o.dimension == 0 {
		return nil, ErrDimensionUnknown
	}
	input, err := cleanTexts(texts)
	if err != nil {
		return nil, err
	}
	vectors, err := o.embed(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := checkDimension(vectors, o.dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (o *OllamaEmbedder) embed(ctx context.Context, input []string) ([][]float32, error) {
	var response ollamaEmbedResponse
	err := postJSON(ctx, o.httpClient, o.apiURL, "", ollamaEmbedRequest{Model: o.model, Input: input}, &response, o.logger)
	if err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 {
		return nil, ErrNoEmbeddingData
	}
	if len(response.Embeddings) != len(input) {
		return nil, fmt.Errorf("%w: sent %d, got %d", ErrResponseLength, len(input), len(response.Embeddings))
	}
	return response.Embeddings, nil
}

// GetModelName returns the name of the embedding model.
func (o *OllamaEmbedder) GetModelName() string {
	return o.model
}

// GetDimension returns the dimension of the embedding vectors.
func (o *OllamaEmbedder) GetDimension() int {
	return o.dimension
}
