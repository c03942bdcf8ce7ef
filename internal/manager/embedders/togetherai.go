package embedders

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/code-sleuth/roeum-go/pkg/util"

	"github.com/rs/zerolog"
)

var timeout = 30 * time.Second

type togetherModel struct {
	dimension int
	maxTokens int
}

var togetherModels = map[string]togetherModel{
	"BAAI/bge-base-en-v1.5":                      {dimension: 768, maxTokens: 512},
	"BAAI/bge-large-en-v1.5":                     {dimension: 1024, maxTokens: 512},
	"intfloat/multilingual-e5-large-instruct":    {dimension: 1024, maxTokens: 514},
	"togethercomputer/m2-bert-80M-8k-retrieval":  {dimension: 768, maxTokens: 8192},
	"togethercomputer/m2-bert-80M-32k-retrieval": {dimension: 768, maxTokens: 32768},
}

// TogetherAIEmbedder implements embedding using Together AI's API.
type TogetherAIEmbedder struct {
	apiKey     string
	model      string
	dimension  int
	maxTokens  int
	httpClient *http.Client
	apiURL     string
	logger     zerolog.Logger
}

// NewTogetherAIEmbedder creates a new Together AI embedder.
func NewTogetherAIEmbedder(model string) (*TogetherAIEmbedder, error) {
	return NewTogetherAIEmbedderWithClient(model, nil, "")
}

// NewTogetherAIEmbedderWithClient creates a new Together AI embedder with custom HTTP client and API URL.
func NewTogetherAIEmbedderWithClient(
	model string,
	httpClient *http.Client,
	apiURL string,
) (*TogetherAIEmbedder, error) {
	logger := util.NewLogger(util.LevelFromEnv("LOG_LEVEL", zerolog.ErrorLevel))
	apiKey := os.Getenv("TOGETHER_API_KEY")
	if strings.EqualFold(apiKey, "") {
		logger.Error().Msg("TOGETHER_API_KEY env variable not set")
		return nil, ErrAPIKeyNotSet
	}

	info, ok := togetherModels[model]
	if !ok {
		logger.Error().Str("unsupported model", model).Err(ErrUnsupportedModel).Send()
		return nil, ErrUnsupportedModel
	}

	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}
	if apiURL == "" {
		apiURL = "https://api.together.xyz/v1/embeddings"
	}

	return &TogetherAIEmbedder{
		apiKey:     apiKey,
		model:      model,
		dimension:  info.dimension,
		maxTokens:  info.maxTokens,
		httpClient: httpClient,
		apiURL:     apiURL,
		logger:     logger,
	}, nil
}

// GenerateEmbeddings embeds texts in one request, returning vectors in input order.
func (t *TogetherAIEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	input, err := cleanTexts(texts)
	if err != nil {
		return nil, err
	}

	vectors, err := postEmbeddings(ctx, t.httpClient, t.apiURL, t.apiKey, embeddingRequest{
		Input: input,
		Model: t.model,
	}, t.logger)
	if err != nil {
		return nil, err
	}
	if err := checkDimension(vectors, t.dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

// RequireDimension fails unless dim is 0 or the model's native size; Together
// models cannot shorten their output.
func (t *TogetherAIEmbedder) RequireDimension(dim int) error {
	if dim != 0 && dim != t.dimension {
		return fmt.Errorf("%w: %s produces %d", ErrUnsupportedDimension, t.model, t.dimension)
	}
	return nil
}

// GetModelName returns the name of the embedding model.
func (t *TogetherAIEmbedder) GetModelName() string {
	return t.model
}

// GetDimension returns the dimension of the embedding vectors.
func (t *TogetherAIEmbedder) GetDimension() int {
	return t.dimension
}

// GetMaxTokens returns the maximum number of tokens this embedder can handle.
func (t *TogetherAIEmbedder) GetMaxTokens() int {
	return t.maxTokens
}
