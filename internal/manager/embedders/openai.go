package embedders

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/code-sleuth/roeum-go/pkg/util"

	"github.com/rs/zerolog"
)

type openAIModel struct {
	dimension int
	maxTokens int
	// shortenable models accept a smaller "dimensions" request parameter.
	shortenable bool
}

var openAIModels = map[string]openAIModel{
	"text-embedding-3-small": {dimension: 1536, maxTokens: 8191, shortenable: true},
	"text-embedding-3-large": {dimension: 3072, maxTokens: 8191, shortenable: true},
	"text-embedding-ada-002": {dimension: 1536, maxTokens: 8191},
}

// OpenAIEmbedder implements embedding using OpenAI's API.
type OpenAIEmbedder struct {
	apiKey      string
	model       string
	dimension   int
	maxTokens   int
	shortenable bool
	requestDims int
	httpClient  *http.Client
	apiURL      string
	logger      zerolog.Logger
}

// NewOpenAIEmbedder creates a new OpenAI embedder.
func NewOpenAIEmbedder(model string) (*OpenAIEmbedder, error) {
	return NewOpenAIEmbedderWithClient(model, nil, "")
}

// NewOpenAIEmbedderWithClient creates a new OpenAI embedder with custom HTTP client and API URL.
func NewOpenAIEmbedderWithClient(model string, httpClient *http.Client, apiURL string) (*OpenAIEmbedder, error) {
	logger := util.NewLogger(util.LevelFromEnv("LOG_LEVEL", zerolog.ErrorLevel))
	apiKey := os.Getenv("OPENAI_API_KEY")
	if strings.EqualFold(apiKey, "") {
		logger.Error().Msg("OPENAI_API_KEY env variable not set")
		return nil, ErrAPIKeyNotSet
	}

	info, ok := openAIModels[model]
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
		apiURL = "https://api.openai.com/v1/embeddings"
	}

	return &OpenAIEmbedder{
		apiKey:      apiKey,
		model:       model,
		dimension:   info.dimension,
		maxTokens:   info.maxTokens,
		shortenable: info.shortenable,
		httpClient:  httpClient,
		apiURL:      apiURL,
		logger:      logger,
	}, nil
}

// WithDimension asks the API for dim-sized vectors. Only the text-embedding-3
// family can shorten its output; other models accept only their native size.
// A dim of 0 keeps the native size.
func (o *OpenAIEmbedder) WithDimension(dim int) (*OpenAIEmbedder, error) {
	switch {
	case dim == 0 || dim == o.dimension:
		return o, nil
	case dim < 0, dim > o.dimension, !o.shortenable:
		return nil, fmt.Errorf("%w: %s cannot produce %d", ErrUnsupportedDimension, o.model, dim)
	}
	o.dimension = dim
	o.requestDims = dim
	return o, nil
}

// GenerateEmbeddings embeds texts in one request, returning vectors in input order.
func (o *OpenAIEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	input, err := cleanTexts(texts)
	if err != nil {
		o.logger.Warn().Err(err).Msg("content is empty")
		return nil, err
	}

	vectors, err := postEmbeddings(ctx, o.httpClient, o.apiURL, o.apiKey, embeddingRequest{
		Input:          input,
		Model:          o.model,
		EncodingFormat: "float",
		Dimensions:     o.requestDims,
	}, o.logger)
	if err != nil {
		return nil, err
	}
	if err := checkDimension(vectors, o.dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

// GetModelName returns the name of the embedding model.
func (o *OpenAIEmbedder) GetModelName() string {
	return o.model
}

// GetDimension returns the dimension of the embedding vectors.
func (o *OpenAIEmbedder) GetDimension() int {
	return o.dimension
}

// GetMaxTokens returns the maximum number of tokens this embedder can handle.
func (o *OpenAIEmbedder) GetMaxTokens() int {
	return o.maxTokens
}
