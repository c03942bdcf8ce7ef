package embedders

import "errors"

var (
	ErrAPIKeyNotSet           = errors.New("API key not set")
	ErrUnsupportedModel       = errors.New("unsupported model")
	ErrUnsupportedDimension   = errors.New("model does not support the requested dimension")
	ErrContentEmpty           = errors.New("content is empty")
	ErrAPIRequestFailed       = errors.New("API request failed")
	ErrNoEmbeddingData        = errors.New("no embedding data in response")
	ErrResponseLength         = errors.New("response has a different number of embeddings than inputs")
	ErrDimensionMismatch      = errors.New("embedding has unexpected dimension")
	ErrDimensionUnknown       = errors.New("embedding dimension unknown, set EMBED_DIM or probe the backend")
	ErrUnknownBackend         = errors.New("unknown embedding backend")
	ErrEmbeddingServerMissing = errors.New("embedding server URL not set")
)
