package embedders

import (
	"context"
	"fmt"
	"net/http"

	"github.com/code-sleuth/roeum-go/internal/manager/config"
	"github.com/code-sleuth/roeum-go/internal/manager/interfaces"
)

type prober interface {
	Probe(ctx context.Context) error
}

// New builds the embedder selected by cfg.EmbedBackend. Backends whose
// dimension is neither configured nor known are probed once, so the
// returned embedder always reports a positive dimension.
func New(ctx context.Context, cfg *config.Config) (interfaces.Embedder, error) {
	return NewWithClient(ctx, cfg, nil)
}

// NewWithClient is New with a custom HTTP client for the remote backends.
func NewWithClient(ctx context.Context, cfg *config.Config, httpClient *http.Client) (interfaces.Embedder, error) {
	var (
		embedder interfaces.Embedder
		err      error
	)

	switch cfg.EmbedBackend {
	case config.BackendStub:
		embedder = NewStubEmbedder(cfg.EmbedDim)
	case config.BackendLocal:
		embedder, err = NewOllamaEmbedderWithClient(cfg.LocalEmbedModel, cfg.OllamaHost, cfg.EmbedDim, httpClient)
	case config.BackendOpenAI:
		var o *OpenAIEmbedder
		if o, err = NewOpenAIEmbedderWithClient(cfg.OpenAIModel, httpClient, ""); err == nil {
			embedder, err = o.WithDimension(cfg.EmbedDim)
		}
	case config.BackendTogether:
		var t *TogetherAIEmbedder
		if t, err = NewTogetherAIEmbedderWithClient(cfg.TogetherModel, httpClient, ""); err == nil {
			embedder, err = t, t.RequireDimension(cfg.EmbedDim)
		}
	case config.BackendCompat:
		embedder, err = NewCompatEmbedderWithClient(cfg.CompatBaseURL, cfg.CompatModel, cfg.EmbedDim, httpClient)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.EmbedBackend)
	}
	if err != nil {
		return nil, err
	}

	if p, ok := embedder.(prober); ok {
		if err := p.Probe(ctx); err != nil {
			return nil, err
		}
	}
	if embedder.GetDimension() <= 0 {
		return nil, ErrDimensionUnknown
	}
	return embedder, nil
}
