package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// embeddingRequest is the OpenAI-style request body, also accepted by
// Together AI.
type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
	Dimensions     int      `json:"dimensions,omitempty"`
}

// embeddingResponse is the OpenAI-style response body.
type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
		Object    string    `json:"object"`
	} `json:"data"`
	Model  string `json:"model"`
	Object string `json:"object"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// cleanTexts flattens newlines and non-breaking spaces the way the
// embedding APIs expect and rejects empty inputs.
func cleanTexts(texts []string) ([]string, error) {
	out := make([]string, len(texts))
	for i, t := range texts {
		t = strings.ReplaceAll(t, "\u00a0", " ")
		t = strings.TrimSpace(strings.ReplaceAll(t, "\n", " "))
		if t == "" {
			return nil, fmt.Errorf("%w: input %d", ErrContentEmpty, i)
		}
		out[i] = t
	}
	return out, nil
}

// checkDimension verifies every vector has dim values. dim 0 skips the check.
func checkDimension(vectors [][]float32, dim int) error {
	if dim == 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d values, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}

// postJSON sends body to apiURL and decodes a 200 response into out.
func postJSON(ctx context.Context, client *http.Client, apiURL, apiKey string, body, out any, logger zerolog.Logger) error {
	requestBody, err := json.Marshal(body)
	if err != nil {
		logger.Err(err).Msg("failed to marshal request")
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(requestBody))
	if err != nil {
		logger.Err(err).Msg("failed to create request")
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Err(err).Msg("failed to make request")
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		logger.Error().Int("status_code", resp.StatusCode).Msg("API request failed")
		return fmt.Errorf("%w: status %d: %s", ErrAPIRequestFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		logger.Err(err).Msg("failed to decode response")
		return err
	}
	return nil
}

// postEmbeddings calls an OpenAI-style embeddings endpoint and returns the
// vectors in input order.
func postEmbeddings(
	ctx context.Context,
	client *http.Client,
	apiURL, apiKey string,
	request embeddingRequest,
	logger zerolog.Logger,
) ([][]float32, error) {
	var response embeddingResponse
	if err := postJSON(ctx, client, apiURL, apiKey, request, &response, logger); err != nil {
		return nil, err
	}

	if len(response.Data) == 0 {
		return nil, ErrNoEmbeddingData
	}
	if len(response.Data) != len(request.Input) {
		return nil, fmt.Errorf("%w: sent %d, got %d", ErrResponseLength, len(request.Input), len(response.Data))
	}

	vectors := make([][]float32, len(request.Input))
	for _, d := range response.Data {
		if d.Index < 0 || d.Index >= len(vectors) || vectors[d.Index] != nil {
			return nil, fmt.Errorf("%w: bad index %d", ErrResponseLength, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	logger.Debug().
		Str("model", request.Model).
		Int("inputs", len(request.Input)).
		Int("tokens_used", response.Usage.TotalTokens).
		Msg("Generated embeddings")
	return vectors, nil
}
