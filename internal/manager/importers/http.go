package importers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/code-sleuth/roeum-go/internal/manager/interfaces"
	"github.com/code-sleuth/roeum-go/internal/manager/models"
	"github.com/code-sleuth/roeum-go/pkg/util"

	"github.com/rs/zerolog"
)

const (
	// HTTP client timeout in seconds.
	defaultHTTPTimeout = 30
	// Default records per page.
	defaultPerPage = 100
	// Maximum pages to fetch (safety limit).
	maxPages = 1000
)

var (
	ErrNotHTTPURL           = errors.New("source is not an http(s) URL")
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
)

// HTTPImporter pages through a scraper export endpoint that serves JSON
// arrays of raw documents.
type HTTPImporter struct {
	client   *http.Client
	perPage  int
	maxPages int
	logger   zerolog.Logger
}

// NewHTTPImporter creates a new HTTP export importer.
func NewHTTPImporter() *HTTPImporter {
	return NewHTTPImporterWithClient(&http.Client{
		Timeout: defaultHTTPTimeout * time.Second,
	})
}

// NewHTTPImporterWithClient creates an importer using httpClient.
func NewHTTPImporterWithClient(httpClient *http.Client) *HTTPImporter {
	return &HTTPImporter{
		client:   httpClient,
		perPage:  defaultPerPage,
		maxPages: maxPages,
		logger:   util.NewLogger(util.LevelFromEnv("LOG_LEVEL", zerolog.ErrorLevel)),
	}
}

// GetSourceType returns the source type this importer handles.
func (h *HTTPImporter) GetSourceType() string {
	return "http"
}

// ValidateSource checks that source is an absolute http(s) URL.
func (h *HTTPImporter) ValidateSource(source string) error {
	parsedURL, err := url.Parse(source)
	if err != nil {
		h.logger.Error().Err(err).Msg("invalid URL")
		return err
	}
	if (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		h.logger.Error().Err(ErrNotHTTPURL).Str("source", source).Msg("not an http export endpoint")
		return ErrNotHTTPURL
	}
	return nil
}

// Import fetches pages until an empty page, a 400 response or the page
// limit. Records that do not decode are skipped.
func (h *HTTPImporter) Import(ctx context.Context, source string, out chan<- *models.RawDocument) (*interfaces.ImportResult, error) {
	if err := h.ValidateSource(source); err != nil {
		return nil, err
	}

	h.logger.Info().Str("source", source).Msg("starting http import")

	result := &interfaces.ImportResult{Source: source}
	for page := 1; page <= h.maxPages; page++ {
		records, err := h.fetchPage(ctx, source, page)
		if err != nil {
			return result, err
		}
		if len(records) == 0 {
			break
		}

		for i, raw := range records {
			doc, err := decodeRecord(raw)
			if err != nil {
				result.Skipped++
				h.logger.Warn().Err(err).Int("page", page).Int("index", i).Msg("skipping bad record")
				continue
			}
			if err := send(ctx, out, doc); err != nil {
				return result, err
			}
			result.Documents++
		}
	}

	h.logger.Info().
		Str("source", source).
		Int("documents", result.Documents).
		Int("skipped", result.Skipped).
		Msg("http import finished")

	return result, nil
}

// fetchPage returns the records of one page. A 400 response means the
// export has no more pages and yields no records.
func (h *HTTPImporter) fetchPage(ctx context.Context, source string, page int) ([]json.RawMessage, error) {
	reqURL, err := pageURL(source, page, h.perPage)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create request")
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Error().Err(err).Int("page", page).Msg("request failed")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		h.logger.Error().Int("status_code", resp.StatusCode).Int("page", page).Msg("unexpected status code")
		return nil, fmt.Errorf("%w: %d: %s", ErrUnexpectedStatusCode, resp.StatusCode, body)
	}

	var records []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		h.logger.Error().Err(err).Int("page", page).Msg("failed to decode response")
		return nil, err
	}
	return records, nil
}

func pageURL(source string, page, perPage int) (string, error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SetPerPage sets the number of records to fetch per page.
func (h *HTTPImporter) SetPerPage(perPage int) {
	h.perPage = perPage
}

// SetMaxPages sets the maximum number of pages to fetch.
func (h *HTTPImporter) SetMaxPages(maxPages int) {
	h.maxPages = maxPages
}

// SetTimeout sets the HTTP client timeout.
func (h *HTTPImporter) SetTimeout(timeout time.Duration) {
	h.client.Timeout = timeout
}
