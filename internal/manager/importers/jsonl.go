package importers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/code-sleuth/roeum-go/internal/manager/interfaces"
	"github.com/code-sleuth/roeum-go/internal/manager/models"
	"github.com/code-sleuth/roeum-go/pkg/util"

	"github.com/rs/zerolog"
)

// StdinSource reads documents from standard input.
const StdinSource = "-"

// Scraper records carry whole statutes on one line.
const maxLineBytes = 64 << 20

var (
	ErrSourceEmpty   = errors.New("source is empty")
	ErrNotAFile      = errors.New("source is not a regular file")
	ErrInvalidRecord = errors.New("record has neither source_url nor title")
)

// JSONLImporter reads scraper output, one RawDocument per line.
type JSONLImporter struct {
	stdin  io.Reader
	logger zerolog.Logger
}

// NewJSONLImporter creates a JSON Lines importer reading "-" from os.Stdin.
func NewJSONLImporter() *JSONLImporter {
	return &JSONLImporter{
		stdin:  os.Stdin,
		logger: util.NewLogger(util.LevelFromEnv("LOG_LEVEL", zerolog.ErrorLevel)),
	}
}

// GetSourceType returns the source type this importer handles.
func (j *JSONLImporter) GetSourceType() string {
	return "jsonl"
}

// ValidateSource accepts "-" or a path to a regular file.
func (j *JSONLImporter) ValidateSource(source string) error {
	if strings.TrimSpace(source) == "" {
		return ErrSourceEmpty
	}
	if source == StdinSource {
		return nil
	}
	info, err := os.Stat(source)
	if err != nil {
		j.logger.Error().Err(err).Str("source", source).Msg("failed to stat source")
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotAFile, source)
	}
	return nil
}

// Import streams every record of source to out.
func (j *JSONLImporter) Import(ctx context.Context, source string, out chan<- *models.RawDocument) (*interfaces.ImportResult, error) {
	if err := j.ValidateSource(source); err != nil {
		return nil, err
	}

	if source == StdinSource {
		return j.ImportReader(ctx, j.stdin, source, out)
	}

	f, err := os.Open(source)
	if err != nil {
		j.logger.Error().Err(err).Str("source", source).Msg("failed to open source")
		return nil, err
	}
	defer f.Close()

	return j.ImportReader(ctx, f, source, out)
}

// ImportReader decodes r line by line. Blank lines are ignored; lines that
// do not decode into a usable record are counted as skipped and logged.
func (j *JSONLImporter) ImportReader(ctx context.Context, r io.Reader, source string, out chan<- *models.RawDocument) (*interfaces.ImportResult, error) {
	result := &interfaces.ImportResult{Source: source}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		doc, err := decodeRecord(raw)
		if err != nil {
			result.Skipped++
			j.logger.Warn().Err(err).Str("source", source).Int("line", line).Msg("skipping bad record")
			continue
		}

		if err := send(ctx, out, doc); err != nil {
			return result, err
		}
		result.Documents++
	}
	if err := scanner.Err(); err != nil {
		j.logger.Error().Err(err).Str("source", source).Int("line", line).Msg("failed to read source")
		return result, err
	}

	j.logger.Info().
		Str("source", source).
		Int("documents", result.Documents).
		Int("skipped", result.Skipped).
		Msg("import finished")

	return result, nil
}

func decodeRecord(raw []byte) (*models.RawDocument, error) {
	var doc models.RawDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.SourceURL) == "" && strings.TrimSpace(doc.Title) == "" {
		return nil, ErrInvalidRecord
	}
	return &doc, nil
}

func send(ctx context.Context, out chan<- *models.RawDocument, doc *models.RawDocument) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- doc:
		return nil
	}
}
