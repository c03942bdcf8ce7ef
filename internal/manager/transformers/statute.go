package transformers

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/code-sleuth/roeum-go/internal/manager/chunkers"
	"github.com/code-sleuth/roeum-go/internal/manager/identity"
	"github.com/code-sleuth/roeum-go/internal/manager/interfaces"
	"github.com/code-sleuth/roeum-go/internal/manager/models"
	"github.com/code-sleuth/roeum-go/internal/manager/normalizers"
	"github.com/code-sleuth/roeum-go/internal/manager/segmenters"
	"github.com/code-sleuth/roeum-go/pkg/util"

	"github.com/rs/zerolog"
)

// Leaves shorter than this are dropped.
const minLeafRunes = 2

// StatuteTransformer turns statute text into hierarchically addressed chunks.
type StatuteTransformer struct {
	html      *normalizers.HTMLNormalizer
	segmenter interfaces.Segmenter
	chunker   interfaces.Chunker
	tokens    *chunkers.TokenCounter
	logger    zerolog.Logger
}

// NewStatuteTransformer wires the statute pipeline. tokens may be nil, in
// which case token counts are estimated from rune counts.
func NewStatuteTransformer(chunker interfaces.Chunker, tokens *chunkers.TokenCounter) *StatuteTransformer {
	return &StatuteTransformer{
		html:      normalizers.NewHTMLNormalizer(),
		segmenter: segmenters.NewStatuteSegmenter(),
		chunker:   chunker,
		tokens:    tokens,
		logger:    util.NewLogger(util.LevelFromEnv("LOG_LEVEL", zerolog.ErrorLevel)),
	}
}

// GetDocumentKind returns the kind of document this transformer handles.
func (s *StatuteTransformer) GetDocumentKind() models.DocumentKind {
	return models.KindStatute
}

// CanTransform accepts statutes and documents without a kind.
func (s *StatuteTransformer) CanTransform(doc *models.RawDocument) bool {
	if doc == nil {
		return false
	}
	return doc.Kind == "" || doc.Kind == models.KindStatute
}

// Transform runs normalize, segment, rechunk and identity assignment.
func (s *StatuteTransformer) Transform(ctx context.Context, doc *models.RawDocument) (*interfaces.TransformResult, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}
	if !s.CanTransform(doc) {
		return nil, ErrWrongKind
	}

	text, err := s.bodyText(doc)
	if err != nil {
		return nil, err
	}

	header := BuildHeader(doc, models.KindStatute)
	normalized := normalizers.Normalize(text)
	spans := s.segmenter.Segment(normalized)

	result := &interfaces.TransformResult{Header: header}
	seen := dedupe{}

	for _, sp := range spans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if utf8.RuneCountInString(sp.Body) < minLeafRunes {
			continue
		}

		leaves, err := s.chunker.Chunk(sp.Body)
		if err != nil {
			s.logger.Error().Err(err).Str("source_url", header.SourceURL).Msg("failed to rechunk span")
			return nil, err
		}

		crumbs := Breadcrumbs(sp)
		addr := identity.AddressOf(sp)
		for _, leaf := range leaves {
			leaf = normalizers.Clean(leaf)
			if utf8.RuneCountInString(leaf) < minLeafRunes {
				result.Dropped++
				continue
			}

			c := &models.Chunk{
				Text:         leaf,
				DisplayText:  DisplayText(crumbs, leaf),
				Breadcrumbs:  crumbs,
				ChapterTitle: sp.ChapterTitle,
				ArticleTitle: sp.ArticleTitle,
				LinksOut:     ExtractLinks(leaf),
				SourceURL:    header.SourceURL,
			}
			identity.Assign(c, header, addr)
			if !seen.add(c) {
				result.Dropped++
				continue
			}
			c.TokensEstimate = s.tokens.Estimate(leaf)
			result.Chunks = append(result.Chunks, c)
		}
	}

	number(result.Chunks)

	s.logger.Debug().
		Str("doc_id", header.DocID).
		Int("spans", len(spans)).
		Int("chunks", len(result.Chunks)).
		Int("dropped", result.Dropped).
		Msg("transformed statute")

	return result, nil
}

func (s *StatuteTransformer) bodyText(doc *models.RawDocument) (string, error) {
	if strings.TrimSpace(doc.Body) != "" {
		return doc.Body, nil
	}
	if strings.TrimSpace(doc.BodyHTML) != "" {
		text, err := s.html.FromHTML(doc.BodyHTML)
		if err != nil {
			s.logger.Error().Err(err).Str("source_url", doc.SourceURL).Msg("failed to convert html body")
			return "", err
		}
		return text, nil
	}
	return "", ErrEmptyDocument
}
