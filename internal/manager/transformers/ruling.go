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
	"github.com/code-sleuth/roeum-go/pkg/util"

	"github.com/rs/zerolog"
)

// RulingTransformer chunks court rulings. Rulings have no statute
// hierarchy, so every chunk shares the document-level address.
type RulingTransformer struct {
	html    *normalizers.HTMLNormalizer
	chunker interfaces.Chunker
	tokens  *chunkers.TokenCounter
	logger  zerolog.Logger
}

// NewRulingTransformer creates a ruling transformer.
func NewRulingTransformer(chunker interfaces.Chunker, tokens *chunkers.TokenCounter) *RulingTransformer {
	return &RulingTransformer{
		html:    normalizers.NewHTMLNormalizer(),
		chunker: chunker,
		tokens:  tokens,
		logger:  util.NewLogger(util.LevelFromEnv("LOG_LEVEL", zerolog.ErrorLevel)),
	}
}

// GetDocumentKind returns the kind of document this transformer handles.
func (r *RulingTransformer) GetDocumentKind() models.DocumentKind {
	return models.KindRuling
}

// CanTransform checks if this transformer can handle the given document.
func (r *RulingTransformer) CanTransform(doc *models.RawDocument) bool {
	return doc != nil && doc.Kind == models.KindRuling
}

// AssembleRuling lays out title, subtitle and the labelled sections as one
// text, skipping empty sections.
func AssembleRuling(title, subtitle string, sec *models.RulingSections, body string) string {
	var lines []string
	add := func(s string) {
		if s = normalizers.Clean(s); s != "" {
			lines = append(lines, s)
		}
	}
	section := func(label, s string) {
		if s = normalizers.Clean(s); s != "" {
			lines = append(lines, "["+label+"]", s)
		}
	}

	add(title)
	if s := normalizers.CleanInline(subtitle); s != "" {
		lines = append(lines, "("+s+")")
	}

	if sec != nil {
		section("판시사항", sec.Holdings)
		section("판결요지", sec.Summary)
		section("참조조문", sec.ReferredLaw)

		disposition := normalizers.Clean(sec.Disposition)
		reasoning := normalizers.Clean(sec.Reasoning)
		switch {
		case disposition != "" || reasoning != "":
			lines = append(lines, "[전문]")
			section("주문", disposition)
			section("이유", reasoning)
		case normalizers.Clean(sec.FullText) != "":
			section("전문", sec.FullText)
		}
	}
	add(body)

	return normalizers.Clean(strings.Join(lines, "\n"))
}

func hasRulingContent(sec *models.RulingSections, body string) bool {
	if strings.TrimSpace(body) != "" {
		return true
	}
	if sec == nil {
		return false
	}
	for _, s := range []string{sec.Holdings, sec.Summary, sec.ReferredLaw, sec.Disposition, sec.Reasoning, sec.FullText} {
		if strings.TrimSpace(s) != "" {
			return true
		}
	}
	return false
}

// Transform assembles the ruling text and packs it into overlapping chunks.
func (r *RulingTransformer) Transform(ctx context.Context, doc *models.RawDocument) (*interfaces.TransformResult, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}
	if !r.CanTransform(doc) {
		return nil, ErrWrongKind
	}

	body := doc.Body
	if strings.TrimSpace(body) == "" && strings.TrimSpace(doc.BodyHTML) != "" {
		text, err := r.html.FromHTML(doc.BodyHTML)
		if err != nil {
			r.logger.Error().Err(err).Str("source_url", doc.SourceURL).Msg("failed to convert html body")
			return nil, err
		}
		body = text
	}

	header := BuildHeader(doc, models.KindRuling)
	text := AssembleRuling(header.Title, header.Subtitle, doc.Sections, body)
	if !hasRulingContent(doc.Sections, body) || utf8.RuneCountInString(text) < minLeafRunes {
		return nil, ErrEmptyDocument
	}

	leaves, err := r.chunker.Chunk(text)
	if err != nil {
		r.logger.Error().Err(err).Str("source_url", header.SourceURL).Msg("failed to chunk ruling")
		return nil, err
	}

	result := &interfaces.TransformResult{Header: header}
	seen := dedupe{}
	var crumbs []string
	if header.Title != "" {
		crumbs = []string{header.Title}
	}

	for _, leaf := range leaves {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := &models.Chunk{
			Text:        leaf,
			DisplayText: DisplayText(crumbs, leaf),
			Breadcrumbs: crumbs,
			LinksOut:    ExtractLinks(leaf),
			SourceURL:   header.SourceURL,
		}
		identity.Assign(c, header, identity.Address{})
		if !seen.add(c) {
			result.Dropped++
			continue
		}
		c.TokensEstimate = r.tokens.Estimate(leaf)
		result.Chunks = append(result.Chunks, c)
	}

	number(result.Chunks)

	r.logger.Debug().
		Str("doc_id", header.DocID).
		Int("chunks", len(result.Chunks)).
		Msg("transformed ruling")

	return result, nil
}
