package transformers

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/code-sleuth/roeum-go/internal/manager/identity"
	"github.com/code-sleuth/roeum-go/internal/manager/models"
	"github.com/code-sleuth/roeum-go/internal/manager/normalizers"
)

var (
	ErrNilDocument   = errors.New("document is nil")
	ErrEmptyDocument = errors.New("document has no body")
	ErrWrongKind     = errors.New("transformer cannot handle document kind")
)

// displaySeparator joins breadcrumbs and leaf text in DisplayText.
const displaySeparator = " — "

// citationRe matches 「근로기준법」 제17조.
var citationRe = regexp.MustCompile(`「\s*([^」]+?)\s*」\s*제\s*(\d+)\s*조`)

// BuildHeader derives the document header from a scraped record.
func BuildHeader(doc *models.RawDocument, kind models.DocumentKind) *models.DocumentHeader {
	title := normalizers.CleanInline(doc.Title)
	shortTitle := normalizers.CleanInline(doc.ShortTitle)

	aliases := make([]string, 0, len(doc.Aliases)+2)
	seen := map[string]struct{}{}
	for _, a := range append([]string{title, shortTitle}, doc.Aliases...) {
		a = normalizers.CleanInline(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		aliases = append(aliases, a)
	}

	revision := strings.TrimSpace(doc.Revision)
	if revision == "" {
		revision = "0"
	}

	return &models.DocumentHeader{
		DocID:      identity.DocID(doc.ExternalKey, title),
		Kind:       kind,
		Title:      title,
		Subtitle:   normalizers.CleanInline(doc.Subtitle),
		ShortTitle: shortTitle,
		Ministry:   normalizers.CleanInline(doc.Ministry),
		SourceURL:  canonicalURL(doc.SourceURL),
		Revision:   revision,
		Aliases:    aliases,
		Lang:       "ko",
	}
}

// canonicalURL drops the fragment.
func canonicalURL(u string) string {
	u = strings.TrimSpace(u)
	if i := strings.IndexByte(u, '#'); i >= 0 {
		return u[:i]
	}
	return u
}

// Breadcrumbs renders the hierarchy of a span, outermost first.
func Breadcrumbs(sp models.StructuralSpan) []string {
	var crumbs []string
	if sp.ChapterNo != nil {
		c := "제" + strconv.Itoa(*sp.ChapterNo) + "장"
		if sp.ChapterTitle != nil && *sp.ChapterTitle != "" {
			c += " " + *sp.ChapterTitle
		}
		crumbs = append(crumbs, c)
	}
	if sp.ArticleNo != nil {
		a := "제" + strconv.Itoa(*sp.ArticleNo) + "조"
		if sp.ArticleSub != nil {
			a += "의" + strconv.Itoa(*sp.ArticleSub)
		}
		if sp.ArticleTitle != nil && *sp.ArticleTitle != "" {
			a += "(" + *sp.ArticleTitle + ")"
		}
		crumbs = append(crumbs, a)
	}
	if sp.ParagraphNo != nil {
		crumbs = append(crumbs, strconv.Itoa(*sp.ParagraphNo)+"항")
	}
	if sp.ItemNo != nil {
		crumbs = append(crumbs, strconv.Itoa(*sp.ItemNo)+"호")
	}
	return crumbs
}

// DisplayText prefixes text with its breadcrumbs.
func DisplayText(crumbs []string, text string) string {
	if len(crumbs) == 0 {
		return text
	}
	return strings.Join(crumbs, " > ") + displaySeparator + text
}

// ExtractLinks finds citations of other laws' articles, in order of
// appearance, without duplicates.
func ExtractLinks(text string) []models.Link {
	var links []models.Link
	seen := map[models.Link]struct{}{}
	for _, m := range citationRe.FindAllStringSubmatch(text, -1) {
		no, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		l := models.Link{LawName: normalizers.CleanInline(m[1]), ArticleNo: no}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		links = append(links, l)
	}
	return links
}

// dedupe tracks (address, revision) pairs already emitted for a document.
type dedupe map[string]struct{}

func (d dedupe) add(c *models.Chunk) bool {
	if _, ok := d[c.ChunkID]; ok {
		return false
	}
	d[c.ChunkID] = struct{}{}
	return true
}

// number assigns contiguous 1-based chunk numbers in document order.
func number(chunks []*models.Chunk) {
	for i, c := range chunks {
		c.ChunkNo = i + 1
	}
}
