package segmenters

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/code-sleuth/roeum-go/internal/manager/models"
	"github.com/code-sleuth/roeum-go/internal/manager/normalizers"
	"github.com/code-sleuth/roeum-go/pkg/util"

	"github.com/rs/zerolog"
)

type level int

const (
	levelChapter level = iota + 1
	levelArticle
	levelParagraph
	levelItem
)

type itemFamily int

const (
	familyNone itemFamily = iota
	familyNumeric
	familyHangul
)

// Items numbered past this are dates or amounts, not list items.
const maxItemNo = 99

const hangulItems = "가나다라마바사아자차카타파하"

var (
	chapterRe       = regexp.MustCompile(`^제\s*(\d+)\s*장(?:\s+(.*)|$)`)
	// Titles may hold one level of parentheses: 제2조(정의(定義)).
	articleRe       = regexp.MustCompile(`^제\s*(\d+)\s*조(?:\s*의\s*(\d+))?(?:\s*\(((?:[^()]|\([^()]*\))*)\))?`)
	circledRe       = regexp.MustCompile(`^([①-⑳])\s*`)
	paragraphWordRe = regexp.MustCompile(`^제\s*(\d+)\s*항(?:\s+|$)`)
	numericItemRe   = regexp.MustCompile(`^(\d{1,3})\.(?:\s+|$)`)
	hangulItemRe    = regexp.MustCompile(`^([가나다라마바사아자차카타파하])\.(?:\s+|$)`)
	leadingSpaceRe  = regexp.MustCompile(`^\s*`)
)

// CircledToInt maps ①..⑳ to 1..20.
func CircledToInt(r rune) (int, bool) {
	if r < '①' || r > '⑳' {
		return 0, false
	}
	return int(r-'①') + 1, true
}

// HangulItemToInt maps 가..하 to 1..14.
func HangulItemToInt(r rune) (int, bool) {
	i := 0
	for _, c := range hangulItems {
		i++
		if c == r {
			return i, true
		}
	}
	return 0, false
}

type marker struct {
	level  level
	no     int
	sub    int
	title  string
	family itemFamily
	// length of the marker text, body starts after it
	length int
}

// matchMarker recognises a structural marker at the start of s. Chapter wins
// over article, article over paragraph, paragraph over item.
func matchMarker(s string) (marker, bool) {
	if m := chapterRe.FindStringSubmatch(s); m != nil {
		no, _ := strconv.Atoi(m[1])
		return marker{level: levelChapter, no: no, title: strings.TrimSpace(m[2]), length: len(s)}, true
	}

	if loc := articleRe.FindStringSubmatchIndex(s); loc != nil {
		rest := s[loc[1]:]
		hasTitle := loc[6] >= 0
		if hasTitle || rest == "" || startsWithSpace(rest) {
			no, _ := strconv.Atoi(s[loc[2]:loc[3]])
			mk := marker{level: levelArticle, no: no, length: loc[1]}
			if loc[4] >= 0 {
				mk.sub, _ = strconv.Atoi(s[loc[4]:loc[5]])
			}
			if hasTitle {
				mk.title = normalizers.CleanInline(s[loc[6]:loc[7]])
			}
			mk.length += len(leadingSpaceRe.FindString(rest))
			return mk, true
		}
	}

	if m := circledRe.FindStringSubmatch(s); m != nil {
		r := []rune(m[1])[0]
		no, _ := CircledToInt(r)
		return marker{level: levelParagraph, no: no, length: len(m[0])}, true
	}
	if m := paragraphWordRe.FindStringSubmatch(s); m != nil {
		no, _ := strconv.Atoi(m[1])
		return marker{level: levelParagraph, no: no, length: len(m[0])}, true
	}

	if m := numericItemRe.FindStringSubmatch(s); m != nil {
		no, _ := strconv.Atoi(m[1])
		if no >= 1 && no <= maxItemNo {
			return marker{level: levelItem, no: no, family: familyNumeric, length: len(m[0])}, true
		}
	}
	if m := hangulItemRe.FindStringSubmatch(s); m != nil {
		no, _ := HangulItemToInt([]rune(m[1])[0])
		return marker{level: levelItem, no: no, family: familyHangul, length: len(m[0])}, true
	}

	return marker{}, false
}

func startsWithSpace(s string) bool {
	return s != "" && (s[0] == ' ' || s[0] == '\t' || s[0] == '\n')
}

// cursor tracks the open hierarchy while scanning.
type cursor struct {
	chapterNo    *int
	chapterTitle *string
	articleNo    *int
	articleSub   *int
	articleTitle *string
	paragraphNo  *int
	itemNo       *int

	family        itemFamily
	lastChapter   int
	lastArticle   [2]int
	lastParagraph int
	lastItem      int
}

// accepts reports whether m continues the numbering under its parent.
// Repeated or backwards numbers are body text.
func (c *cursor) accepts(m marker) bool {
	switch m.level {
	case levelChapter:
		return m.no > c.lastChapter
	case levelArticle:
		return m.no > c.lastArticle[0] || (m.no == c.lastArticle[0] && m.sub > c.lastArticle[1])
	case levelParagraph:
		return m.no > c.lastParagraph
	case levelItem:
		if c.family != familyNone && m.family != c.family {
			return false
		}
		return m.no > c.lastItem
	}
	return false
}

func (c *cursor) open(m marker) {
	switch m.level {
	case levelChapter:
		c.chapterNo = intPtr(m.no)
		c.chapterTitle = strPtr(m.title)
		c.lastChapter = m.no
		c.articleNo, c.articleSub, c.articleTitle = nil, nil, nil
		c.lastArticle = [2]int{}
		c.resetParagraph()
	case levelArticle:
		c.articleNo = intPtr(m.no)
		c.articleSub = nil
		if m.sub > 0 {
			c.articleSub = intPtr(m.sub)
		}
		c.articleTitle = nil
		if m.title != "" {
			c.articleTitle = strPtr(m.title)
		}
		c.lastArticle = [2]int{m.no, m.sub}
		c.resetParagraph()
	case levelParagraph:
		c.paragraphNo = intPtr(m.no)
		c.lastParagraph = m.no
		c.resetItem()
	case levelItem:
		c.itemNo = intPtr(m.no)
		c.lastItem = m.no
		c.family = m.family
	}
}

func (c *cursor) resetParagraph() {
	c.paragraphNo = nil
	c.lastParagraph = 0
	c.resetItem()
}

func (c *cursor) resetItem() {
	c.itemNo = nil
	c.lastItem = 0
	c.family = familyNone
}

func (c *cursor) span() models.StructuralSpan {
	return models.StructuralSpan{
		ChapterNo:    c.chapterNo,
		ChapterTitle: c.chapterTitle,
		ArticleNo:    c.articleNo,
		ArticleSub:   c.articleSub,
		ArticleTitle: c.articleTitle,
		ParagraphNo:  c.paragraphNo,
		ItemNo:       c.itemNo,
	}
}

type boundary struct {
	span      models.StructuralSpan
	start     int
	bodyStart int
}

// StatuteSegmenter splits normalized statute text into structural spans.
type StatuteSegmenter struct {
	logger zerolog.Logger
}

// NewStatuteSegmenter creates a segmenter.
func NewStatuteSegmenter() *StatuteSegmenter {
	return &StatuteSegmenter{
		logger: util.NewLogger(util.LevelFromEnv("LOG_LEVEL", zerolog.ErrorLevel)),
	}
}

// Segment returns spans in document order. Their RawText values concatenate
// back to text. Text before the first marker becomes a preamble span; text
// with no markers at all becomes one span with an empty hierarchy.
func (s *StatuteSegmenter) Segment(text string) []models.StructuralSpan {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var (
		cur      cursor
		bounds   []boundary
		rejected int
	)

	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		lineStart := offset
		offset += len(line)

		trimmed := strings.TrimLeft(line, " \t")
		pos := lineStart + (len(line) - len(trimmed))
		content := strings.TrimRight(trimmed, "\n")

		prev := level(0)
		first := true
		for {
			m, ok := matchMarker(content)
			if !ok || m.level <= prev {
				break
			}
			if !cur.accepts(m) {
				rejected++
				break
			}
			cur.open(m)

			start := pos
			if first {
				start = lineStart
			}
			sp := cur.span()
			sp.Heading = m.level == levelChapter
			bounds = append(bounds, boundary{span: sp, start: start, bodyStart: pos + m.length})

			// An article heading may carry its first paragraph on the same line.
			if m.level == levelChapter || m.length >= len(content) {
				break
			}
			prev = m.level
			first = false
			pos += m.length
			content = content[m.length:]
		}
	}

	if rejected > 0 {
		s.logger.Debug().Int("markers", rejected).Msg("out-of-order markers kept as body text")
	}

	if len(bounds) == 0 {
		return []models.StructuralSpan{{
			RawText: text,
			Body:    normalizers.Clean(text),
			Start:   0,
			End:     len(text),
		}}
	}

	spans := make([]models.StructuralSpan, 0, len(bounds)+1)
	if bounds[0].start > 0 {
		spans = append(spans, models.StructuralSpan{
			RawText:  text[:bounds[0].start],
			Body:     normalizers.Clean(text[:bounds[0].start]),
			Start:    0,
			End:      bounds[0].start,
			Preamble: true,
		})
	}
	for i, b := range bounds {
		end := len(text)
		if i+1 < len(bounds) {
			end = bounds[i+1].start
		}
		sp := b.span
		sp.Start = b.start
		sp.End = end
		sp.RawText = text[b.start:end]
		if b.bodyStart < end {
			sp.Body = normalizers.Clean(text[b.bodyStart:end])
		}
		spans = append(spans, sp)
	}

	return spans
}

func intPtr(i int) *int {
	return &i
}

func strPtr(s string) *string {
	return &s
}
