package normalizers

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/code-sleuth/roeum-go/pkg/util"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/rs/zerolog"
)

var ErrEmptyHTML = errors.New("html content is empty")

var (
	nbspEntityRe   = regexp.MustCompile(`(?i)&nbsp;`)
	blankRunRe     = regexp.MustCompile(`[ \t]+`)
	newlineSpaceRe = regexp.MustCompile(`[ \t]*\n[ \t]*`)
	manyNewlinesRe = regexp.MustCompile(`\n{3,}`)
	anyWhitespace  = regexp.MustCompile(`\s+`)
	phoneRe        = regexp.MustCompile(`\d{2,3}-\d{3,4}-\d{4}`)
	bulletOnlyRe   = regexp.MustCompile(`^[▷▶◀◁■□●○\-–—•·*]+$`)
	digitRe        = regexp.MustCompile(`\d`)
	bracketRe      = regexp.MustCompile(`\[([^\]]*)\]`)
	shortMarkerRe  = regexp.MustCompile(`^(?:[①-⑳]|[가나다라마바사아자차카타파하]\.?)$`)
)

// menuWords are navigation labels scraped along with the law body.
var menuWords = map[string]struct{}{
	"판례":     {},
	"연혁":     {},
	"위임행정규칙": {},
	"규제":     {},
	"생활법령":   {},
	"한눈보기":   {},
}

var fullWidth = strings.NewReplacer(
	"［", "[",
	"］", "]",
	"（", "(",
	"）", ")",
	"\u00a0", " ",
)

// Clean normalizes spacing and maps full-width brackets to ASCII. At most one
// blank line survives between paragraphs.
func Clean(s string) string {
	s = fullWidth.Replace(s)
	s = nbspEntityRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blankRunRe.ReplaceAllString(s, " ")
	s = newlineSpaceRe.ReplaceAllString(s, "\n")
	s = manyNewlinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// CleanInline is Clean with every whitespace run folded into one space.
func CleanInline(s string) string {
	return strings.TrimSpace(anyWhitespace.ReplaceAllString(Clean(s), " "))
}

// StripBrackets turns "[판시사항]" into "판시사항".
func StripBrackets(s string) string {
	return bracketRe.ReplaceAllString(s, "$1")
}

// IsNoiseLine reports whether a line is page chrome rather than law text.
func IsNoiseLine(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" {
		return true
	}
	if _, ok := menuWords[t]; ok {
		return true
	}
	if utf8.RuneCountInString(t) <= 2 && !digitRe.MatchString(t) && !shortMarkerRe.MatchString(t) {
		return true
	}
	if phoneRe.MatchString(t) {
		return true
	}
	return bulletOnlyRe.MatchString(t)
}

// DropNoiseLines cleans each line and keeps the ones that are not noise.
func DropNoiseLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, ln := range lines {
		t := Clean(ln)
		if !IsNoiseLine(t) {
			out = append(out, t)
		}
	}
	return out
}

// Normalize cleans text and removes noise lines, keeping one line per
// surviving source line.
func Normalize(text string) string {
	return strings.Join(DropNoiseLines(strings.Split(Clean(text), "\n")), "\n")
}

// HTMLNormalizer converts scraped HTML bodies into normalized text.
type HTMLNormalizer struct {
	converter *md.Converter
	logger    zerolog.Logger
}

// NewHTMLNormalizer creates a converter that leaves markdown-looking text
// such as "1." unescaped, since those are item markers in law bodies.
func NewHTMLNormalizer() *HTMLNormalizer {
	converter := md.NewConverter("", true, &md.Options{EscapeMode: "disabled"})
	return &HTMLNormalizer{
		converter: converter,
		logger:    util.NewLogger(util.LevelFromEnv("LOG_LEVEL", zerolog.ErrorLevel)),
	}
}

// FromHTML converts html to plain text and normalizes it.
func (h *HTMLNormalizer) FromHTML(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", ErrEmptyHTML
	}
	markdown, err := h.converter.ConvertString(html)
	if err != nil {
		h.logger.Err(err).Msg("failed to convert html to markdown")
		return "", err
	}
	return Normalize(markdown), nil
}
