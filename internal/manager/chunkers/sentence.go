package chunkers

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidTarget  = errors.New("target size must be positive and not above max size")
	ErrInvalidMaxSize = errors.New("max size must be positive")
	ErrInvalidOverlap = errors.New("overlap must be between 0 and max size")
)

// Chunks shorter than this many runes carry no content.
const minChunkRunes = 2

// sentenceEndRe matches a sentence terminator followed by whitespace:
// ASCII punctuation, or a Korean sentence-final ending before a period.
var sentenceEndRe = regexp.MustCompile(`([.!?]|(?:다|니다|요|함|됨|바)\.)\s+`)

// SplitSentences splits s after sentence terminators and at line breaks.
func SplitSentences(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	s = sentenceEndRe.ReplaceAllString(s, "${1}\n")

	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// SentenceChunker packs sentences into chunks of roughly TargetSize runes,
// never exceeding MaxSize.
type SentenceChunker struct {
	TargetSize int
	MaxSize    int
	Overlap    int
}

// NewSentenceChunker validates the sizes and returns a chunker.
func NewSentenceChunker(target, maxSize, overlap int) (*SentenceChunker, error) {
	if err := validateSizes(target, maxSize, overlap); err != nil {
		return nil, err
	}
	return &SentenceChunker{TargetSize: target, MaxSize: maxSize, Overlap: overlap}, nil
}

// GetChunkingStrategy returns the strategy name used by this chunker.
func (c *SentenceChunker) GetChunkingStrategy() string {
	return "sentence"
}

// Chunk splits text with the chunker's sizes.
func (c *SentenceChunker) Chunk(text string) ([]string, error) {
	return Rechunk(text, c.TargetSize, c.MaxSize, c.Overlap)
}

// Rechunk greedily joins sentences while the running chunk stays within
// target runes. A sentence longer than maxSize is cut at maxSize and the
// rest, starting overlap runes before the cut, seeds the next chunk.
func Rechunk(text string, target, maxSize, overlap int) ([]string, error) {
	if err := validateSizes(target, maxSize, overlap); err != nil {
		return nil, err
	}

	var (
		out    []string
		cur    string
		curLen int
	)
	emit := func(s string) {
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) >= minChunkRunes {
			out = append(out, s)
		}
	}

	for _, sent := range SplitSentences(text) {
		sentLen := utf8.RuneCountInString(sent)

		if sentLen > maxSize {
			if cur != "" {
				emit(cur)
			}
			r := []rune(sent)
			for len(r) > maxSize {
				emit(string(r[:maxSize]))
				r = r[maxSize-overlap:]
			}
			cur, curLen = string(r), len(r)
			continue
		}

		switch {
		case cur == "":
			cur, curLen = sent, sentLen
		case curLen+1+sentLen <= target:
			cur += " " + sent
			curLen += 1 + sentLen
		default:
			emit(cur)
			cur, curLen = sent, sentLen
		}
	}
	if cur != "" {
		emit(cur)
	}

	return out, nil
}

func validateSizes(target, maxSize, overlap int) error {
	if maxSize <= 0 {
		return ErrInvalidMaxSize
	}
	if target <= 0 || target > maxSize {
		return ErrInvalidTarget
	}
	if overlap < 0 || overlap >= maxSize {
		return ErrInvalidOverlap
	}
	return nil
}

// OverlapChunker packs sentences up to MaxSize runes and starts each new
// chunk with trailing sentences of the previous one, at least Overlap runes
// of them when available.
type OverlapChunker struct {
	MaxSize int
	Overlap int
}

// NewOverlapChunker validates the sizes and returns a chunker.
func NewOverlapChunker(maxSize, overlap int) (*OverlapChunker, error) {
	if err := validateSizes(maxSize, maxSize, overlap); err != nil {
		return nil, err
	}
	return &OverlapChunker{MaxSize: maxSize, Overlap: overlap}, nil
}

// GetChunkingStrategy returns the strategy name used by this chunker.
func (c *OverlapChunker) GetChunkingStrategy() string {
	return "sentence-overlap"
}

// Chunk splits text with the chunker's sizes.
func (c *OverlapChunker) Chunk(text string) ([]string, error) {
	return PackWithOverlap(text, c.MaxSize, c.Overlap)
}

// PackWithOverlap is the carry-over variant of Rechunk used for rulings.
func PackWithOverlap(text string, maxSize, overlap int) ([]string, error) {
	if err := validateSizes(maxSize, maxSize, overlap); err != nil {
		return nil, err
	}

	var (
		out []string
		cur []string
	)
	joinedLen := func(parts []string) int {
		if len(parts) == 0 {
			return 0
		}
		n := len(parts) - 1
		for _, p := range parts {
			n += utf8.RuneCountInString(p)
		}
		return n
	}
	emit := func(s string) {
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) >= minChunkRunes {
			out = append(out, s)
		}
	}

	for _, sent := range SplitSentences(text) {
		sentLen := utf8.RuneCountInString(sent)

		if sentLen > maxSize {
			if len(cur) > 0 {
				emit(strings.Join(cur, " "))
			}
			r := []rune(sent)
			for len(r) > maxSize {
				emit(string(r[:maxSize]))
				r = r[maxSize-overlap:]
			}
			cur = []string{string(r)}
			continue
		}

		if len(cur) == 0 || joinedLen(cur)+1+sentLen <= maxSize {
			cur = append(cur, sent)
			continue
		}

		emit(strings.Join(cur, " "))
		var carry []string
		for i := len(cur) - 1; i >= 0 && joinedLen(carry) < overlap; i-- {
			carry = append([]string{cur[i]}, carry...)
		}
		for len(carry) > 0 && joinedLen(carry)+1+sentLen > maxSize {
			carry = carry[1:]
		}
		cur = append(carry, sent)
	}
	if len(cur) > 0 {
		emit(strings.Join(cur, " "))
	}

	return out, nil
}
