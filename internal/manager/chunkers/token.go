package chunkers

import (
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/code-sleuth/roeum-go/pkg/util"

	"github.com/rs/zerolog"
	"github.com/tiktoken-go/tokenizer"
)

const (
	targetSizeDefault = 900
	maxSizeDefault    = 1400
	overlapDefault    = 200

	// Korean text averages about 2.5 runes per token.
	runesPerToken = 2.5
)

// TokenCounter counts tokens with a tiktoken encoding.
type TokenCounter struct {
	encoding tokenizer.Codec
	name     string
	logger   zerolog.Logger
}

// NewTokenCounter creates a counter for the tokenizer named by
// CHUNKER_TOKENIZER, cl100k_base by default.
func NewTokenCounter() (*TokenCounter, error) {
	return NewTokenCounterFor(getTokenizerFromEnv())
}

// NewTokenCounterFor creates a counter for the named tokenizer.
func NewTokenCounterFor(name string) (*TokenCounter, error) {
	logger := util.NewLogger(getLogLevelFromEnv())

	encoding, err := getTokenizerEncoding(name)
	if err != nil {
		logger.Error().Err(err).Str("tokenizer", name).Msg("failed to get tokenizer")
		return nil, err
	}

	return &TokenCounter{
		encoding: encoding,
		name:     strings.ToLower(name),
		logger:   logger,
	}, nil
}

// Name returns the tokenizer name.
func (t *TokenCounter) Name() string {
	return t.name
}

// CountTokens returns the number of tokens in the given text.
func (t *TokenCounter) CountTokens(text string) (int, error) {
	tokens, _, err := t.encoding.Encode(text)
	if err != nil {
		t.logger.Err(err).Msg("failed to tokenize text")
		return 0, err
	}
	return len(tokens), nil
}

// Estimate returns the token count, falling back to EstimateTokens when the
// encoder fails. Never less than 1.
func (t *TokenCounter) Estimate(text string) int {
	if t == nil {
		return EstimateTokens(text)
	}
	n, err := t.CountTokens(text)
	if err != nil || n < 1 {
		return EstimateTokens(text)
	}
	return n
}

// EstimateTokens approximates the token count from the rune count.
func EstimateTokens(text string) int {
	n := int(float64(utf8.RuneCountInString(text)) / runesPerToken)
	if n < 1 {
		return 1
	}
	return n
}

// getTokenizerFromEnv returns the tokenizer name from environment or default.
func getTokenizerFromEnv() string {
	tokenizerName := os.Getenv("CHUNKER_TOKENIZER")
	if tokenizerName == "" {
		return "cl100k_base"
	}
	return tokenizerName
}

// getTokenizerEncoding returns the tokenizer encoding for the given name.
func getTokenizerEncoding(name string) (tokenizer.Codec, error) {
	switch strings.ToLower(name) {
	case "p50k_base":
		return tokenizer.Get(tokenizer.P50kBase)
	case "r50k_base":
		return tokenizer.Get(tokenizer.R50kBase)
	default:
		return tokenizer.Get(tokenizer.Cl100kBase)
	}
}

func getLogLevelFromEnv() zerolog.Level {
	if lvl := os.Getenv("CHUNKER_LOG_LEVEL"); lvl != "" {
		return util.ParseLevel(lvl, zerolog.ErrorLevel)
	}
	return util.LevelFromEnv("LOG_LEVEL", zerolog.ErrorLevel)
}

func getIntFromEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

// GetDefaultTargetSize returns CHUNKER_TARGET_SIZE or 900.
func GetDefaultTargetSize() int {
	return getIntFromEnv("CHUNKER_TARGET_SIZE", targetSizeDefault)
}

// GetDefaultMaxSize returns CHUNKER_MAX_SIZE or 1400.
func GetDefaultMaxSize() int {
	return getIntFromEnv("CHUNKER_MAX_SIZE", maxSizeDefault)
}

// GetDefaultOverlap returns CHUNKER_OVERLAP or 200.
func GetDefaultOverlap() int {
	return getIntFromEnv("CHUNKER_OVERLAP", overlapDefault)
}
