package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/code-sleuth/roeum-go/pkg/db"

	"github.com/pelletier/go-toml/v2"
)

var (
	ErrUnknownBackend     = errors.New("unknown embedding backend")
	ErrInvalidChunkSizes  = errors.New("chunk sizes must satisfy 0 <= overlap < max and 0 < target <= max")
	ErrInvalidWorkerBatch = errors.New("worker batch must be positive")
	ErrInvalidDimension   = errors.New("embedding dimension must not be negative")
	ErrInvalidValue       = errors.New("invalid config value")
)

// Embedding backends.
const (
	BackendStub     = "stub"
	BackendLocal    = "local"
	BackendOpenAI   = "openai"
	BackendTogether = "together"
	BackendCompat   = "compat"
)

// Config is the runtime configuration shared by the CLI commands.
type Config struct {
	DBDSN string

	EmbedBackend    string
	EmbedDim        int
	LocalEmbedModel string
	OllamaHost      string
	OpenAIModel     string
	TogetherModel   string
	CompatBaseURL   string
	CompatModel     string
	EmbedBatch      int
	EmbedRPS        float64
	EmbedCacheSize  int

	WorkerBatch        int
	WorkerPoll         time.Duration
	WorkerMaxAttempts  int
	WorkerReclaimAfter time.Duration
	WorkerMaxClaims    int
	WorkerConcurrency  int

	ChunkTargetSize int
	ChunkMaxSize    int
	ChunkOverlap    int
	RulingMaxSize   int
	RulingOverlap   int
	Tokenizer       string

	EngineConcurrency int

	LogLevel string
}

// Load builds a Config from defaults, the optional TOML file at path and the
// environment. Environment variables take precedence over file values.
//
// TOML tables map onto environment names: `[worker] batch = 32` is read as
// WORKER_BATCH, a top-level `log_level` as LOG_LEVEL.
func Load(path string) (*Config, error) {
	file := map[string]string{}
	if path != "" {
		var err error
		file, err = readFile(path)
		if err != nil {
			return nil, err
		}
	}
	src := &source{file: file}

	cfg := &Config{
		DBDSN: src.str("DB_DSN", ""),

		EmbedBackend:    strings.ToLower(src.str("EMBED_BACKEND", BackendStub)),
		EmbedDim:        src.integer("EMBED_DIM", 0),
		LocalEmbedModel: src.str("LOCAL_EMBED_MODEL", "nomic-embed-text"),
		OllamaHost:      src.str("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIModel:     src.str("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		TogetherModel:   src.str("TOGETHER_EMBED_MODEL", "BAAI/bge-base-en-v1.5"),
		CompatBaseURL:   src.str("COMPAT_BASE_URL", "http://localhost:8000/v1"),
		CompatModel:     src.str("COMPAT_EMBED_MODEL", "bge-m3"),
		EmbedBatch:      src.integer("EMBED_BATCH", 16),
		EmbedRPS:        src.float("EMBED_RPS", 0),
		EmbedCacheSize:  src.integer("EMBED_CACHE_SIZE", 4096),

		WorkerBatch:        src.integer("WORKER_BATCH", 64),
		WorkerPoll:         src.duration("WORKER_POLL", 2*time.Second),
		WorkerMaxAttempts:  src.integer("WORKER_MAX_ATTEMPTS", 6),
		WorkerReclaimAfter: src.duration("WORKER_RECLAIM_AFTER", 10*time.Minute),
		WorkerMaxClaims:    src.integer("WORKER_MAX_CLAIMS", 5),
		WorkerConcurrency:  src.integer("WORKER_CONCURRENCY", 4),

		ChunkTargetSize: src.integer("CHUNKER_TARGET_SIZE", 900),
		ChunkMaxSize:    src.integer("CHUNKER_MAX_SIZE", 1400),
		ChunkOverlap:    src.integer("CHUNKER_OVERLAP", 200),
		RulingMaxSize:   src.integer("RULING_MAX_SIZE", 1200),
		RulingOverlap:   src.integer("RULING_OVERLAP", 200),
		Tokenizer:       src.str("CHUNKER_TOKENIZER", "cl100k_base"),

		EngineConcurrency: src.integer("ENGINE_CONCURRENCY", 8),

		LogLevel: src.str("LOG_LEVEL", "info"),
	}
	if err := errors.Join(src.errs...); err != nil {
		return nil, err
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = db.DSNFromEnv()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.EmbedBackend {
	case BackendStub, BackendLocal, BackendOpenAI, BackendTogether, BackendCompat:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.EmbedBackend)
	}
	if c.EmbedDim < 0 {
		return ErrInvalidDimension
	}
	if c.WorkerBatch <= 0 {
		return ErrInvalidWorkerBatch
	}
	if !validSizes(c.ChunkTargetSize, c.ChunkMaxSize, c.ChunkOverlap) ||
		!validSizes(c.RulingMaxSize, c.RulingMaxSize, c.RulingOverlap) {
		return ErrInvalidChunkSizes
	}
	return nil
}

func validSizes(target, maxSize, overlap int) bool {
	return target > 0 && target <= maxSize && overlap >= 0 && overlap < maxSize
}

// source reads settings from the environment, then the file. Values that do
// not parse are collected in errs.
type source struct {
	file map[string]string
	errs []error
}

func (s *source) invalid(key, value string, err error) {
	s.errs = append(s.errs, fmt.Errorf("%w: %s=%q: %w", ErrInvalidValue, key, value, err))
}

func (s *source) lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	v, ok := s.file[key]
	return v, ok && v != ""
}

func (s *source) str(key, fallback string) string {
	if v, ok := s.lookup(key); ok {
		return v
	}
	return fallback
}

func (s *source) integer(key string, fallback int) int {
	v, ok := s.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		s.invalid(key, v, err)
		return fallback
	}
	return n
}

func (s *source) float(key string, fallback float64) float64 {
	v, ok := s.lookup(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		s.invalid(key, v, err)
		return fallback
	}
	return f
}

// duration accepts Go durations ("2s", "500ms") and plain seconds ("2.0").
func (s *source) duration(key string, fallback time.Duration) time.Duration {
	v, ok := s.lookup(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err == nil {
		return d
	}
	if secs, fErr := strconv.ParseFloat(v, 64); fErr == nil {
		return time.Duration(secs * float64(time.Second))
	}
	s.invalid(key, v, err)
	return fallback
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var loaded map[string]any
	if err := toml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	out := make(map[string]string)
	flatten(loaded, "", out)
	return out, nil
}

// flatten turns {"worker": {"batch": 32}} into {"WORKER_BATCH": "32"}.
func flatten(m map[string]any, prefix string, out map[string]string) {
	for key, value := range m {
		full := strings.ToUpper(key)
		if prefix != "" {
			full = prefix + "_" + full
		}
		if nested, ok := value.(map[string]any); ok {
			flatten(nested, full, out)
			continue
		}
		out[full] = fmt.Sprint(value)
	}
}
