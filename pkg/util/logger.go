package util

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a configured zerolog.Logger with the specified log level.
// Logs go to stderr; stdout carries command output.
func NewLogger(level zerolog.Level) zerolog.Logger {
	return NewLoggerTo(os.Stderr, level)
}

// NewLoggerTo is NewLogger writing to w.
func NewLoggerTo(w io.Writer, level zerolog.Level) zerolog.Logger {
	stage := os.Getenv("STAGE")

	var logger zerolog.Logger
	if strings.EqualFold(stage, "local") {
		// Pretty printing for development
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
			With().
			Str("app", "roeum-"+stage).
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(w).
			With().
			Timestamp().
			Str("app", "roeum-"+stage).
			Logger()
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	return logger.Level(level)
}

// ParseLevel maps a level name to a zerolog level, falling back when the name
// is empty or unknown.
func ParseLevel(name string, fallback zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return fallback
	}
}

// LevelFromEnv reads a level name from the environment variable key.
func LevelFromEnv(key string, fallback zerolog.Level) zerolog.Level {
	return ParseLevel(os.Getenv(key), fallback)
}
