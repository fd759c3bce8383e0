// Package logging builds the zerolog loggers shared by the binaries.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level  string
	Format string
}

// New returns a logger tagged with component. Format "json" writes one JSON
// object per line; anything else writes human-readable console output.
func New(cfg Config, component string) zerolog.Logger {
	return NewWithWriter(os.Stderr, cfg, component)
}

func NewWithWriter(w io.Writer, cfg Config, component string) zerolog.Logger {
	if !strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if component != "" {
		logger = logger.Str("component", component)
	}
	return logger.Logger()
}

// ParseLevel falls back to info for unknown or empty levels.
func ParseLevel(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}
