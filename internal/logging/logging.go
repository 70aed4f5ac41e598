// Package logging builds the service logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the outputs and level of the logger.
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
	// File enables a rotated log file in addition to stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func DefaultConfig() Config {
	return Config{Level: "info", Format: "console", MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 14}
}

// New returns a logger writing to stderr, and to a rotated file when one is
// configured. The returned closer flushes the file; it is a no-op otherwise.
func New(cfg Config) (zerolog.Logger, io.Closer) {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter is New with the terminal output replaced by out.
func NewWithWriter(cfg Config, out io.Writer) (zerolog.Logger, io.Closer) {
	var closer io.Closer = nopCloser{}

	var term io.Writer = out
	if strings.EqualFold(cfg.Format, "console") {
		term = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	writers := []io.Writer{term}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err == nil {
			lj := &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   true,
			}
			writers = append(writers, lj)
			closer = lj
		}
	}

	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger(), closer
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
