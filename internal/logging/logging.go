package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/skypro1111/trbscope/internal/config"
)

// New creates the structured logger described by cfg. The returned closer
// releases the log file when output is rotated to disk.
func New(cfg config.LoggingConfig) (*slog.Logger, io.Closer) {
	output, closer := openOutput(cfg)
	return slog.New(NewHandler(output, cfg)), closer
}

// NewHandler creates a text or JSON handler writing to w at the configured level
func NewHandler(w io.Writer, cfg config.LoggingConfig) slog.Handler {
	level := ParseLevel(cfg.Level)

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Create handler based on format
	switch cfg.Format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// ParseLevel maps a configured level name to its slog level, falling back to info
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops every record
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer) {
	switch {
	case cfg.Output == "stderr":
		return os.Stderr, nopCloser{}
	case !cfg.IsFile():
		return os.Stdout, nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	return rotator, rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
