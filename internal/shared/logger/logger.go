// Package logger wraps log/slog with the small set of helpers the processor
// components need: component scoping and error-attr logging.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Logger wraps slog.Logger while staying thin.
type Logger struct {
	*slog.Logger
	config Config
}

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// OutputFormat represents the log output format
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config holds configuration for the logger
type Config struct {
	Level     LogLevel     `mapstructure:"level" yaml:"level" json:"level"`
	Format    OutputFormat `mapstructure:"format" yaml:"format" json:"format"`
	Component string       `mapstructure:"component" yaml:"component" json:"component"`
	Version   string       `mapstructure:"version" yaml:"version" json:"version"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		Level:     LevelInfo,
		Format:    FormatText,
		Component: "infra-processor",
		Version:   "unknown",
	}
}

// New creates a new logger with the provided configuration, writing to stderr.
func New(config Config) *Logger {
	return NewWithWriter(config, os.Stderr)
}

// NewWithWriter creates a new logger writing to w.
func NewWithWriter(config Config, w io.Writer) *Logger {
	level := parseLogLevel(config.Level)

	var handler slog.Handler
	if config.Format == FormatJSON {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		})
	}

	slogger := slog.New(handler).With(
		slog.String("component", config.Component),
	)

	return &Logger{
		Logger: slogger,
		config: config,
	}
}

// NewNop creates a logger that discards everything; used by tests.
func NewNop() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		config: DefaultConfig(),
	}
}

// With returns a new logger with additional attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
	}
}

// WithComponent returns a logger scoped to a sub-component
func (l *Logger) WithComponent(name string) *Logger {
	cfg := l.config
	cfg.Component = name
	return &Logger{
		Logger: l.Logger.With(slog.String("component", name)),
		config: cfg,
	}
}

// ErrorCtx logs an error with the error attached as an attribute
func (l *Logger) ErrorCtx(ctx context.Context, msg string, err error, args ...any) {
	attrs := []any{slog.String("error", err.Error())}
	attrs = append(attrs, args...)
	l.ErrorContext(ctx, msg, attrs...)
}

func parseLogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
