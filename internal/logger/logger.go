// Package logger builds the process-wide structured logger for the
// summary service.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogFormat defines how log records are rendered
type LogFormat string

// Log format constants
const (
	TEXT LogFormat = "text"
	JSON LogFormat = "json"
)

// ServiceName is attached to every record as the "service" attribute.
const ServiceName = "summaryservice"

// Config holds configuration options for the logger
type Config struct {
	Level       slog.Level
	Format      LogFormat
	Output      io.Writer
	AddSource   bool
	DefaultTags map[string]any
}

// DefaultConfig returns a default logger configuration. Output is stderr
// because stdout carries the MCP stdio transport.
func DefaultConfig() *Config {
	return &Config{
		Level:       slog.LevelInfo,
		Format:      TEXT,
		Output:      os.Stderr,
		DefaultTags: map[string]any{"service": ServiceName},
	}
}

// New creates a logger with the given configuration
func New(config *Config) *slog.Logger {
	if config == nil {
		config = DefaultConfig()
	}

	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     config.Level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	if len(config.DefaultTags) > 0 {
		attrs := make([]slog.Attr, 0, len(config.DefaultTags))
		for k, v := range config.DefaultTags {
			attrs = append(attrs, slog.Any(k, v))
		}
		handler = handler.WithAttrs(attrs)
	}

	return slog.New(handler)
}

// FromSettings builds a logger from the textual level and format found in
// configuration files.
func FromSettings(level, format string) *slog.Logger {
	config := DefaultConfig()
	config.Level = ParseLevel(level)
	config.Format = ParseFormat(format)
	return New(config)
}

// Setup builds a logger from level and format and installs it as the slog
// default.
func Setup(level, format string) *slog.Logger {
	l := FromSettings(level, format)
	slog.SetDefault(l)
	return l
}

// Component returns a sub-logger tagged with the component name.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", name)
}

// ParseLevel converts a string level to a slog.Level. Unknown values mean
// info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseFormat converts a string format to a LogFormat. Anything other than
// "json" means text.
func ParseFormat(format string) LogFormat {
	if strings.EqualFold(strings.TrimSpace(format), string(JSON)) {
		return JSON
	}
	return TEXT
}
