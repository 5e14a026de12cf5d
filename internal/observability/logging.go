// Package observability wires structured logging, Prometheus metrics, and
// OpenTelemetry tracing for the process.
package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string
	// Format is "json" for production or "text" for development.
	Format string
	// Output defaults to stderr.
	Output io.Writer
	// AddSource includes file and line in records.
	AddSource bool
}

// defaultRedactions covers the secret shapes that commonly leak into logs.
var defaultRedactions = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9-]{20,}`),
	regexp.MustCompile(`xox[bpoas]-[A-Za-z0-9-]+`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{16,}`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),
}

// NewLogger builds the process slog.Logger. Attr values matching a secret
// pattern are redacted before they reach the handler.
func NewLogger(cfg LogConfig) *slog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: redactAttr,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redactAttr(_ []string, attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString {
		return attr
	}
	value := attr.Value.String()
	for _, pattern := range defaultRedactions {
		if pattern.MatchString(value) {
			value = pattern.ReplaceAllString(value, "[REDACTED]")
		}
	}
	return slog.Attr{Key: attr.Key, Value: slog.StringValue(value)}
}
