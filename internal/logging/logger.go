package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/GuyNachshon/hirag/internal/config"
)

// Log channel names, carried in the "channel" attribute
const (
	ChannelAccess      = "access"
	ChannelError       = "error"
	ChannelPerformance = "performance"
	ChannelRAG         = "rag"
)

// New creates and configures the structured logger based on configuration.
// A non-nil level overrides cfg.Level, so a *slog.LevelVar can change it later.
// The returned closer releases the log file when output is a path.
func New(cfg config.LoggingConfig, level slog.Leveler) (*slog.Logger, io.Closer) {
	var output io.Writer
	var closer io.Closer = nopCloser{}

	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
			closer = file
		}
	}

	return NewWithWriter(cfg, output, level), closer
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(cfg config.LoggingConfig, w io.Writer, level slog.Leveler) *slog.Logger {
	configured := ParseLevel(cfg.Level)
	if level == nil {
		level = configured
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: configured == slog.LevelDebug,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// ParseLevel maps a config level name to a slog level, defaulting to info
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

// Performance records how long an operation took
func Performance(logger *slog.Logger, operation string, duration time.Duration, attrs ...slog.Attr) {
	args := []slog.Attr{
		slog.String("channel", ChannelPerformance),
		slog.String("operation", operation),
		slog.Float64("duration_seconds", round4(duration.Seconds())),
	}
	logger.LogAttrs(context.Background(), slog.LevelInfo, "performance_metric", append(args, attrs...)...)
}

// Error records a failed operation together with its context
func Error(logger *slog.Logger, operation string, err error, attrs ...slog.Attr) {
	args := []slog.Attr{
		slog.String("channel", ChannelError),
		slog.String("operation", operation),
		slog.String("error_type", fmt.Sprintf("%T", err)),
		slog.String("error", err.Error()),
	}
	logger.LogAttrs(context.Background(), slog.LevelError, "error_occurred", append(args, attrs...)...)
}

// RAG records a retrieval-augmented generation step
func RAG(logger *slog.Logger, operation string, attrs ...slog.Attr) {
	args := []slog.Attr{
		slog.String("channel", ChannelRAG),
		slog.String("operation", operation),
	}
	logger.LogAttrs(context.Background(), slog.LevelInfo, "rag_operation", append(args, attrs...)...)
}

// Access records an inbound API request
func Access(logger *slog.Logger, attrs ...slog.Attr) {
	args := []slog.Attr{slog.String("channel", ChannelAccess)}
	logger.LogAttrs(context.Background(), slog.LevelInfo, "api_access", append(args, attrs...)...)
}

// Preview shortens s to n runes followed by "..." for log output
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
