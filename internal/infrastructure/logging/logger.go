package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hearthward/myq-sync/internal/infrastructure/config"
)

// Logger is the service-wide structured logger. It embeds slog.Logger
// and stamps every record with the service name and version.
//
// Thread Safety: All methods are safe for concurrent use from
// multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of config.yaml: level
// filtering, JSON or text format, and stdout or stderr output.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "myqsync"),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// parseLevel maps a config level string onto slog, defaulting to info
// for anything unrecognised.
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

// With returns a logger carrying additional default attributes, for
// tagging a component's records:
//
//	cloudLog := logger.With("component", "myq")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default returns the JSON stdout logger used during startup, before
// the config file has been read.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
