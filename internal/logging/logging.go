package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New returns the default info-level structured logger.
func New() *slog.Logger {
	return NewWithLevel("info")
}

// NewWithLevel returns a structured logger with secret redaction at the given
// level ("debug", "info", "warn", "error"). Unknown levels fall back to info.
func NewWithLevel(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if isSecretKey(a.Key) {
				a.Value = slog.StringValue("[redacted]")
			}
			return a
		},
	})
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

func isSecretKey(k string) bool {
	k = strings.ToLower(k)
	return strings.Contains(k, "token") || strings.Contains(k, "secret") ||
		strings.Contains(k, "pass") || strings.Contains(k, "api_key") || strings.Contains(k, "apikey")
}
