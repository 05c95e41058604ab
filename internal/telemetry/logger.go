// Package telemetry provides observability for the llmhub service.
package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a structured JSON logger with default fields.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// ParseLevel maps a config string to a slog level. Unknown values fall
// back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// ChatLogger returns a logger with request-scoped fields.
func ChatLogger(logger *slog.Logger, chatID, clientID string) *slog.Logger {
	attrs := []any{slog.String("chat_id", chatID)}
	if clientID != "" {
		attrs = append(attrs, slog.String("client_id", clientID))
	}
	return logger.With(attrs...)
}
