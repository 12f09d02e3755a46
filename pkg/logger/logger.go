package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns JSON logger writing to stderr (stdout belongs to the ipc transport)
// with level taken from LOG_LEVEL (default info).
func New() *slog.Logger {
	return NewWithWriter(os.Stderr, os.Getenv("LOG_LEVEL"))
}

// NewWithWriter returns JSON logger for w; unknown level falls back to info.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(h).With("app", "devstash")
}

// ParseLevel converts "debug", "info", "warn", "error" into slog.Level.
func ParseLevel(v string) slog.Level {
	level := slog.LevelInfo
	if v != "" {
		var parsed slog.Level
		if err := parsed.UnmarshalText([]byte(v)); err == nil {
			level = parsed
		}
	}
	return level
}
