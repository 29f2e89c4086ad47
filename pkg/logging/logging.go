package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// New builds the process logger. format is "text" (default, with source
// locations) or "json".
func New(level slog.Level, format ...string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, format...)
}

func NewWithWriter(w io.Writer, level slog.Level, format ...string) *slog.Logger {
	var handler slog.Handler
	f := "text"
	if len(format) > 0 && format[0] != "" {
		f = strings.ToLower(format[0])
	}
	switch f {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:     level,
			AddSource: true,
		})
	}
	return slog.New(handler)
}

// ParseLevel maps a config string to a level, falling back to info.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return LevelInfo
	}
	return level
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: LevelError + 1}))
}
