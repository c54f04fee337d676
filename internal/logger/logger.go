package logger

import (
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
)

// New builds the process logger. format is "json" or "text".
func New(level, format string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

func ParseLevel(level string) slog.Level {
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

// Discard is for tests and callers that do not care about output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Recover logs a panic with its stack. Use as `defer logger.Recover(log, "where")`.
func Recover(log *slog.Logger, where string) {
	if r := recover(); r != nil {
		log.Error("panic recovered", "where", where, "panic", r, "stack", string(debug.Stack()))
	}
}

// SafeGo runs fn in a goroutine that cannot take the process down.
func SafeGo(log *slog.Logger, where string, fn func()) {
	go func() {
		defer Recover(log, where)
		fn()
	}()
}
