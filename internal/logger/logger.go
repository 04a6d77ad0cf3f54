// Package logger provides the process-wide structured logger. Besides the
// usual leveled free functions, it hands out loggers scoped to a subsystem
// or to a single cache resource, so scan and recovery events carry the
// identifiers needed to follow one resource across both pipelines.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// level backs every handler this package creates; SetLevel adjusts it at
// runtime without replacing handlers.
var level slog.LevelVar

// root is always non-nil: logging before Init goes to stderr at info level.
var root = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))

// Init configures verbosity from a config string and directs output to
// stderr.
func Init(levelStr string) {
	InitWriter(levelStr, os.Stderr)
}

// InitWriter is Init with an explicit destination.
func InitWriter(levelStr string, w io.Writer) {
	level.Set(ParseLevel(levelStr))
	root = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level}))
}

// ParseLevel maps a config string (debug, info, warn/warning, error) to a
// slog.Level. Unrecognized values mean info.
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

// SetLevel changes verbosity at runtime. The handler is kept; only the
// threshold moves.
func SetLevel(levelStr string) {
	level.Set(ParseLevel(levelStr))
}

// For returns a logger scoped to one subsystem ("scan", "recovery",
// "cachefile", ...). Call at log time rather than caching the result, so a
// later Init is picked up.
func For(subsystem string) *slog.Logger {
	return root.With("subsystem", subsystem)
}

// ForResource returns a logger carrying the resource identifiers attached
// to every resource-level scan or recovery event.
func ForResource(id string, kind string) *slog.Logger {
	return root.With(slog.Group("resource", "id", id, "kind", kind))
}

func Debug(msg string, args ...any) { root.Debug(msg, args...) }

func Info(msg string, args ...any) { root.Info(msg, args...) }

func Warn(msg string, args ...any) { root.Warn(msg, args...) }

func Error(msg string, args ...any) { root.Error(msg, args...) }
