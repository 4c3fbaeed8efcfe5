// Package shmlog provides the module's structured logging, wrapping
// log/slog the way orhaniscoding-goconnect's core/internal/logger
// does: a package-level logger configured once from the environment,
// with a JSON or text handler. The teacher's allocator/runtime
// packages do no logging of their own, so this idiom is pulled from
// elsewhere in the retrieval pack.
package shmlog

import (
	"log/slog"
	"os"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

func get() *slog.Logger {
	once.Do(func() {
		level := parseLevel(os.Getenv("SHM_LOG_LEVEL"))
		opts := &slog.HandlerOptions{Level: level}

		var handler slog.Handler
		if os.Getenv("SHM_LOG_FORMAT") == "json" {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		} else {
			handler = slog.NewTextHandler(os.Stderr, opts)
		}
		logger = slog.New(handler)
	})
	return logger
}

func parseLevel(s string) slog.Level {
	switch s {
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

// Debug logs backend/allocator lifecycle detail (create, destroy,
// attach) at debug level.
func Debug(msg string, args ...any) { get().Debug(msg, args...) }

// Warn logs recoverable anomalies, such as an invalid environment
// override.
func Warn(msg string, args ...any) { get().Warn(msg, args...) }
