// Package obslog wires the kernel's structured logging: a slog.Logger
// backed by a rotating file, in the same shape as cmd/sand/main.go's
// initSlog (JSON handler + slog.SetDefault), but with lumberjack doing the
// rotation the teacher's single os.OpenFile never did.
package obslog

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the kernel's log sink.
type Options struct {
	// Path is the log file path. Empty disables rotation and logs to
	// os.Stderr only.
	Path       string
	Level      string // debug|info|warn|error
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init builds and installs the default slog.Logger, returning it for
// callers that want to thread it explicitly instead of relying on the
// package-level default.
func Init(opts Options) *slog.Logger {
	level := parseLevel(opts.Level)

	var handler slog.Handler
	if opts.Path == "" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		rotator := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 14),
			Compress:   true,
		}
		handler = slog.NewJSONHandler(io.MultiWriter(os.Stderr, rotator), &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
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

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
