// Package obslog builds the daemon's own operational slog.Logger. Grounded on the teacher's
// internal/logger: the same Config.Writers path-defaulting convention and
// the same lumberjack-backed rotation, renamed and adapted to build a
// slog.Logger instead of a pair of io.WriteClosers handed to exec.Cmd.
package obslog

import (
	"io"
	"log/slog"
	"os"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for the daemon's own log file, identical to
// common logger defaults.
const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Config selects where and how the daemon logs about itself (not about the
// apps it supervises).
type Config struct {
	// FilePath, when set, tees daemon logs to a lumberjack-rotated file in
	// addition to stderr. Empty means stderr only.
	FilePath string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// JSON selects the daemon-mode handler (slog.JSONHandler); false uses
	// the colorized interactive text handler for CLI-attached use
	//.
	JSON  bool
	Level slog.Level
}

// New builds the daemon's root *slog.Logger per cfg.
func New(cfg Config) *slog.Logger {
	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		fileW := &lj.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    valOr(cfg.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(cfg.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(cfg.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   cfg.Compress,
		}
		w = io.MultiWriter(os.Stderr, fileW)
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = NewColorTextHandler(w, opts, true)
	}
	return slog.New(handler)
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
