package logger

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultMaxSizeMB  = 20
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 14
)

// FileOptions controls log file rotation. Zero values take the defaults.
type FileOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// FileWriter returns a size-rotated writer for path. The caller closes it.
func FileWriter(path string, opts FileOptions) io.WriteCloser {
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = DefaultMaxSizeMB
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = DefaultMaxBackups
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = DefaultMaxAgeDays
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
}

// File creates a JSON Logger writing to a rotated file at path. The
// returned closer flushes and closes the file.
func File(path string, level slog.Level, opts FileOptions) (Logger, io.Closer) {
	w := FileWriter(path, opts)
	return JSON(w, level), w
}

// Tee creates a Logger that sends every record to each of the handlers.
func Tee(handlers ...slog.Handler) Logger {
	return New(teeHandler(handlers))
}
