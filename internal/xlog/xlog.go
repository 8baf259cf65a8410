// Package xlog is the structured logger used throughout the ledger. It
// mirrors the key/value call convention go-equa's own log package uses
// (log.Info(msg, "key", val, ...)) over the standard library's slog, with
// file output rotated through lumberjack the same way a long-running node
// process rotates its log file.
package xlog

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

var root = slog.New(slog.NewTextHandler(os.Stderr, nil))

// Configure points the package logger at a rotating file, or back at
// stderr when path is empty.
func Configure(path string, maxSizeMB, maxBackups, maxAgeDays int) {
	var w io.Writer = os.Stderr
	if path != "" {
		w = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   true,
		}
	}
	root = slog.New(slog.NewTextHandler(w, nil))
}

func New(component string) *slog.Logger {
	return root.With("component", component)
}

func Info(msg string, args ...any)  { root.Info(msg, args...) }
func Warn(msg string, args ...any)  { root.Warn(msg, args...) }
func Error(msg string, args ...any) { root.Error(msg, args...) }
func Debug(msg string, args ...any) { root.Debug(msg, args...) }
