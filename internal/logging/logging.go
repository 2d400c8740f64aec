// Package logging configures the Dispatcher's structured logger.
//
// The root logger writes to both stderr and a rotating logs/baton.log
// (5 MB x 3 backups), mirroring original_source/backend/logging_config.py.
// Per-task handlers write to logs/<task_id>.log for the duration of that
// task's execution (attached at claim, detached at cleanup).
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logDirName  = "logs"
	logFileName = "baton.log"
	maxSizeMB   = 5
	maxBackups  = 3
)

// New configures the root logger for projectDir and returns it.
// Safe to call more than once; each call returns an independent logger
// writing to the same rotating file.
func New(projectDir string, level slog.Level) (*slog.Logger, error) {
	logDir := filepath.Join(projectDir, logDirName)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, logFileName),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   false,
	}

	out := io.MultiWriter(os.Stderr, rotator)
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), nil
}

// TaskHandler returns a logger writing exclusively to logs/<task_id>.log,
// plus a Close func releasing the underlying file. Call Close in the
// executor's cleanup step regardless of outcome (spec.md §4.F).
func TaskHandler(projectDir, taskID string, level slog.Level) (*slog.Logger, func() error, error) {
	logDir := filepath.Join(projectDir, logDirName)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, err
	}
	path := filepath.Join(logDir, taskID+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})
	return slog.New(handler), f.Close, nil
}
