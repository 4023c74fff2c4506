// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for the validation
// harness.
//
// Runs are watched through a terminal and post-mortemed through files,
// so a Logger writes human-readable text to a stream (stderr by
// default) and, when a log directory is configured, JSON lines to a
// per-service dated file.
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "android_validation_results/logs",
//	    Service: "validator",
//	})
//	defer logger.Close()
//	logger.Info("applying test patch", "instance_id", id)
//
// Loggers never redact; callers must keep API keys out of attributes.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level is a log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Logger. The zero value logs Info and above to
// stderr as text.
type Config struct {
	// Level is the minimum severity written. Default: LevelInfo.
	Level Level

	// LogDir, when set, additionally writes JSON lines to
	// "{Service}_{YYYY-MM-DD}.log" under this directory. A leading ~
	// expands to the home directory; the directory is created when
	// missing. File setup failures degrade to stream-only logging.
	LogDir string

	// Service is stamped on every entry as the "service" attribute
	// and names the log file. Default: "mobilebench".
	Service string

	// JSON switches the stream output from text to JSON lines. File
	// output is always JSON.
	JSON bool

	// Quiet drops the stream output entirely; only the file (when
	// LogDir is set) receives entries.
	Quiet bool

	// Writer overrides the stream destination. Default: os.Stderr.
	// Tests point this at a buffer to assert on output.
	Writer io.Writer
}

// =============================================================================
// Logger
// =============================================================================

// Logger writes structured entries to a stream and an optional file.
//
// # Thread Safety
//
// Safe for concurrent use; slog handlers serialize their own writes.
type Logger struct {
	slog   *slog.Logger
	config Config
	file   *os.File
}

// New creates a Logger for the given configuration.
//
// Close releases the log file, so callers that set LogDir should defer
// it.
func New(config Config) *Logger {
	if config.Service == "" {
		config.Service = "mobilebench"
	}
	if config.Writer == nil {
		config.Writer = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: config.Level.slogLevel()}

	var handlers []slog.Handler
	if !config.Quiet {
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(config.Writer, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(config.Writer, opts))
		}
	}

	logger := &Logger{config: config}
	if file := openLogFile(config); file != nil {
		logger.file = file
		handlers = append(handlers, slog.NewJSONHandler(file, opts))
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		// Quiet with no usable file still needs a sink.
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = teeHandler(handlers)
	}
	handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})

	logger.slog = slog.New(handler)
	return logger
}

// Default returns a stderr-only Info logger for service "mobilebench".
func Default() *Logger {
	return New(Config{})
}

func openLogFile(config Config) *os.File {
	if config.LogDir == "" {
		return nil
	}
	dir := expandPath(config.LogDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil
	}
	name := fmt.Sprintf("%s_%s.log", config.Service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil
	}
	return file
}

// Debug logs at Debug level with alternating key-value attributes.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at Info level.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at Warn level.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at Error level.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child Logger carrying additional attributes. The file
// handle is shared; only the root logger should be closed.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:   l.slog.With(args...),
		config: l.config,
		file:   l.file,
	}
}

// Close syncs and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(syncErr, closeErr)
}

// =============================================================================
// Fan-out Handler
// =============================================================================

// teeHandler duplicates records to every wrapped handler, which lets
// the stream stay text while the file stays JSON.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, record.Level) {
			errs = append(errs, h.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(teeHandler, len(t))
	for i, h := range t {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	next := make(teeHandler, len(t))
	for i, h := range t {
		next[i] = h.WithGroup(name)
	}
	return next
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
