// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package logger provides the structured logger used throughout the
// coordinator, the independent cluster tool, and their supporting
// packages.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
)

// Logger is the logging surface every component depends on instead of
// reaching for fmt.Println or the bare log package.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type slogLogger struct {
	handler slog.Handler
}

// Option configures a Logger built by NewLogger.
type Option func(*options)

type options struct {
	debug  bool
	quiet  bool
	format string
	writer io.Writer
}

// WithDebug enables debug-level output.
func WithDebug() Option { return func(o *options) { o.debug = true } }

// WithQuiet suppresses the default stderr mirror when a writer is set.
func WithQuiet() Option { return func(o *options) { o.quiet = true } }

// WithFormat selects "text" or "json" output. Default is "text".
func WithFormat(format string) Option { return func(o *options) { o.format = format } }

// WithWriter directs output to w. Output is also mirrored to os.Stderr
// unless WithQuiet is given as well.
func WithWriter(w io.Writer) Option { return func(o *options) { o.writer = w } }

// NewLogger builds a Logger from the given options.
func NewLogger(opts ...Option) Logger {
	o := &options{format: "text"}
	for _, apply := range opts {
		apply(o)
	}

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	if o.writer != nil {
		w = o.writer
		if o.quiet {
			// quiet means: only the configured writer, no stderr mirror.
		} else {
			w = io.MultiWriter(o.writer, os.Stderr)
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: level, AddSource: true}
	var h slog.Handler
	if o.format == "json" {
		h = slog.NewJSONHandler(w, handlerOpts)
	} else {
		h = slog.NewTextHandler(w, handlerOpts)
	}
	return &slogLogger{handler: h}
}

func (l *slogLogger) log(level slog.Level, msg string, keyvals ...any) {
	if !l.handler.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(nowOrZero(), level, msg, pcs[0])
	r.Add(keyvals...)
	_ = l.handler.Handle(context.Background(), r)
}

func (l *slogLogger) Debug(msg string, keyvals ...any) { l.log(slog.LevelDebug, msg, keyvals...) }
func (l *slogLogger) Info(msg string, keyvals ...any)  { l.log(slog.LevelInfo, msg, keyvals...) }
func (l *slogLogger) Warn(msg string, keyvals ...any)  { l.log(slog.LevelWarn, msg, keyvals...) }
func (l *slogLogger) Error(msg string, keyvals ...any) { l.log(slog.LevelError, msg, keyvals...) }

func (l *slogLogger) Debugf(format string, args ...any) { l.log(slog.LevelDebug, sprintf(format, args...)) }
func (l *slogLogger) Infof(format string, args ...any)  { l.log(slog.LevelInfo, sprintf(format, args...)) }
func (l *slogLogger) Warnf(format string, args ...any)  { l.log(slog.LevelWarn, sprintf(format, args...)) }
func (l *slogLogger) Errorf(format string, args ...any) { l.log(slog.LevelError, sprintf(format, args...)) }
