// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package logger

import "context"

type ctxKey struct{}

// WithLogger attaches a Logger to ctx.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the Logger attached to ctx, or a default stderr
// logger if none was attached.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return defaultLogger
}

var defaultLogger = NewLogger()

func Debug(ctx context.Context, msg string, keyvals ...any) { FromContext(ctx).Debug(msg, keyvals...) }
func Info(ctx context.Context, msg string, keyvals ...any)  { FromContext(ctx).Info(msg, keyvals...) }
func Warn(ctx context.Context, msg string, keyvals ...any)  { FromContext(ctx).Warn(msg, keyvals...) }
func Error(ctx context.Context, msg string, keyvals ...any) { FromContext(ctx).Error(msg, keyvals...) }

func Debugf(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Debugf(format, args...)
}
func Infof(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Infof(format, args...)
}
func Warnf(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Warnf(format, args...)
}
func Errorf(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Errorf(format, args...)
}
