package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

// BatchIDKey carries the correlation id of one update batch through every
// adapter call so log lines from the same batch can be grouped.
const BatchIDKey contextKey = "batchID"

var (
	currentLevel = new(slog.LevelVar)
	globalLogger *slog.Logger
)

func init() {
	currentLevel.Set(slog.LevelInfo)
	Setup("", "")
}

// Setup reconfigures the global logger. format is "json" or "text";
// empty values keep the current setting.
func Setup(levelStr, format string) {
	if levelStr != "" {
		SetLevel(levelStr)
	}

	opts := &slog.HandlerOptions{Level: currentLevel}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
}

// SetLevel dynamically adjusts the global logging level
func SetLevel(levelStr string) {
	switch strings.ToLower(levelStr) {
	case "debug":
		currentLevel.Set(slog.LevelDebug)
	case "info":
		currentLevel.Set(slog.LevelInfo)
	case "warn":
		currentLevel.Set(slog.LevelWarn)
	case "error":
		currentLevel.Set(slog.LevelError)
	default:
		currentLevel.Set(slog.LevelInfo)
	}
}

// Attr helpers so call sites don't import slog directly.

func String(key, value string) slog.Attr { return slog.String(key, value) }
func Int(key string, value int) slog.Attr {
	return slog.Int(key, value)
}
func Any(key string, value any) slog.Attr { return slog.Any(key, value) }
func Err(err error) slog.Attr             { return slog.Any("error", err) }

// SubsystemLogger is a component-tagged logger.
type SubsystemLogger struct {
	sl *slog.Logger
}

// WithSubsystem returns a bound logger with a component tag
func WithSubsystem(name string) *SubsystemLogger {
	return &SubsystemLogger{sl: globalLogger.With(slog.String("component", name))}
}

func attrsToAny(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}

func (s *SubsystemLogger) Debug(msg string, attrs ...slog.Attr) {
	s.sl.Debug(msg, attrsToAny(attrs)...)
}
func (s *SubsystemLogger) Info(msg string, attrs ...slog.Attr) {
	s.sl.Info(msg, attrsToAny(attrs)...)
}
func (s *SubsystemLogger) Warn(msg string, attrs ...slog.Attr) {
	s.sl.Warn(msg, attrsToAny(attrs)...)
}
func (s *SubsystemLogger) Error(msg string, attrs ...slog.Attr) {
	s.sl.Error(msg, attrsToAny(attrs)...)
}

func (s *SubsystemLogger) DebugContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	s.sl.DebugContext(ctx, msg, append(attrsToAny(attrs), extractAttrs(ctx)...)...)
}
func (s *SubsystemLogger) InfoContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	s.sl.InfoContext(ctx, msg, append(attrsToAny(attrs), extractAttrs(ctx)...)...)
}
func (s *SubsystemLogger) WarnContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	s.sl.WarnContext(ctx, msg, append(attrsToAny(attrs), extractAttrs(ctx)...)...)
}
func (s *SubsystemLogger) ErrorContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	s.sl.ErrorContext(ctx, msg, append(attrsToAny(attrs), extractAttrs(ctx)...)...)
}

// Printf-style helpers for terse call sites.

func (s *SubsystemLogger) Debugf(format string, args ...any) {
	s.sl.Debug(fmt.Sprintf(format, args...))
}
func (s *SubsystemLogger) Infof(format string, args ...any) {
	s.sl.Info(fmt.Sprintf(format, args...))
}
func (s *SubsystemLogger) Warnf(format string, args ...any) {
	s.sl.Warn(fmt.Sprintf(format, args...))
}
func (s *SubsystemLogger) Errorf(format string, args ...any) {
	s.sl.Error(fmt.Sprintf(format, args...))
}

// WithBatchID injects a batch correlation ID into a context
func WithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, BatchIDKey, id)
}

// extractAttrs pulls tracing IDs from the context
func extractAttrs(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	if id, ok := ctx.Value(BatchIDKey).(string); ok {
		return []any{slog.String("batch_id", id)}
	}
	return nil
}

// Package-level helpers bound to the global logger.

func Debug(msg string, attrs ...slog.Attr) { globalLogger.Debug(msg, attrsToAny(attrs)...) }
func Info(msg string, attrs ...slog.Attr)  { globalLogger.Info(msg, attrsToAny(attrs)...) }
func Warn(msg string, attrs ...slog.Attr)  { globalLogger.Warn(msg, attrsToAny(attrs)...) }
func Error(msg string, attrs ...slog.Attr) { globalLogger.Error(msg, attrsToAny(attrs)...) }

func Debugf(format string, args ...interface{}) {
	globalLogger.Debug(fmt.Sprintf(format, args...))
}

func Infof(format string, args ...interface{}) {
	globalLogger.Info(fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...interface{}) {
	globalLogger.Warn(fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...interface{}) {
	globalLogger.Error(fmt.Sprintf(format, args...))
}
