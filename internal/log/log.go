package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

var (
	mu       sync.RWMutex
	logger   *slog.Logger
	levelVar = new(slog.LevelVar)
	out      io.Writer = os.Stderr
	format           = FormatText
)

func init() {
	rebuild()
}

// rebuild swaps the package logger. Callers must hold mu or be in init.
func rebuild() {
	opts := &slog.HandlerOptions{Level: levelVar}

	var h slog.Handler
	if format == FormatJSON {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	logger = slog.New(contextHandler{Handler: h})
}

// SetLevel changes the minimum level that is written.
func SetLevel(l Level) {
	levelVar.Set(toSlog(l))
}

// ParseLevel maps a config/env string to a Level. Unknown values map to INFO.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// SetOutput configures where and how records are written.
func SetOutput(w io.Writer, f Format) {
	mu.Lock()
	defer mu.Unlock()
	if w != nil {
		out = w
	}
	format = f
	rebuild()
}

// Logger exposes the underlying slog logger, e.g. for slog.SetDefault.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(msg string, kv ...any) {
	logWithLevel(context.Background(), LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(context.Background(), LevelInfo, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(context.Background(), LevelWarn, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logWithLevel(context.Background(), LevelError, msg, extended...)
}

// InfoCtx and friends include attributes attached to ctx with Ctx.
func InfoCtx(ctx context.Context, msg string, kv ...any) {
	logWithLevel(ctx, LevelInfo, msg, kv...)
}

func WarnCtx(ctx context.Context, msg string, kv ...any) {
	logWithLevel(ctx, LevelWarn, msg, kv...)
}

func ErrorCtx(ctx context.Context, msg string, err error, kv ...any) {
	extended := append([]any{"err", err}, kv...)
	logWithLevel(ctx, LevelError, msg, extended...)
}

func logWithLevel(ctx context.Context, level Level, msg string, kv ...any) {
	l := Logger()
	l.Log(ctx, toSlog(level), msg, kv...)
}

func toSlog(l Level) slog.Level {
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
