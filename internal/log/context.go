package log

import (
	"context"
	"log/slog"
)

type contextKey string

const attrKey contextKey = "attrKey"

// contextHandler adds to each record any attributes stored in the context
// with Ctx.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, record slog.Record) error {
	if attrs, ok := ctx.Value(attrKey).([]slog.Attr); ok {
		record.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, record)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{Handler: h.Handler.WithGroup(name)}
}

// Ctx returns a context carrying kv as extra attributes for the *Ctx log
// functions.
func Ctx(ctx context.Context, kv ...any) context.Context {
	attrs, _ := ctx.Value(attrKey).([]slog.Attr)
	next := make([]slog.Attr, 0, len(attrs)+len(kv)/2)
	next = append(next, attrs...)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		next = append(next, slog.Any(key, kv[i+1]))
	}
	return context.WithValue(ctx, attrKey, next)
}
