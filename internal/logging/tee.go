package logging

import (
	"context"
	"errors"
	"log/slog"
)

// TeeLogger returns a logger forwarding each record to base's handler and to
// extra. A nil extra leaves base untouched.
func TeeLogger(base *slog.Logger, extra slog.Handler) *slog.Logger {
	if base == nil {
		base = NewNop()
	}
	if extra == nil {
		return base
	}
	return slog.New(teeHandler{primary: base.Handler(), secondary: extra})
}

// teeHandler duplicates records to two handlers. Level gating stays per side
// so a debug stream handler and an info console handler can share one logger.
type teeHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return t.primary.Enabled(ctx, level) || t.secondary.Enabled(ctx, level)
}

func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var primaryErr, secondaryErr error
	if t.primary.Enabled(ctx, record.Level) {
		primaryErr = t.primary.Handle(ctx, record.Clone())
	}
	if t.secondary.Enabled(ctx, record.Level) {
		secondaryErr = t.secondary.Handle(ctx, record)
	}
	return errors.Join(primaryErr, secondaryErr)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{primary: t.primary.WithAttrs(attrs), secondary: t.secondary.WithAttrs(attrs)}
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{primary: t.primary.WithGroup(name), secondary: t.secondary.WithGroup(name)}
}
