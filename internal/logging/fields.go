package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldChannel is the standardized structured logging key for traffic channels
	// (engine, control, host, journal).
	FieldChannel = "channel"
	// FieldSessionID is the standardized structured logging key for engine session ids.
	FieldSessionID = "session_id"
	// FieldMethod is the standardized structured logging key for RPC method names.
	FieldMethod = "method"
	// FieldMsgID is the standardized structured logging key for RPC correlation ids.
	FieldMsgID = "msgid"
	// FieldDirection is the standardized structured logging key for traffic direction
	// (inbound, outbound).
	FieldDirection = "direction"
	// FieldRunID is the standardized structured logging key for host run identifiers.
	FieldRunID = "run_id"
	// FieldEventType is the standardized structured logging key for event categories.
	FieldEventType = "event_type"
	// FieldErrorHint is the standardized structured logging key for operator next steps.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized structured logging key for the user-facing
	// consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

type contextKey string

const (
	sessionContextKey contextKey = "vellum.session"
	runContextKey     contextKey = "vellum.run"
)

// ContextWithSession stamps a session identifier on the context for log enrichment.
func ContextWithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionContextKey, sessionID)
}

// ContextWithRun stamps a host run identifier on the context for log enrichment.
func ContextWithRun(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runContextKey, runID)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if id, ok := ctx.Value(sessionContextKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldSessionID, id))
	}
	if id, ok := ctx.Value(runContextKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}

// WithSessionID returns a logger whose records all carry the session id.
func WithSessionID(logger *slog.Logger, sessionID string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if sessionID == "" {
		return logger
	}
	return logger.With(String(FieldSessionID, sessionID))
}
