package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestConsoleLogger(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	lvl := new(slog.LevelVar)
	lvl.Set(level)
	return slog.New(newPrettyHandler(buf, lvl, false))
}

func TestConsoleHandlerHeaderComposition(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestConsoleLogger(&buf, slog.LevelInfo)
	logger = NewComponentLogger(logger, "session")
	logger = logger.With(
		String(FieldChannel, "engine"),
		String(FieldSessionID, "1f3a9b7c-0000-4000-8000-000000000000"),
	)

	logger.Info("request queued", String(FieldMethod, "nvim_get_api_info"), Uint64(FieldMsgID, 3))

	out := buf.String()
	if !strings.Contains(out, "INFO [session]") {
		t.Fatalf("missing level/component header: %q", out)
	}
	if !strings.Contains(out, "Engine · Session 1f3a9b7c (nvim_get_api_info)") {
		t.Fatalf("unexpected subject: %q", out)
	}
	if !strings.Contains(out, "– request queued") {
		t.Fatalf("missing message: %q", out)
	}
	if !strings.Contains(out, "- Msg id: 3") {
		t.Fatalf("missing msgid info field: %q", out)
	}
	if strings.Contains(out, "session_id:") {
		t.Fatalf("session id should be folded into the subject: %q", out)
	}
}

func TestConsoleHandlerSuppressesRepeatedInfoFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestConsoleLogger(&buf, slog.LevelInfo)
	logger = logger.With(String(FieldComponent, "host"), String(FieldSessionID, "abcd1234"))

	logger.Info("engine state", String("state", "connected"))
	first := buf.String()
	buf.Reset()
	logger.Info("engine state", String("state", "connected"))
	second := buf.String()

	if !strings.Contains(first, "- State: connected") {
		t.Fatalf("first record should render the state field: %q", first)
	}
	if strings.Contains(second, "- State: connected") {
		t.Fatalf("repeated state value should be suppressed: %q", second)
	}

	buf.Reset()
	logger.Info("engine state", String("state", "closed"))
	third := buf.String()
	if !strings.Contains(third, "- State: closed") {
		t.Fatalf("changed state value should render again: %q", third)
	}
}

func TestConsoleHandlerDebugShowsAllAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestConsoleLogger(&buf, slog.LevelDebug)

	logger.Debug("write flushed", Int("bytes", 42), String(FieldRunID, "r1"))

	out := buf.String()
	if !strings.Contains(out, "DEBUG") {
		t.Fatalf("missing level label: %q", out)
	}
	if !strings.Contains(out, "bytes: 42") {
		t.Fatalf("debug output should list raw attrs: %q", out)
	}
	if !strings.Contains(out, "run_id: r1") {
		t.Fatalf("debug output should include run id: %q", out)
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestConsoleLogger(&buf, slog.LevelWarn)

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info record should be filtered at warn level: %q", buf.String())
	}
	logger.Warn("visible")
	if !strings.Contains(buf.String(), "WARN") {
		t.Fatalf("warn record missing: %q", buf.String())
	}
}

func TestFlattenAttrJoinsGroupPrefixes(t *testing.T) {
	var kvs []kv
	flattenAttr(&kvs, "", slog.Group("engine", slog.String("binary", "nvim"), slog.Int("pid", 7)))

	if len(kvs) != 2 {
		t.Fatalf("expected 2 flattened attrs, got %d", len(kvs))
	}
	if kvs[0].key != "engine.binary" || kvs[1].key != "engine.pid" {
		t.Fatalf("unexpected keys: %q, %q", kvs[0].key, kvs[1].key)
	}
}

func TestConsoleHandlerHandleDirect(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	handler := newPrettyHandler(&buf, lvl, false)

	record := slog.NewRecord(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), slog.LevelInfo, "ready", 0)
	if err := handler.Handle(context.Background(), record); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(buf.String(), "– ready") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}
