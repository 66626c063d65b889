package main

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"vellum/internal/hostctl"
	"vellum/internal/ipc"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Vellum", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Vellum:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Vellum", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestStatusKindFromSeverity(t *testing.T) {
	cases := map[string]statusKind{
		"ok":      statusOK,
		"OK":      statusOK,
		"warn":    statusWarn,
		"warning": statusWarn,
		"error":   statusError,
		"info":    statusInfo,
		"":        statusInfo,
	}
	for severity, want := range cases {
		if got := statusKindFromSeverity(severity); got != want {
			t.Fatalf("statusKindFromSeverity(%q) = %v, want %v", severity, got, want)
		}
	}
}

func TestDependencyLines(t *testing.T) {
	deps := []ipc.DependencyStatus{
		{Name: "Engine", Available: false, Severity: "error"},
		{Name: "Engine socket", Available: true, Command: "nvim"},
		{Name: "Terminal", Available: false, Optional: true, Detail: "not configured", Severity: "warn"},
	}
	summary := hostctl.BuildDependencySummary(deps)
	lines := dependencyLines(deps, summary, false)
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "[ERROR]") || !strings.Contains(lines[0], "Summary") {
		t.Fatalf("expected summary line first, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "[ERROR] not available") {
		t.Fatalf("expected error detail in second line, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "[OK] Ready (nvim)") {
		t.Fatalf("expected ready detail in third line, got %q", lines[2])
	}
	if !strings.Contains(lines[3], "[WARN] not configured") {
		t.Fatalf("expected warn detail in fourth line, got %q", lines[3])
	}
	if !strings.Contains(lines[4], "Missing:") || !strings.Contains(lines[4], "Engine, Terminal") {
		t.Fatalf("expected missing summary, got %q", lines[4])
	}
}

func TestSessionLines(t *testing.T) {
	session := &ipc.SessionView{
		Transport:     "spawn",
		Target:        "nvim --embed",
		State:         "connected",
		StartedAt:     time.Now(),
		EnginePID:     4242,
		ChannelID:     7,
		EngineVersion: "0.11.3",
		UIAttached:    true,
		UIWidth:       120,
		UIHeight:      40,
	}
	lines := sessionLines(session, false)
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "nvim --embed via spawn") {
		t.Fatalf("expected target line, got:\n%s", joined)
	}
	if !strings.Contains(joined, "[OK] connected") {
		t.Fatalf("expected connected state, got:\n%s", joined)
	}
	if !strings.Contains(joined, "0.11.3 (pid 4242)") {
		t.Fatalf("expected engine line, got:\n%s", joined)
	}
	if !strings.Contains(joined, "[OK] Attached 120x40") {
		t.Fatalf("expected attached ui line, got:\n%s", joined)
	}
}

func TestLastEndDetail(t *testing.T) {
	code := int64(1)
	end := &ipc.EndView{
		Reason:   "engine closed connection",
		ExitCode: &code,
		At:       time.Date(2026, 3, 14, 9, 30, 0, 0, time.Local),
	}
	got := lastEndDetail(end)
	if !strings.Contains(got, "engine closed connection (exit 1)") {
		t.Fatalf("unexpected detail %q", got)
	}
	if !strings.Contains(got, "2026-03-14 09:30:00") {
		t.Fatalf("expected timestamp in %q", got)
	}
}

func TestBuildMessageStatRows(t *testing.T) {
	rows := buildMessageStatRows(ipc.StatsView{Requests: 3, Responses: 2, Notifications: 5, Drops: 1})
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	if rows[0][0] != "Requests" || rows[0][1] != "3" {
		t.Fatalf("unexpected first row %v", rows[0])
	}
	if rows[3][0] != "Drops" || rows[3][1] != "1" {
		t.Fatalf("unexpected drops row %v", rows[3])
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
