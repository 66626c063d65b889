package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vellum/internal/logging"
)

func TestLogsLines(t *testing.T) {
	env := setupCLITestEnv(t)

	if err := os.WriteFile(env.logPath, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "--lines", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("logs --lines: %v", err)
	}
	requireContains(t, out, "second")
	requireContains(t, out, "third")
	if strings.Contains(out, "first") {
		t.Fatalf("expected only the last two lines, got:\n%s", out)
	}
}

func TestLogsFollow(t *testing.T) {
	env := setupCLITestEnv(t)

	if err := appendLine(env.logPath, "first"); err != nil {
		t.Fatalf("append first: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", env.configPath, "logs", "--follow"})
	cmd.SetContext(ctx)
	// Use syncBuffer to avoid data race between goroutine writing and main test reading
	stdout := &syncBuffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(&bytes.Buffer{})

	done := make(chan error, 1)
	go func() {
		done <- cmd.Execute()
	}()

	waitFor(t, 2*time.Second, func() bool { return stdout.Len() > 0 })
	if err := appendLine(env.logPath, "second"); err != nil {
		t.Fatalf("append second: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return strings.Contains(stdout.String(), "second") })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("logs --follow did not exit")
	}
}

func TestLogsWhenHostDown(t *testing.T) {
	env := setupCLITestEnv(t)
	env.server.Close()

	pointer := filepath.Join(env.cfg.Paths.LogDir, "vellum.log")
	if err := os.WriteFile(pointer, []byte("offline entry\n"), 0o644); err != nil {
		t.Fatalf("write log pointer: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs"}, env.configPath)
	if err != nil {
		t.Fatalf("logs offline: %v", err)
	}
	requireContains(t, out, "offline entry")
}

func TestLogsJSONEvents(t *testing.T) {
	env := setupCLITestEnv(t)
	env.hub.Publish(logging.LogEvent{Level: "INFO", Message: "engine handshake done", Component: "engine"})
	env.hub.Publish(logging.LogEvent{Level: "WARN", Message: "socket cleanup failed", Component: "ipc"})

	out, _, err := runCLI(t, []string{"logs", "--json", "--lines", "5"}, env.configPath)
	if err != nil {
		t.Fatalf("logs --json: %v", err)
	}
	requireContains(t, out, `"message":"engine handshake done"`)
	requireContains(t, out, `"component":"ipc"`)

	out, _, err = runCLI(t, []string{"logs", "--json", "--component", "engine"}, env.configPath)
	if err != nil {
		t.Fatalf("logs --json --component: %v", err)
	}
	requireContains(t, out, "engine handshake done")
	if strings.Contains(out, "socket cleanup failed") {
		t.Fatalf("component filter leaked:\n%s", out)
	}
}

func TestLogsJSONWhenHostDown(t *testing.T) {
	env := setupCLITestEnv(t)
	env.server.Close()

	archivePath := filepath.Join(env.cfg.Paths.LogDir, "vellum-20260825-000000.000.events")
	records := []string{
		`{"sequence":1,"level":"INFO","message":"first offline event"}`,
		`{"sequence":2,"level":"INFO","message":"second offline event","component":"engine"}`,
	}
	if err := os.WriteFile(archivePath, []byte(strings.Join(records, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "--json", "--lines", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("logs --json offline: %v", err)
	}
	requireContains(t, out, "second offline event")
	if strings.Contains(out, "first offline event") {
		t.Fatalf("expected only the newest event, got:\n%s", out)
	}
}
