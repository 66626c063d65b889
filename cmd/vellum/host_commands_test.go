package main

import (
	"encoding/json"
	"testing"

	"vellum/internal/ipc"
)

func TestStartStatusStop(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"start"}, env.configPath)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	requireContains(t, out, "Host started")

	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "System Status")
	requireContains(t, out, "Dependencies")
	requireContains(t, out, "Session")
	requireContains(t, out, "connected")
	requireContains(t, out, "nvim 0.11.3")
	requireContains(t, out, "Messages")
	requireContains(t, out, "Requests")

	out, _, err = runCLI(t, []string{"stop"}, env.configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Host stopped")

	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status after stop: %v", err)
	}
	requireContains(t, out, "Not running")
	requireContains(t, out, "No active session")
}

func TestStatusJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	env.startSession(t)

	out, _, err := runCLI(t, []string{"status", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}

	var resp ipc.StatusResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode status JSON: %v\n%s", err, out)
	}
	if !resp.Running {
		t.Fatal("expected running host")
	}
	if resp.Session == nil {
		t.Fatal("expected session view")
	}
	if resp.Session.ChannelID != 9 {
		t.Fatalf("expected channel 9, got %d", resp.Session.ChannelID)
	}
	if len(resp.SystemChecks) == 0 {
		t.Fatal("expected system check lines")
	}
	if resp.DependencySummary.Total == 0 {
		t.Fatal("expected dependency summary totals")
	}
}

func TestStopWhenNotRunning(t *testing.T) {
	env := setupCLITestEnv(t)
	env.server.Close()

	out, _, err := runCLI(t, []string{"stop"}, env.configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Host is not running")
}
