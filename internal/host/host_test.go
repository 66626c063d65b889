package host

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vellum/internal/config"
	"vellum/internal/journal"
	"vellum/internal/logging"
	"vellum/internal/testsupport"
)

const stubEngineEnv = "VELLUM_HOST_STUB_ENGINE"

// TestMain doubles as a stub engine: when re-executed with the marker in the
// environment the binary speaks the wire protocol on stdio instead of
// running tests.
func TestMain(m *testing.M) {
	if os.Getenv(stubEngineEnv) == "1" {
		testsupport.ServeStubEngine(os.Stdin, os.Stdout, func() { os.Exit(0) })
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func spawnConfig(t *testing.T) *config.Config {
	t.Helper()
	self, err := os.Executable()
	if err != nil {
		t.Fatalf("resolve test binary: %v", err)
	}
	return testsupport.NewConfig(t,
		testsupport.WithEngineBinary(self),
		testsupport.WithEngineEnv(stubEngineEnv+"=1"))
}

func socketConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	socket := filepath.Join(cfg.Paths.RuntimeDir, "engine.sock")
	testsupport.ListenStubEngine(t, socket)
	cfg.Engine.Socket = socket
	return cfg
}

func newHost(t *testing.T, cfg *config.Config) *Host {
	t.Helper()
	store, err := journal.Open(cfg)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	h, err := New(cfg, logging.NewNop(), store, "test-run", filepath.Join(cfg.Paths.LogDir, "vellum.log"))
	if err != nil {
		store.Close()
		t.Fatalf("new host: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHostLifecycleSpawn(t *testing.T) {
	cfg := spawnConfig(t)
	h := newHost(t, cfg)
	ctx := context.Background()

	if err := h.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.Start(ctx); !errors.Is(err, ErrEngineRunning) {
		t.Fatalf("second start = %v, want ErrEngineRunning", err)
	}

	status := h.Status(ctx)
	if !status.Running {
		t.Fatal("host not running after start")
	}
	sess := status.Session
	if sess == nil {
		t.Fatal("status has no session")
	}
	if sess.Transport != journal.TransportSpawn {
		t.Fatalf("transport = %q", sess.Transport)
	}
	if sess.ChannelID != 9 || sess.EngineVersion != "0.11.3" {
		t.Fatalf("handshake fields = (%d, %q)", sess.ChannelID, sess.EngineVersion)
	}
	if sess.EnginePID <= 0 {
		t.Fatalf("engine pid = %d", sess.EnginePID)
	}
	if !sess.UIAttached || sess.UIWidth != 80 || sess.UIHeight != 24 {
		t.Fatalf("ui state = attached=%v %dx%d", sess.UIAttached, sess.UIWidth, sess.UIHeight)
	}

	// The stub answers the default ui attach with one redraw burst.
	waitFor(t, "redraw batch", func() bool {
		return h.Status(ctx).Session.RedrawBatches >= 1
	})
	if got := h.Status(ctx).Session.RedrawEvents; got < 2 {
		t.Fatalf("redraw events = %d, want at least 2", got)
	}

	result, err := h.CallMethod(ctx, "nvim_eval", []any{"2+2"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if n, ok := result.(int64); !ok || n != 4 {
		t.Fatalf("eval result = %#v, want 4", result)
	}

	sessionID := sess.ID
	h.Stop()

	status = h.Status(ctx)
	if status.Running || status.Session != nil {
		t.Fatalf("status after stop = running=%v session=%v", status.Running, status.Session)
	}
	if status.LastEnd == nil {
		t.Fatal("no end state after stop")
	}
	if status.LastEnd.Reason != "stopped by host" {
		t.Fatalf("end reason = %q", status.LastEnd.Reason)
	}
	if status.LastEnd.ExitCode == nil || *status.LastEnd.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0", status.LastEnd.ExitCode)
	}

	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen the journal to check what the session left behind.
	store, err := journal.Open(cfg)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer store.Close()

	recorded, err := store.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get recorded session: %v", err)
	}
	if recorded == nil {
		t.Fatal("session not journaled")
	}
	if recorded.Active() {
		t.Fatal("journaled session still marked active")
	}
	if recorded.ChannelID != 9 || recorded.EngineVersion != "0.11.3" {
		t.Fatalf("journaled handshake = (%d, %q)", recorded.ChannelID, recorded.EngineVersion)
	}
	if recorded.EnginePID != int64(sess.EnginePID) {
		t.Fatalf("journaled pid = %d, want %d", recorded.EnginePID, sess.EnginePID)
	}
	if recorded.EndReason != "stopped by host" {
		t.Fatalf("journaled end reason = %q", recorded.EndReason)
	}

	messages, err := store.RecentMessages(ctx, sessionID, 0)
	if err != nil {
		t.Fatalf("recorded messages: %v", err)
	}
	var methods []string
	for _, msg := range messages {
		methods = append(methods, msg.Direction+" "+msg.Kind+" "+msg.Method)
	}
	joined := strings.Join(methods, "\n")
	for _, want := range []string{
		"outbound request nvim_get_api_info",
		"inbound response nvim_get_api_info",
		"outbound request nvim_ui_attach",
		"inbound notification redraw",
		"outbound request nvim_eval",
		"inbound response nvim_eval",
		"outbound request nvim_command",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("journal missing %q in:\n%s", want, joined)
		}
	}
}

func TestHostSocketSession(t *testing.T) {
	cfg := socketConfig(t)
	h := newHost(t, cfg)
	ctx := context.Background()

	if err := h.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	status := h.Status(ctx)
	if status.Session.Transport != journal.TransportSocket {
		t.Fatalf("transport = %q", status.Session.Transport)
	}
	if status.Session.EnginePID != 0 {
		t.Fatalf("socket session has engine pid %d", status.Session.EnginePID)
	}
	firstID := status.Session.ID

	// Engine-side quit: the stub closes the socket, the session tears down.
	if err := h.QuitEngine(true); err != nil {
		t.Fatalf("quit: %v", err)
	}
	waitFor(t, "session teardown", func() bool {
		return !h.Status(ctx).Running
	})
	waitFor(t, "end bookkeeping", func() bool {
		return h.Status(ctx).LastEnd != nil
	})
	if reason := h.Status(ctx).LastEnd.Reason; reason != "engine closed connection" {
		t.Fatalf("end reason = %q", reason)
	}
	if _, err := h.CallMethod(ctx, "nvim_eval", []any{"1"}); !errors.Is(err, ErrEngineNotRunning) {
		t.Fatalf("call on dead session = %v, want ErrEngineNotRunning", err)
	}

	// A fresh session replaces the dead one.
	if err := h.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	status = h.Status(ctx)
	if !status.Running {
		t.Fatal("not running after restart")
	}
	if status.Session.ID == firstID {
		t.Fatal("restart reused the session id")
	}

	h.Stop()
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err := journal.Open(cfg)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer store.Close()
	sessions, err := store.Sessions(ctx, 0)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("journaled %d sessions, want 2", len(sessions))
	}
	for _, recorded := range sessions {
		if recorded.Active() {
			t.Fatalf("session %s still marked active", recorded.ID)
		}
	}
}

func TestHostSingleInstance(t *testing.T) {
	cfg := socketConfig(t)
	first := newHost(t, cfg)
	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}

	secondCfg := *cfg
	secondCfg.Journal.Path = filepath.Join(t.TempDir(), "vellum.db")
	second := newHost(t, &secondCfg)
	err := second.Start(ctx)
	if err == nil {
		t.Fatal("second host acquired the same instance lock")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("second start error = %v", err)
	}

	first.Stop()
	// The lock is free again once the first host stopped.
	if err := second.Start(ctx); err != nil {
		t.Fatalf("start after release: %v", err)
	}
	second.Stop()
}

func TestHostStartFailureReleasesLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Engine.Socket = filepath.Join(cfg.Paths.RuntimeDir, "missing.sock")
	h := newHost(t, cfg)
	ctx := context.Background()

	if err := h.Start(ctx); err == nil {
		t.Fatal("start against a missing socket succeeded")
	}

	// The failed start must not leave the instance lock held.
	socket := filepath.Join(cfg.Paths.RuntimeDir, "engine.sock")
	testsupport.ListenStubEngine(t, socket)
	cfg.Engine.Socket = socket
	if err := h.Start(ctx); err != nil {
		t.Fatalf("start after failure: %v", err)
	}
	h.Stop()
}

func TestHostOpsWithoutSession(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	h := newHost(t, cfg)
	ctx := context.Background()

	if _, err := h.CallMethod(ctx, "nvim_eval", nil); !errors.Is(err, ErrEngineNotRunning) {
		t.Fatalf("call = %v, want ErrEngineNotRunning", err)
	}
	if err := h.AttachUI(0, 0); !errors.Is(err, ErrEngineNotRunning) {
		t.Fatalf("attach = %v, want ErrEngineNotRunning", err)
	}
	if err := h.Input("gg"); !errors.Is(err, ErrEngineNotRunning) {
		t.Fatalf("input = %v, want ErrEngineNotRunning", err)
	}
	// Stop with nothing running is a no-op.
	h.Stop()
	status := h.Status(ctx)
	if status.Running || status.Session != nil {
		t.Fatalf("idle status = %+v", status)
	}
	if status.HostPID != os.Getpid() {
		t.Fatalf("host pid = %d", status.HostPID)
	}
}

func TestBuildArgs(t *testing.T) {
	args, err := buildArgs([]any{"x", float64(3), true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if args.Len() != 3 {
		t.Fatalf("len = %d", args.Len())
	}
	if _, err := buildArgs([]any{struct{}{}}); err == nil {
		t.Fatal("struct argument accepted")
	}
	empty, err := buildArgs(nil)
	if err != nil || empty != nil {
		t.Fatalf("empty args = (%v, %v)", empty, err)
	}
}

func TestUIOptionPairsStableOrder(t *testing.T) {
	pairs := uiOptionPairs(map[string]bool{"rgb": true, "ext_linegrid": true, "ext_popupmenu": false})
	var keys []string
	for _, pair := range pairs {
		keys = append(keys, pair.Key)
	}
	want := []string{"ext_linegrid", "ext_popupmenu", "rgb"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Fatalf("order = %v, want %v", keys, want)
	}
	if uiOptionPairs(nil) != nil {
		t.Fatal("nil map should yield nil pairs")
	}
}

func TestPreviewTruncates(t *testing.T) {
	if got := preview(nil); got != "" {
		t.Fatalf("nil preview = %q", got)
	}
	long := strings.Repeat("x", previewLimit+50)
	got := preview(long)
	if len(got) != previewLimit+3 || !strings.HasSuffix(got, "...") {
		t.Fatalf("long preview len = %d", len(got))
	}
}
