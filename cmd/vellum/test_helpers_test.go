package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"vellum/internal/config"
	"vellum/internal/host"
	"vellum/internal/ipc"
	"vellum/internal/journal"
	"vellum/internal/logging"
	"vellum/internal/testsupport"
)

// syncBuffer is a thread-safe wrapper around bytes.Buffer for use in tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var _ io.Writer = (*syncBuffer)(nil)

type cliTestEnv struct {
	cfg        *config.Config
	store      *journal.Store
	host       *host.Host
	server     *ipc.Server
	hub        *logging.StreamHub
	socketPath string
	configPath string
	logPath    string
	cancel     context.CancelFunc
}

// setupCLITestEnv brings up a real host with an ipc server and a stub engine
// behind a config file, so commands run through the same path a user would.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("XDG_STATE_HOME", "")

	cfg := testsupport.NewConfig(t)
	engineSocket := filepath.Join(cfg.Paths.RuntimeDir, "engine.sock")
	testsupport.ListenStubEngine(t, engineSocket)
	cfg.Engine.Socket = engineSocket

	logPath := filepath.Join(cfg.Paths.LogDir, "vellum-test.log")
	if err := os.WriteFile(logPath, nil, 0o644); err != nil {
		t.Fatalf("create log file: %v", err)
	}

	configPath := filepath.Join(homeDir, ".config", "vellum", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	store, err := journal.Open(cfg)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	logger := logging.NewNop()
	h, err := host.New(cfg, logger, store, "cli-test-run", logPath)
	if err != nil {
		t.Fatalf("host.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := cfg.ControlSocketPath()
	var srv *ipc.Server
	srv, err = ipc.NewServer(ctx, socketPath, h, logger, func() {
		srv.Close()
	})
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	hub := logging.NewStreamHub(256)
	srv.SetEventStream(hub, nil)
	srv.Serve()

	env := &cliTestEnv{
		cfg:        cfg,
		store:      store,
		host:       h,
		server:     srv,
		hub:        hub,
		socketPath: socketPath,
		configPath: configPath,
		logPath:    logPath,
		cancel:     cancel,
	}

	t.Cleanup(func() {
		cancel()
		srv.Close()
		h.Close()
	})

	return env
}

// startSession connects the host to the stub engine directly, for tests that
// exercise engine commands without going through `start`.
func (env *cliTestEnv) startSession(t *testing.T) {
	t.Helper()
	if err := env.host.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	argv := args
	if configPath != "" {
		argv = append([]string{"--config", configPath}, args...)
	}
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(argv)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
log_dir = %q
runtime_dir = %q

[engine]
socket = %q

[ui]
width = %d
height = %d

[journal]
enabled = %t
path = %q

[logging]
level = "debug"
format = "console"
`,
		cfg.Paths.LogDir,
		cfg.Paths.RuntimeDir,
		cfg.Engine.Socket,
		cfg.UI.Width,
		cfg.UI.Height,
		cfg.Journal.Enabled,
		cfg.Journal.Path,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	giveUp := time.After(timeout)
	for {
		if fn() {
			return
		}
		select {
		case <-giveUp:
			t.Fatalf("condition not met within %s", timeout)
		case <-tick.C:
		}
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("missing %q in output:\n%s", substr, output)
	}
}
