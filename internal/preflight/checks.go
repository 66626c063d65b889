package preflight

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"vellum/internal/config"
	"vellum/internal/deps"
)

// maxSocketPath is the portable sun_path capacity, minus the terminator.
const maxSocketPath = 103

// engineProbeTimeout bounds the --version exec during preflight.
const engineProbeTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSocketPath verifies that a unix socket path fits in sockaddr_un.
// Binding or connecting to a longer path fails with EINVAL at runtime,
// so surface the problem before any session starts.
func CheckSocketPath(name, path string) Result {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return Result{Name: name, Detail: "socket path is empty"}
	}
	if len(trimmed) > maxSocketPath {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: exceeds %d bytes)", trimmed, maxSocketPath)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d bytes)", trimmed, len(trimmed))}
}

// CheckEngineRuns resolves the engine binary and asks it for its version.
// A binary that cannot print --version will not survive an embedded launch
// either, so this catches broken installs before a session is attempted.
func CheckEngineRuns(ctx context.Context, binary string) Result {
	const name = "Engine"

	status := deps.CheckEngine(binary)
	if !status.Available {
		return Result{Name: name, Detail: status.Detail}
	}

	probeCtx, cancel := context.WithTimeout(ctx, engineProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(probeCtx, status.Command, "--version").Output()
	if err != nil {
		if errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (version probe timed out)", status.Command)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: version probe: %v)", status.Command, err)}
	}

	version := firstLine(out)
	if version == "" {
		version = "version unknown"
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", status.Command, version)}
}

// CheckSystemDeps evaluates the external binaries for the given config.
// Both the host daemon and the CLI status command use this to avoid
// duplicating the requirements list.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	engine := deps.CheckEngine(cfg.Engine.Binary)
	engine.Description = "Editor engine launched for embedded sessions"
	if strings.TrimSpace(cfg.Engine.Socket) != "" {
		engine.Optional = true
		engine.Description = "Unused while an engine socket is configured"
	}
	return []deps.Status{engine}
}

func firstLine(out []byte) string {
	line, _, _ := bytes.Cut(out, []byte("\n"))
	return strings.TrimSpace(string(line))
}
