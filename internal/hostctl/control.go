package hostctl

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"vellum/internal/config"
	"vellum/internal/ipc"
)

// ErrHostNotRunning indicates the control socket is unavailable.
var ErrHostNotRunning = errors.New("host not running")

// StopResult captures host stop/termination outcome.
type StopResult struct {
	ShutdownAcknowledged bool
	ForcedKill           bool
	PID                  int
}

// RestartResult captures stop/start outcomes for host restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// isHostUnavailable reports dial failures that mean "no host", as opposed to
// a host that exists but misbehaves.
func isHostUnavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// WaitForShutdown waits for the control socket to disappear or report not-running.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	err := pollUntil(timeout, func() (bool, error) {
		client, dialErr := ipc.Dial(socketPath)
		if dialErr != nil {
			if isHostUnavailable(dialErr) {
				return true, nil
			}
			return false, dialErr
		}
		client.Close()
		return false, errors.New("host still running")
	})
	if err != nil {
		return fmt.Errorf("host did not stop: %w", err)
	}
	return nil
}

// ProcessInfo returns whether the control socket is reachable and the host PID
// when available.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isHostUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()

	status, err := client.Status()
	switch {
	case err != nil:
		return true, 0, err
	case status == nil:
		return true, 0, nil
	default:
		return true, status.HostPID, nil
	}
}

// DeriveRuntimeDir determines the host runtime directory from status and
// config hints.
func DeriveRuntimeDir(lockPath string, cfg *config.Config) string {
	if lockPath != "" {
		return filepath.Dir(lockPath)
	}
	if cfg == nil {
		return ""
	}
	return strings.TrimSpace(cfg.Paths.RuntimeDir)
}

// pidFromFile reads a numeric pid, yielding 0 when the file is absent or
// holds nothing usable.
func pidFromFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read host pid file %q: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, nil
	}
	return pid, nil
}

// ForceKillProcess sends SIGKILL to the host process and cleans pid/lock files.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid, err := pidFromFile(pidPath)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		pid = fallbackPID
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine host pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill own process (pid %d)", pid)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate host process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill host process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return pid, nil
}

// StopAndTerminate asks the host to shut down and force-kills the process if
// it is still alive after gracePeriod.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isHostUnavailable(err) {
			return StopResult{}, ErrHostNotRunning
		}
		return StopResult{}, err
	}

	var result StopResult
	var lockPath string
	if status, statusErr := client.Status(); statusErr == nil && status != nil {
		lockPath = status.LockPath
		result.PID = status.HostPID
	}
	resp, err := client.Shutdown()
	client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result.ShutdownAcknowledged = resp != nil && resp.Terminating

	_ = WaitForShutdown(socketPath, gracePeriod)
	if alive, livePID := stillAlive(socketPath); alive {
		pid := livePID
		if pid == 0 {
			pid = result.PID
		}
		killed, killErr := forceTerminate(socketPath, lockPath, cfg, pid)
		if killErr != nil {
			return result, killErr
		}
		result.ForcedKill = true
		result.PID = killed
	}
	return result, nil
}

func stillAlive(socketPath string) (bool, int) {
	alive, pid, err := ProcessInfo(socketPath)
	if err != nil {
		return false, 0
	}
	return alive, pid
}

// forceTerminate resolves the runtime dir holding the pid and lock files,
// kills the host process, and removes the leftovers.
func forceTerminate(socketPath, lockPath string, cfg *config.Config, fallbackPID int) (int, error) {
	runtimeDir := DeriveRuntimeDir(lockPath, cfg)
	if runtimeDir == "" {
		return 0, errors.New("unable to determine host runtime directory")
	}
	killed, err := ForceKillProcess(
		filepath.Join(runtimeDir, "vellum.pid"),
		filepath.Join(runtimeDir, "vellum.lock"),
		fallbackPID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to stop host process: %w", err)
	}
	_ = os.Remove(socketPath)
	return killed, nil
}

// Restart stops the host if running, then ensures it is started.
func Restart(socketPath string, cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	var result RestartResult
	stop, err := StopAndTerminate(socketPath, cfg, stopGracePeriod)
	switch {
	case err == nil:
		result.WasRunning = true
		result.Stop = stop
	case errors.Is(err, ErrHostNotRunning):
	default:
		return RestartResult{}, err
	}

	start, err := EnsureStarted(socketPath, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}
	result.Start = start
	return result, nil
}
